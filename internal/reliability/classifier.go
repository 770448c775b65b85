package reliability

import (
	"context"
	"errors"
	"net"
)

// Provider error codes used as metric labels.
const (
	CodeRateLimited = "rate_limited"
	CodeAuth        = "auth"
	CodeBadRequest  = "bad_request"
	CodeUpstream    = "upstream"
	CodeTimeout     = "timeout"
	CodeCanceled    = "canceled"
	CodeNetwork     = "network"
	CodeEmpty       = "empty"
	CodeUnknown     = "unknown"
)

// ClassifyHTTPStatus maps an upstream HTTP status to an error code.
func ClassifyHTTPStatus(code int) string {
	switch {
	case code == 429:
		return CodeRateLimited
	case code == 401 || code == 403:
		return CodeAuth
	case code == 408 || code == 504:
		return CodeTimeout
	case code >= 500:
		return CodeUpstream
	case code >= 400:
		return CodeBadRequest
	default:
		return CodeUnknown
	}
}

// ClassifyError maps transport-level failures that carry no HTTP status.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	if errors.Is(err, context.Canceled) {
		return CodeCanceled
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CodeTimeout
		}
		return CodeNetwork
	}
	return CodeUnknown
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/tzevaot/internal/httpapi"
	"github.com/ent0n29/tzevaot/internal/observability"
)

type benchOptions struct {
	baseURL  string
	address  string
	turns    int
	texts    []string
	timeout  time.Duration
	interval time.Duration
	verbose  bool
}

var defaultBenchTexts = []string{
	"Who are the hosts?",
	"What do you remember about me?",
	"Tell me about the genesis pieces.",
	"Say something in two sentences.",
}

func newBenchCmd() *cobra.Command {
	opts := benchOptions{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Drive sequential chat turns against a running server and report latency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			client := &http.Client{Timeout: opts.timeout}
			return runBench(cmd.Context(), client, opts, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.baseURL, "url", "http://127.0.0.1:8080", "server base URL")
	f.StringVar(&opts.address, "address", "0xbench", "address to chat as")
	f.IntVar(&opts.turns, "turns", 5, "number of sequential chat turns")
	f.StringSliceVar(&opts.texts, "text", nil, "messages to cycle through")
	f.DurationVar(&opts.timeout, "timeout", 60*time.Second, "per-request timeout")
	f.DurationVar(&opts.interval, "interval", 0, "delay between turns")
	f.BoolVar(&opts.verbose, "verbose", false, "print every reply")
	return cmd
}

func (o *benchOptions) validate() error {
	o.baseURL = strings.TrimRight(strings.TrimSpace(o.baseURL), "/")
	if o.baseURL == "" {
		return errors.New("--url is required")
	}
	if o.turns <= 0 {
		return errors.New("--turns must be positive")
	}
	if len(o.texts) == 0 {
		o.texts = defaultBenchTexts
	}
	if o.timeout <= 0 {
		o.timeout = 60 * time.Second
	}
	return nil
}

type benchTurn struct {
	Status  int
	Latency time.Duration
	Reply   string
}

func runBench(ctx context.Context, client *http.Client, opts benchOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	turns := make([]benchTurn, 0, opts.turns)
	for i := 0; i < opts.turns; i++ {
		if i > 0 && opts.interval > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(opts.interval):
			}
		}
		text := opts.texts[i%len(opts.texts)]
		turn, err := sendBenchTurn(ctx, client, opts, text)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		turns = append(turns, turn)
		if opts.verbose {
			fmt.Fprintf(out, "turn %d status=%d latency=%s reply=%q\n", i+1, turn.Status, turn.Latency.Round(time.Millisecond), turn.Reply)
		}
	}

	summarizeBench(out, turns)

	snap, err := fetchStageSnapshot(ctx, client, opts.baseURL)
	if err != nil {
		fmt.Fprintf(out, "server stage snapshot unavailable: %v\n", err)
		return nil
	}
	for _, st := range snap.Stages {
		fmt.Fprintf(out, "stage %-8s samples=%-4d p50=%.2fms p95=%.2fms p99=%.2fms\n", st.Stage, st.Samples, st.P50MS, st.P95MS, st.P99MS)
	}
	for _, ind := range snap.Indicators {
		fmt.Fprintf(out, "indicator %s=%d\n", ind.Name, ind.Count)
	}
	return nil
}

func sendBenchTurn(ctx context.Context, client *http.Client, opts benchOptions, text string) (benchTurn, error) {
	body, err := json.Marshal(map[string]any{
		"address": opts.address,
		"message": text,
	})
	if err != nil {
		return benchTurn{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.baseURL+httpapi.ChatPath, bytes.NewReader(body))
	if err != nil {
		return benchTurn{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	res, err := client.Do(req)
	if err != nil {
		return benchTurn{}, err
	}
	defer res.Body.Close()
	var payload struct {
		Reply string `json:"reply"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return benchTurn{}, fmt.Errorf("decode response: %w", err)
	}
	latency := time.Since(started)
	if res.StatusCode != http.StatusOK && payload.Reply == "" {
		return benchTurn{}, fmt.Errorf("status %d: %s", res.StatusCode, payload.Error)
	}
	return benchTurn{Status: res.StatusCode, Latency: latency, Reply: payload.Reply}, nil
}

func summarizeBench(out io.Writer, turns []benchTurn) {
	if len(turns) == 0 {
		return
	}
	ms := make([]float64, 0, len(turns))
	degraded := 0
	for _, t := range turns {
		ms = append(ms, float64(t.Latency.Microseconds())/1000)
		if t.Status != http.StatusOK {
			degraded++
		}
	}
	sort.Float64s(ms)
	fmt.Fprintf(out, "turns=%d degraded=%d p50=%.2fms p95=%.2fms max=%.2fms\n",
		len(turns), degraded, percentile(ms, 0.50), percentile(ms, 0.95), ms[len(ms)-1])
}

// percentile uses nearest-rank on an already sorted slice.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q*float64(len(sorted))+0.999999) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func fetchStageSnapshot(ctx context.Context, client *http.Client, baseURL string) (observability.StageSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return observability.StageSnapshot{}, err
	}
	res, err := client.Do(req)
	if err != nil {
		return observability.StageSnapshot{}, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return observability.StageSnapshot{}, fmt.Errorf("status %d", res.StatusCode)
	}
	var snap observability.StageSnapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		return observability.StageSnapshot{}, err
	}
	return snap, nil
}

package ragctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"math"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var defaultLoadQueries = []string{
	"연차 휴가 신청 방법",
	"재택근무 규정",
	"경비 정산 절차",
	"보안 교육 일정",
	"신규 입사자 온보딩",
	"출장비 한도",
	"복리후생 제도",
	"성과 평가 기준",
	"remote work policy",
	"expense report deadline",
}

// LoadConfig drives RunLoad.
type LoadConfig struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Limit       int
	Queries     []string
}

// LoadReport summarizes a load run. Modes counts responses by the
// search_type the engine reported.
type LoadReport struct {
	Requests  int
	Succeeded int
	Failed    int
	Elapsed   time.Duration
	Latencies []time.Duration
	Codes     map[int]int
	Modes     map[string]int
}

func (r *LoadReport) record(latency time.Duration, code int, mode string, err error) {
	r.Requests++
	if err != nil {
		r.Failed++
		return
	}
	r.Latencies = append(r.Latencies, latency)
	r.Codes[code]++
	if code >= 200 && code < 300 {
		r.Succeeded++
		r.Modes[mode]++
	} else {
		r.Failed++
	}
}

// Percentile reads p from the sorted latencies.
func (r *LoadReport) Percentile(p float64) time.Duration {
	if len(r.Latencies) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(r.Latencies)))) - 1
	return r.Latencies[min(max(idx, 0), len(r.Latencies)-1)]
}

// RunLoad sends search requests from cfg.Concurrency workers until
// cfg.Duration elapses or ctx is done.
func RunLoad(ctx context.Context, cfg LoadConfig) (*LoadReport, error) {
	if len(cfg.Queries) == 0 {
		cfg.Queries = defaultLoadQueries
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/api/v1/search")
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var (
		mu     sync.Mutex
		report = &LoadReport{Codes: map[int]int{}, Modes: map[string]int{}}
	)
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for w := range cfg.Concurrency {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				q := base.Query()
				q.Set("q", cfg.Queries[i%len(cfg.Queries)])
				if cfg.Limit > 0 {
					q.Set("limit", fmt.Sprint(cfg.Limit))
				}
				u := *base
				u.RawQuery = q.Encode()

				began := time.Now()
				code, mode, err := searchOnce(ctx, client, u.String())
				if ctx.Err() != nil {
					return nil
				}
				mu.Lock()
				report.record(time.Since(began), code, mode, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	report.Elapsed = time.Since(start)
	slices.Sort(report.Latencies)
	return report, nil
}

func searchOnce(ctx context.Context, client *http.Client, rawURL string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	var body struct {
		Mode string `json:"search_type"`
	}
	if resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(&body)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, body.Mode, nil
}

func (a *app) loadtestCmd() *cobra.Command {
	var (
		cfg         LoadConfig
		queriesFile string
	)
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive the search API with concurrent queries and report latency",
		Args:  cobra.NoArgs,
		// Talks to a running searcher over HTTP; nothing to open locally.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			if queriesFile != "" {
				data, err := os.ReadFile(queriesFile)
				if err != nil {
					return fmt.Errorf("failed to read queries: %w", err)
				}
				for _, line := range strings.Split(string(data), "\n") {
					if line = strings.TrimSpace(line); line != "" {
						cfg.Queries = append(cfg.Queries, line)
					}
				}
			}
			cmd.Printf("Target %s, %d workers for %s\n", cfg.BaseURL, cfg.Concurrency, cfg.Duration)
			report, err := RunLoad(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			printLoadReport(cmd, report)
			if report.Requests == 0 {
				return fmt.Errorf("no requests completed, is the searcher running at %s", cfg.BaseURL)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "url", "http://localhost:8081", "base URL of the search service")
	cmd.Flags().IntVarP(&cfg.Concurrency, "concurrency", "c", 10, "concurrent workers")
	cmd.Flags().DurationVarP(&cfg.Duration, "duration", "d", 30*time.Second, "test duration")
	cmd.Flags().IntVar(&cfg.Limit, "limit", 10, "results per query")
	cmd.Flags().StringVar(&queriesFile, "queries", "", "file with one query per line")
	return cmd
}

func printLoadReport(cmd *cobra.Command, r *LoadReport) {
	cmd.Printf("\nRequests:  %d (%d ok, %d failed)\n", r.Requests, r.Succeeded, r.Failed)
	if r.Elapsed > 0 {
		cmd.Printf("Rate:      %.1f req/s\n", float64(r.Requests)/r.Elapsed.Seconds())
	}
	if len(r.Latencies) > 0 {
		cmd.Printf("Latency:   p50 %s  p90 %s  p99 %s  max %s\n",
			r.Percentile(50), r.Percentile(90), r.Percentile(99), r.Latencies[len(r.Latencies)-1])
	}
	for _, code := range slices.Sorted(maps.Keys(r.Codes)) {
		cmd.Printf("  HTTP %d: %d\n", code, r.Codes[code])
	}
	for _, mode := range slices.Sorted(maps.Keys(r.Modes)) {
		cmd.Printf("  %s: %d\n", mode, r.Modes[mode])
	}
}

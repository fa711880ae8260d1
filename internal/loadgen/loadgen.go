// Package loadgen drives paced synthetic traffic against a running Sieve
// server so the limiter, cache and activity stream can be watched under load.
package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"
)

// Identity selection patterns.
const (
	// PatternSteady spreads requests evenly over all identities.
	PatternSteady = "steady"
	// PatternHot sends most requests from the first identity, so it hits its limit.
	PatternHot = "hot"
)

// DefaultPrompts is the prompt pool used when none is configured. The small
// pool makes repeats, and therefore cache hits, likely.
var DefaultPrompts = []string{
	"What is a sliding window rate limiter?",
	"Explain cache-aside in one paragraph.",
	"Summarise the benefits of capped logs.",
	"How does Redis expire keys?",
	"Write a haiku about backpressure.",
}

// Options configures a run.
type Options struct {
	BaseURL     string
	Rate        int // requests per second
	Requests    int // total requests to send
	Concurrency int
	Identities  int
	Pattern     string
	Prompts     []string
	Client      *http.Client
	Logger      zerolog.Logger
}

// Summary counts run outcomes.
type Summary struct {
	Sent     int64         `json:"sent"`
	Admitted int64         `json:"admitted"`
	Rejected int64         `json:"rejected"`
	Cached   int64         `json:"cached"`
	Errors   int64         `json:"errors"`
	Elapsed  time.Duration `json:"elapsed"`
}

func (s Summary) String() string {
	return fmt.Sprintf("sent=%d admitted=%d rejected=%d cached=%d errors=%d elapsed=%s",
		s.Sent, s.Admitted, s.Rejected, s.Cached, s.Errors, s.Elapsed.Round(time.Millisecond))
}

type job struct {
	identity string
	prompt   string
}

// Run sends opts.Requests requests at opts.Rate per second and blocks until
// they finish or ctx is done.
func Run(ctx context.Context, opts Options) (Summary, error) {
	if err := normalize(&opts); err != nil {
		return Summary{}, err
	}

	var (
		sent, admitted, rejected, cached, failed atomic.Int64
		wg                                       sync.WaitGroup
	)
	jobs := make(chan job)
	url := strings.TrimSuffix(opts.BaseURL, "/") + "/api/generate"

	for i := 0; i < opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				sent.Add(1)
				status, hit, err := send(ctx, opts.Client, url, j)
				switch {
				case err != nil:
					failed.Add(1)
					opts.Logger.Debug().Err(err).Str("identity", j.identity).Msg("request failed")
				case status == http.StatusTooManyRequests:
					rejected.Add(1)
				case status == http.StatusOK:
					admitted.Add(1)
					if hit {
						cached.Add(1)
					}
				default:
					failed.Add(1)
					opts.Logger.Debug().Int("status", status).Str("identity", j.identity).Msg("unexpected status")
				}
			}
		}()
	}

	start := time.Now()
	pacer := ratelimit.New(opts.Rate)
feed:
	for i := 0; i < opts.Requests; i++ {
		pacer.Take()
		select {
		case <-ctx.Done():
			break feed
		case jobs <- nextJob(opts):
		}
	}
	close(jobs)
	wg.Wait()

	s := Summary{
		Sent:     sent.Load(),
		Admitted: admitted.Load(),
		Rejected: rejected.Load(),
		Cached:   cached.Load(),
		Errors:   failed.Load(),
		Elapsed:  time.Since(start),
	}
	opts.Logger.Info().
		Int64("sent", s.Sent).
		Int64("admitted", s.Admitted).
		Int64("rejected", s.Rejected).
		Int64("cached", s.Cached).
		Int64("errors", s.Errors).
		Dur("elapsed", s.Elapsed).
		Msg("load run finished")
	return s, ctx.Err()
}

func normalize(opts *Options) error {
	if opts.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if opts.Rate <= 0 {
		return fmt.Errorf("rate must be positive, got %d", opts.Rate)
	}
	if opts.Requests <= 0 {
		return fmt.Errorf("requests must be positive, got %d", opts.Requests)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Identities <= 0 {
		opts.Identities = 3
	}
	switch opts.Pattern {
	case "":
		opts.Pattern = PatternSteady
	case PatternSteady, PatternHot:
	default:
		return fmt.Errorf("unknown pattern %q, must be one of: steady, hot", opts.Pattern)
	}
	if len(opts.Prompts) == 0 {
		opts.Prompts = DefaultPrompts
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	return nil
}

func nextJob(opts Options) job {
	n := rand.IntN(opts.Identities)
	if opts.Pattern == PatternHot && rand.IntN(10) < 8 {
		n = 0
	}
	return job{
		identity: fmt.Sprintf("load-client-%d", n+1),
		prompt:   opts.Prompts[rand.IntN(len(opts.Prompts))],
	}
}

func send(ctx context.Context, client *http.Client, url string, j job) (status int, cached bool, err error) {
	body, err := json.Marshal(map[string]string{"prompt": j.prompt})
	if err != nil {
		return 0, false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Client-ID", j.identity)

	resp, err := client.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, false, nil
	}
	var out struct {
		Cached bool `json:"cached"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return resp.StatusCode, false, fmt.Errorf("decoding response: %w", err)
	}
	return resp.StatusCode, out.Cached, nil
}

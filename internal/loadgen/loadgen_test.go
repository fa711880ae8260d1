package loadgen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeServer admits three requests per identity and reports every repeat
// prompt as cached.
func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	var (
		mu     sync.Mutex
		counts = map[string]int{}
		seen   = map[string]bool{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}

		mu.Lock()
		id := r.Header.Get("X-Client-ID")
		counts[id]++
		over := counts[id] > 3
		cached := seen[body.Prompt]
		seen[body.Prompt] = true
		mu.Unlock()

		if over {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"cached": cached, "response": "ok"})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun(t *testing.T) {
	srv := fakeServer(t)

	s, err := Run(context.Background(), Options{
		BaseURL:     srv.URL,
		Rate:        1000,
		Requests:    20,
		Concurrency: 1,
		Identities:  1,
		Prompts:     []string{"only prompt"},
	})
	require.NoError(t, err)
	require.EqualValues(t, 20, s.Sent)
	require.EqualValues(t, 3, s.Admitted)
	require.EqualValues(t, 17, s.Rejected)
	require.EqualValues(t, 2, s.Cached)
	require.Zero(t, s.Errors)
	require.Contains(t, s.String(), "sent=20")
}

func TestRun_CountsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := Run(context.Background(), Options{BaseURL: srv.URL, Rate: 1000, Requests: 5})
	require.NoError(t, err)
	require.EqualValues(t, 5, s.Errors)
}

func TestRun_InvalidOptions(t *testing.T) {
	tests := []Options{
		{Rate: 10, Requests: 1},
		{BaseURL: "http://x", Requests: 1},
		{BaseURL: "http://x", Rate: 10},
		{BaseURL: "http://x", Rate: 10, Requests: 1, Pattern: "spiky"},
	}
	for _, opts := range tests {
		_, err := Run(context.Background(), opts)
		require.Error(t, err)
	}
}

func TestNextJob_HotPatternConcentrates(t *testing.T) {
	opts := Options{Identities: 5, Pattern: PatternHot, Prompts: DefaultPrompts}
	hot := 0
	for i := 0; i < 1000; i++ {
		if nextJob(opts).identity == "load-client-1" {
			hot++
		}
	}
	require.Greater(t, hot, 700)
}

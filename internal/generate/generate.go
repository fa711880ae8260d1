// Package generate simulates the expensive downstream operation that Sieve
// protects: a text generator with noticeable, variable latency.
package generate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/SmitUplenchwar2687/Sieve/internal/clock"
)

// ErrEmptyPrompt is returned for a blank prompt.
var ErrEmptyPrompt = errors.New("generate: prompt must not be empty")

// Generator produces a simulated answer after a random delay in
// [MinLatency, MaxLatency], measured on its clock.
type Generator struct {
	clock      clock.Clock
	minLatency time.Duration
	maxLatency time.Duration
}

// New creates a Generator. A max below min is raised to min.
func New(clk clock.Clock, minLatency, maxLatency time.Duration) *Generator {
	if clk == nil {
		clk = clock.NewReal()
	}
	if minLatency < 0 {
		minLatency = 0
	}
	if maxLatency < minLatency {
		maxLatency = minLatency
	}
	return &Generator{clock: clk, minLatency: minLatency, maxLatency: maxLatency}
}

// Generate waits out the simulated latency and returns an answer derived
// from the prompt. The same prompt always yields the same answer.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", ErrEmptyPrompt
	}

	if d := g.latency(); d > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-g.clock.After(d):
		}
	}
	return answer(prompt), nil
}

func (g *Generator) latency() time.Duration {
	spread := g.maxLatency - g.minLatency
	if spread <= 0 {
		return g.minLatency
	}
	return g.minLatency + rand.N(spread+1)
}

func answer(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("Simulated response to %q (ref %s). Served by the generation backend.",
		prompt, hex.EncodeToString(sum[:4]))
}

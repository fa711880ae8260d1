// Package gateway composes the admission limiter, response cache and
// activity log into the per-request flow in front of the generator.
//
// The three primitives never call one another; only Gateway does.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/SmitUplenchwar2687/Sieve/internal/activity"
	"github.com/SmitUplenchwar2687/Sieve/internal/admission"
	"github.com/SmitUplenchwar2687/Sieve/internal/clock"
	"github.com/SmitUplenchwar2687/Sieve/internal/respcache"
)

// ErrEmptyPrompt is returned by Process for a blank prompt.
var ErrEmptyPrompt = errors.New("gateway: prompt must not be empty")

// Generator produces a result for a prompt on a cache miss.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Publisher receives every activity event Gateway appends.
type Publisher interface {
	Publish(ev activity.Event)
}

// Request is one caller request.
type Request struct {
	Identity string `json:"identity"`
	Prompt   string `json:"prompt"`
}

// Response is the outcome of Process. Result is empty when the request was
// rejected.
type Response struct {
	Decision admission.Decision `json:"rateLimit"`
	Result   string             `json:"response,omitempty"`
	Cached   bool               `json:"cached"`
	Latency  time.Duration      `json:"-"`
}

// Gateway runs the admission, cache and generation flow.
type Gateway struct {
	limiter   *admission.Limiter
	cache     *respcache.Cache
	log       *activity.Log
	generator Generator
	publisher Publisher
	logger    zerolog.Logger
	clock     clock.Clock

	limit    int
	window   time.Duration
	cacheTTL time.Duration
	sample   int
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithPublisher fans appended events out to p.
func WithPublisher(p Publisher) Option {
	return func(g *Gateway) {
		g.publisher = p
	}
}

// WithClock sets the clock generation latency is measured on.
func WithClock(c clock.Clock) Option {
	return func(g *Gateway) {
		g.clock = c
	}
}

// WithLogger sets the request logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithLimit sets the admission limit and window. Zero values keep the
// limiter's defaults.
func WithLimit(limit int, window time.Duration) Option {
	return func(g *Gateway) {
		g.limit = limit
		g.window = window
	}
}

// WithCacheTTL sets the TTL of stored responses. Zero uses the cache default.
func WithCacheTTL(ttl time.Duration) Option {
	return func(g *Gateway) {
		g.cacheTTL = ttl
	}
}

// WithConsumerSample sets how many identities Snapshot inspects.
func WithConsumerSample(n int) Option {
	return func(g *Gateway) {
		g.sample = n
	}
}

// New creates a Gateway.
func New(lim *admission.Limiter, cache *respcache.Cache, log *activity.Log, gen Generator, opts ...Option) (*Gateway, error) {
	if lim == nil || cache == nil || log == nil || gen == nil {
		return nil, fmt.Errorf("limiter, cache, activity log and generator are required")
	}
	g := &Gateway{
		limiter:   lim,
		cache:     cache,
		log:       log,
		generator: gen,
		logger:    zerolog.Nop(),
		clock:     clock.NewReal(),
		limit:     lim.DefaultLimit(),
		window:    lim.DefaultWindow(),
		sample:    admission.DefaultSample,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.clock == nil {
		g.clock = clock.NewReal()
	}
	if g.limit <= 0 {
		g.limit = lim.DefaultLimit()
	}
	if g.window <= 0 {
		g.window = lim.DefaultWindow()
	}
	return g, nil
}

// Limit is the admission limit applied per identity.
func (g *Gateway) Limit() int { return g.limit }

// Window is the admission window.
func (g *Gateway) Window() time.Duration { return g.window }

// Process handles one request: it records the request, checks admission,
// then serves from the cache or generates and stores a fresh result.
//
// A rejected request is not an error; check Response.Decision.Admitted.
// Errors are returned only for invalid requests and failed generation.
func (g *Gateway) Process(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Response{}, ErrEmptyPrompt
	}

	g.record(ctx, activity.Event{
		Category:       activity.CategoryRequest,
		Identity:       req.Identity,
		PayloadExcerpt: req.Prompt,
	})

	decision, err := g.limiter.Check(ctx, req.Identity, g.limit, g.window)
	if err != nil {
		return Response{}, err
	}
	if !decision.Admitted {
		g.record(ctx, activity.Event{
			Category:       activity.CategoryRejected,
			Identity:       req.Identity,
			PayloadExcerpt: req.Prompt,
			Blocked:        activity.Bool(true),
		})
		g.logger.Debug().Str("identity", req.Identity).Time("reset_at", decision.ResetAt).Msg("request rejected")
		return Response{Decision: decision}, nil
	}

	if hit := g.cache.Lookup(ctx, req.Prompt); hit.Hit {
		g.record(ctx, activity.Event{
			Category:       activity.CategoryAdmittedHit,
			Identity:       req.Identity,
			PayloadExcerpt: req.Prompt,
			Cached:         activity.Bool(true),
			Blocked:        activity.Bool(false),
		})
		return Response{Decision: decision, Result: hit.Value, Cached: true}, nil
	}

	start := g.clock.Now()
	result, err := g.generator.Generate(ctx, req.Prompt)
	if err != nil {
		return Response{}, fmt.Errorf("generating response: %w", err)
	}
	latency := g.clock.Now().Sub(start)

	g.cache.Store(ctx, req.Prompt, result, g.cacheTTL)
	g.record(ctx, activity.Event{
		Category:       activity.CategoryAdmittedMiss,
		Identity:       req.Identity,
		PayloadExcerpt: req.Prompt,
		Cached:         activity.Bool(false),
		Blocked:        activity.Bool(false),
	})
	g.logger.Debug().Str("identity", req.Identity).Dur("latency", latency).Msg("response generated")

	return Response{Decision: decision, Result: result, Latency: latency}, nil
}

func (g *Gateway) record(ctx context.Context, ev activity.Event) {
	appended := g.log.Append(ctx, ev)
	if g.publisher != nil {
		g.publisher.Publish(appended.Event)
	}
}

// Snapshot is a point-in-time view of the gateway's state.
type Snapshot struct {
	Cache        respcache.Stats      `json:"cache"`
	TopConsumers []admission.Consumer `json:"topConsumers"`
	Recent       []activity.Event     `json:"recentActivity"`
}

// Snapshot gathers cache statistics, the top consumers and the most recent
// activity. Store failures leave the affected part empty.
func (g *Gateway) Snapshot(ctx context.Context) Snapshot {
	top, _ := g.limiter.TopConsumers(ctx, g.sample)
	return Snapshot{
		Cache:        g.cache.Stats(ctx),
		TopConsumers: top,
		Recent:       g.log.Recent(ctx, 0).Events,
	}
}

// Stats returns the cache statistics.
func (g *Gateway) Stats(ctx context.Context) respcache.Stats {
	return g.cache.Stats(ctx)
}

// TopConsumers returns the heaviest identities.
func (g *Gateway) TopConsumers(ctx context.Context) []admission.Consumer {
	top, _ := g.limiter.TopConsumers(ctx, g.sample)
	return top
}

// Recent returns up to count recent events, newest first.
func (g *Gateway) Recent(ctx context.Context, count int) []activity.Event {
	return g.log.Recent(ctx, count).Events
}

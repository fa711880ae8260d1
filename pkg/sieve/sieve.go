// Package sieve is the public entry point for embedding Sieve: it builds the
// store, the three primitives, the gateway and the HTTP server from one
// configuration.
package sieve

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/SmitUplenchwar2687/Sieve/internal/activity"
	"github.com/SmitUplenchwar2687/Sieve/internal/admission"
	"github.com/SmitUplenchwar2687/Sieve/internal/clock"
	"github.com/SmitUplenchwar2687/Sieve/internal/config"
	"github.com/SmitUplenchwar2687/Sieve/internal/gateway"
	"github.com/SmitUplenchwar2687/Sieve/internal/generate"
	"github.com/SmitUplenchwar2687/Sieve/internal/respcache"
	"github.com/SmitUplenchwar2687/Sieve/internal/server"
	"github.com/SmitUplenchwar2687/Sieve/internal/store"
)

type (
	// Config is the top-level Sieve configuration.
	Config = config.Config
	// Store is the key-value contract the primitives run on.
	Store = store.Store
	// Clock abstracts time; VirtualClock makes it controllable in tests.
	Clock        = clock.Clock
	VirtualClock = clock.Virtual

	Decision = admission.Decision
	Consumer = admission.Consumer
	Lookup   = respcache.Lookup
	Stats    = respcache.Stats
	Event    = activity.Event
	Request  = gateway.Request
	Response = gateway.Response
	Snapshot = gateway.Snapshot
)

// DefaultConfig returns the default configuration.
func DefaultConfig() Config { return config.Default() }

// LoadConfig reads a YAML configuration file merged onto the defaults.
func LoadConfig(path string) (Config, error) { return config.LoadFile(path) }

// NewVirtualClock creates a clock that only moves when advanced.
func NewVirtualClock(start time.Time) *VirtualClock { return clock.NewVirtual(start) }

// Sieve is a fully wired instance. Its Store is the single long-lived
// handle shared by every component; Close releases it.
type Sieve struct {
	Config   Config
	Store    Store
	Limiter  *admission.Limiter
	Cache    *respcache.Cache
	Activity *activity.Log
	Gateway  *gateway.Gateway
	Hub      *server.Hub
	Logger   zerolog.Logger

	clock     Clock
	ownsStore bool
}

type options struct {
	clock     Clock
	logger    zerolog.Logger
	store     Store
	generator gateway.Generator
}

// Option customises Open.
type Option func(*options)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger shared by every component.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStore uses s instead of opening the configured backend. The caller
// keeps ownership of s.
func WithStore(s Store) Option {
	return func(o *options) { o.store = s }
}

// WithGenerator replaces the simulated generator.
func WithGenerator(g gateway.Generator) Option {
	return func(o *options) { o.generator = g }
}

// Open validates cfg and builds every component.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Sieve, error) {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.NewReal()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Sieve{Config: cfg, Logger: o.logger, clock: o.clock}
	if o.store != nil {
		s.Store = o.store
	} else {
		st, err := store.Open(ctx, cfg.Storage, o.clock, o.logger)
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		s.Store = st
		s.ownsStore = true
	}

	if err := s.build(cfg, o); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sieve) build(cfg Config, o options) error {
	var err error

	s.Limiter, err = admission.New(s.Store, o.clock,
		admission.WithLogger(o.logger),
		admission.WithStrict(cfg.Limiter.Strict),
		admission.WithDefaults(cfg.Limiter.Limit, cfg.Limiter.Window),
	)
	if err != nil {
		return err
	}
	s.Cache, err = respcache.New(s.Store,
		respcache.WithLogger(o.logger),
		respcache.WithDefaultTTL(cfg.Cache.TTL),
	)
	if err != nil {
		return err
	}
	s.Activity, err = activity.New(s.Store, o.clock,
		activity.WithLogger(o.logger),
		activity.WithMaxLen(cfg.Activity.MaxLen),
		activity.WithExcerptLen(cfg.Activity.ExcerptLen),
	)
	if err != nil {
		return err
	}

	gen := o.generator
	if gen == nil {
		gen = generate.New(o.clock, cfg.Generator.MinLatency, cfg.Generator.MaxLatency)
	}
	s.Hub = server.NewHub(o.logger)
	s.Gateway, err = gateway.New(s.Limiter, s.Cache, s.Activity, gen,
		gateway.WithLogger(o.logger),
		gateway.WithClock(o.clock),
		gateway.WithPublisher(s.Hub),
		gateway.WithLimit(cfg.Limiter.Limit, cfg.Limiter.Window),
		gateway.WithCacheTTL(cfg.Cache.TTL),
		gateway.WithConsumerSample(cfg.Limiter.Sample),
	)
	return err
}

// Server returns an HTTP server bound to the configured address.
func (s *Sieve) Server() *server.Server {
	return server.New(s.Config.Server.Addr, s.Gateway, server.Options{
		Hub:    s.Hub,
		Pinger: s.Store,
		Clock:  s.clock,
		Logger: s.Logger,
	})
}

// Close releases the store when Open created it.
func (s *Sieve) Close() error {
	if s.ownsStore && s.Store != nil {
		return s.Store.Close()
	}
	return nil
}

package routing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/roomstage/internal/ai"
	"golang.org/x/sync/singleflight"
)

type Config struct {
	DefaultProvider  string
	FallbackProvider string
	FallbackEnabled  bool
	ProbeTimeout     time.Duration
}

// RoutingError reports that neither the target nor the fallback can serve.
type RoutingError struct {
	Target         string
	TargetReason   string
	Fallback       string
	FallbackReason string
}

func (e *RoutingError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no staging provider available: %s: %s", e.Target, e.TargetReason)
	if e.Fallback != "" {
		fmt.Fprintf(&b, "; fallback %s: %s", e.Fallback, e.FallbackReason)
	} else {
		b.WriteString("; fallback disabled")
	}
	return b.String()
}

type Selection struct {
	Provider     ai.Provider
	Health       ai.Health
	FallbackUsed bool
}

type Router struct {
	registry *ai.Registry
	cache    HealthCache
	cfg      Config
	probes   singleflight.Group
	log      zerolog.Logger
}

func NewRouter(registry *ai.Registry, cache HealthCache, cfg Config, log zerolog.Logger) *Router {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	cfg.DefaultProvider = strings.ToLower(strings.TrimSpace(cfg.DefaultProvider))
	cfg.FallbackProvider = strings.ToLower(strings.TrimSpace(cfg.FallbackProvider))
	return &Router{
		registry: registry,
		cache:    cache,
		cfg:      cfg,
		log:      log.With().Str("component", "router").Logger(),
	}
}

// SelectProvider returns the preferred provider (or the default) when it is
// healthy, otherwise the configured fallback. Only one fallback level is
// tried.
func (r *Router) SelectProvider(ctx context.Context, preferred string) (Selection, error) {
	target := strings.ToLower(strings.TrimSpace(preferred))
	if target == "" {
		target = r.cfg.DefaultProvider
	}
	p, err := r.registry.Get(target)
	if err != nil {
		return Selection{}, err
	}

	h := r.Health(ctx, p)
	if h.Usable() {
		return Selection{Provider: p, Health: h}, nil
	}

	rerr := &RoutingError{Target: target, TargetReason: h.Reason()}
	if !r.cfg.FallbackEnabled || r.cfg.FallbackProvider == "" || r.cfg.FallbackProvider == target {
		return Selection{}, rerr
	}

	rerr.Fallback = r.cfg.FallbackProvider
	fp, err := r.registry.Get(r.cfg.FallbackProvider)
	if err != nil {
		rerr.FallbackReason = "not registered"
		return Selection{}, rerr
	}
	fh := r.Health(ctx, fp)
	if !fh.Usable() {
		rerr.FallbackReason = fh.Reason()
		return Selection{}, rerr
	}

	r.log.Warn().
		Str("target", target).
		Str("reason", h.Reason()).
		Str("fallback", fp.Name()).
		Msg("provider unavailable, using fallback")
	return Selection{Provider: fp, Health: fh, FallbackUsed: true}, nil
}

// Health returns the cached health of p, probing when the entry is missing
// or expired. Concurrent misses for one provider share a single probe.
func (r *Router) Health(ctx context.Context, p ai.Provider) ai.Health {
	name := p.Name()
	if h, ok, err := r.cache.Get(ctx, name); err != nil {
		r.log.Warn().Err(err).Str("provider", name).Msg("health cache read failed")
	} else if ok {
		return h
	}

	v, _, _ := r.probes.Do(name, func() (any, error) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ProbeTimeout)
		defer cancel()

		h := p.CheckHealth(pctx)
		h.Provider = name
		if err := r.cache.Set(ctx, h); err != nil {
			r.log.Warn().Err(err).Str("provider", name).Msg("health cache write failed")
		}
		r.log.Debug().
			Str("provider", name).
			Bool("available", h.Available).
			Bool("rate_limited", h.RateLimited).
			Msg("provider health probed")
		return h, nil
	})
	return v.(ai.Health)
}

// CheckAll returns health for every registered provider.
func (r *Router) CheckAll(ctx context.Context) []ai.Health {
	names := r.registry.Names()
	out := make([]ai.Health, 0, len(names))
	for _, n := range names {
		p, err := r.registry.Get(n)
		if err != nil {
			continue
		}
		out = append(out, r.Health(ctx, p))
	}
	return out
}

// Invalidate drops one provider's entry so the next lookup re-probes it.
func (r *Router) Invalidate(ctx context.Context, provider string) {
	if err := r.cache.Invalidate(ctx, strings.ToLower(provider)); err != nil {
		r.log.Warn().Err(err).Str("provider", provider).Msg("health cache invalidate failed")
	}
}

func (r *Router) ClearHealthCache(ctx context.Context) error {
	if err := r.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear health cache: %w", err)
	}
	return nil
}

// IsRoutingError reports whether err is a RoutingError.
func IsRoutingError(err error) bool {
	var re *RoutingError
	return errors.As(err, &re)
}

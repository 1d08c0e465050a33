package market

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nft-marketplace/marketnode/internal/metrics"
	"go.uber.org/zap"
)

var ErrTooManySubscriptions = errors.New("too many active subscriptions")

// Registry keeps one running Poller per distinct Params and evicts pollers
// nobody has read for longer than the idle timeout. A positive maxPollers
// caps how many run at once.
type Registry struct {
	ctx         context.Context
	pipeline    Pipeline
	interval    time.Duration
	idleTimeout time.Duration
	maxPollers  int

	mu      sync.Mutex
	pollers map[Params]*Poller
}

func NewRegistry(ctx context.Context, pipeline Pipeline, interval, idleTimeout time.Duration, maxPollers int) *Registry {
	return &Registry{
		ctx:         ctx,
		pipeline:    pipeline,
		interval:    interval,
		idleTimeout: idleTimeout,
		maxPollers:  maxPollers,
		pollers:     make(map[Params]*Poller),
	}
}

// Get returns the poller for params, starting one if needed. Existing
// subscriptions are always served, new ones fail once the cap is reached.
func (r *Registry) Get(params Params) (*Poller, error) {
	params = params.normalized()

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pollers[params]; ok {
		return p, nil
	}
	if r.maxPollers > 0 && len(r.pollers) >= r.maxPollers {
		zap.L().Warn("Subscription limit reached",
			zap.Int("limit", r.maxPollers),
			zap.String("target", params.Target),
			zap.String("viewer", params.Viewer))
		return nil, ErrTooManySubscriptions
	}
	p := NewPoller(r.pipeline, params, r.interval)
	p.Start(r.ctx)
	r.pollers[params] = p
	metrics.ActiveSubscriptions.Set(float64(len(r.pollers)))
	zap.L().Info("Started subscription",
		zap.String("target", params.Target),
		zap.String("viewer", params.Viewer),
		zap.Bool("listedOnly", params.ListedOnly))
	return p, nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pollers)
}

// EvictIdle closes pollers whose snapshot has not been read since before
// now minus the idle timeout. It returns how many were evicted.
func (r *Registry) EvictIdle(now time.Time) int {
	r.mu.Lock()
	var idle []*Poller
	for params, p := range r.pollers {
		if now.Sub(p.idleSince()) > r.idleTimeout {
			idle = append(idle, p)
			delete(r.pollers, params)
		}
	}
	metrics.ActiveSubscriptions.Set(float64(len(r.pollers)))
	r.mu.Unlock()

	for _, p := range idle {
		p.Close()
	}
	if len(idle) > 0 {
		zap.L().Info("Evicted idle subscriptions", zap.Int("count", len(idle)))
	}
	return len(idle)
}

// Run evicts idle pollers until ctx is done, then closes the rest.
func (r *Registry) Run(ctx context.Context) {
	tick := r.idleTimeout / 2
	if tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Close()
			return
		case now := <-ticker.C:
			r.EvictIdle(now)
		}
	}
}

func (r *Registry) Close() {
	r.mu.Lock()
	pollers := r.pollers
	r.pollers = make(map[Params]*Poller)
	metrics.ActiveSubscriptions.Set(0)
	r.mu.Unlock()

	for _, p := range pollers {
		p.Close()
	}
}

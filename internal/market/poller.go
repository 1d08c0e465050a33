package market

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nft-marketplace/marketnode/internal/metrics"
	"go.uber.org/zap"
)

const DefaultRefreshInterval = 10 * time.Second

type Pipeline interface {
	Reconcile(ctx context.Context, params Params) (Result, error)
}

type PipelineFunc func(ctx context.Context, params Params) (Result, error)

func (f PipelineFunc) Reconcile(ctx context.Context, params Params) (Result, error) {
	return f(ctx, params)
}

// Poller owns the refresh loop of one subscription. Only one cycle runs at a
// time and the next one is scheduled after the previous has settled.
type Poller struct {
	pipeline Pipeline
	interval time.Duration

	mu          sync.Mutex
	params      Params
	generation  uint64
	snapshot    Snapshot
	cancelCycle context.CancelFunc
	subscribers map[int]chan Snapshot
	nextSubID   int
	lastAccess  time.Time

	refreshCh chan struct{}
	stop      context.CancelFunc
	done      chan struct{}
	started   bool
	closeOnce sync.Once
	now       func() time.Time
}

func NewPoller(pipeline Pipeline, params Params, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	params = params.normalized()
	p := &Poller{
		pipeline:    pipeline,
		interval:    interval,
		params:      params,
		generation:  1,
		subscribers: make(map[int]chan Snapshot),
		refreshCh:   make(chan struct{}, 1),
		done:        make(chan struct{}),
		now:         time.Now,
	}
	p.snapshot = Snapshot{Generation: 1, Params: params, State: StateIdle}
	p.lastAccess = p.now()
	return p
}

// Start launches the loop. The first cycle runs immediately.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	ctx, p.stop = context.WithCancel(ctx)
	p.mu.Unlock()

	go p.run(ctx)
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-p.refreshCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		p.cycle(ctx)
		timer.Reset(p.interval)
	}
}

func (p *Poller) cycle(ctx context.Context) {
	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	gen, params := p.generation, p.params
	p.cancelCycle = cancel
	p.publishLocked(p.snapshot.fetching(gen, params, p.now()))
	p.mu.Unlock()

	start := time.Now()
	res, err := p.pipeline.Reconcile(cycleCtx, params)
	metrics.RefreshLatency.Observe(time.Since(start).Seconds())

	if ctx.Err() != nil {
		// closing
		return
	}

	if cerr := p.commit(gen, params, res, err); cerr != nil {
		if errors.Is(cerr, ErrStaleGeneration) {
			metrics.StaleCommitsDropped.Inc()
			zap.L().Debug("Dropped stale refresh result",
				zap.Uint64("generation", gen),
				zap.String("target", params.Target))
		}
		return
	}

	if err != nil {
		metrics.RefreshCycles.WithLabelValues("error").Inc()
		zap.L().Warn("Refresh cycle failed",
			zap.String("target", params.Target),
			zap.String("viewer", params.Viewer),
			zap.Error(err))
		return
	}
	metrics.RefreshCycles.WithLabelValues("success").Inc()
}

// commit publishes the result of a cycle if its generation is still current.
func (p *Poller) commit(gen uint64, params Params, res Result, err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if gen != p.generation {
		return ErrStaleGeneration
	}
	p.cancelCycle = nil

	if err != nil {
		p.publishLocked(errorSnapshot(gen, params, err, p.now()))
		return nil
	}
	p.publishLocked(successSnapshot(gen, params, res, p.now()))
	return nil
}

// SetParams switches the subscription to new parameters. The in-flight cycle
// is cancelled, the view is cleared and a new cycle starts right away.
func (p *Poller) SetParams(params Params) {
	params = params.normalized()

	p.mu.Lock()
	if params == p.params {
		p.mu.Unlock()
		return
	}
	p.params = params
	p.generation++
	if p.cancelCycle != nil {
		p.cancelCycle()
		p.cancelCycle = nil
	}
	p.publishLocked(Snapshot{Generation: p.generation, Params: params, State: StateIdle, UpdatedAt: p.now()})
	p.mu.Unlock()

	p.Refresh()
}

// Refresh asks for an immediate cycle. Requests made while one is already
// pending are coalesced.
func (p *Poller) Refresh() {
	select {
	case p.refreshCh <- struct{}{}:
	default:
	}
}

func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastAccess = p.now()
	return p.snapshot
}

func (p *Poller) Params() Params {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params
}

func (p *Poller) idleSince() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastAccess
}

// Subscribe returns a channel receiving every published snapshot. A slow
// reader only ever misses intermediate values, never the latest one. The
// returned func unsubscribes.
func (p *Poller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	p.mu.Lock()
	id := p.nextSubID
	p.nextSubID++
	p.subscribers[id] = ch
	p.mu.Unlock()

	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if sub, ok := p.subscribers[id]; ok {
			delete(p.subscribers, id)
			close(sub)
		}
	}
}

func (p *Poller) publishLocked(s Snapshot) {
	p.snapshot = s
	for _, ch := range p.subscribers {
		select {
		case ch <- s:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

// Close stops the loop and waits for it. The pending timer is stopped and an
// in-flight cycle is cancelled without committing.
func (p *Poller) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		started := p.started
		stop := p.stop
		p.mu.Unlock()

		if started {
			stop()
			<-p.done
		}

		p.mu.Lock()
		for id, ch := range p.subscribers {
			delete(p.subscribers, id)
			close(ch)
		}
		p.mu.Unlock()
	})
}

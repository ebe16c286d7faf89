package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/chatbridge/internal/bridge"
	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

const (
	// pollInterval is the pull-path re-query period for transient instances.
	pollInterval = 10 * time.Second

	// pollQueryTimeout bounds one gateway status query so a hung gateway
	// cannot stall the whole tick.
	pollQueryTimeout = 8 * time.Second
)

// Poller is the pull-path supervisor: a single recurring timer that
// re-queries the gateway for every instance stuck in a transient state.
// It starts lazily on Poke and stops itself when no transient instances
// remain, so idle deployments carry no background timers.
type Poller struct {
	r *Reconciler

	interval time.Duration
	baseCtx  context.Context

	mu      sync.Mutex
	running bool
	poked   bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newPoller(r *Reconciler) *Poller {
	return &Poller{
		r:        r,
		interval: pollInterval,
		baseCtx:  context.Background(),
	}
}

// Bind sets the parent context for the polling goroutine. Call once at
// startup before any Poke.
func (p *Poller) Bind(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseCtx = ctx
}

// SetInterval overrides the poll period. Call before any Poke.
func (p *Poller) SetInterval(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d > 0 {
		p.interval = d
	}
}

// Poke ensures the polling loop is running. Safe to call from any
// goroutine, any number of times.
func (p *Poller) Poke() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		// The loop may already be on its way out; remember the poke so
		// the exit path restarts it instead of losing the wakeup.
		p.poked = true
		return
	}
	p.startLocked()
}

// startLocked launches the loop goroutine. Callers hold p.mu.
func (p *Poller) startLocked() {
	ctx, cancel := context.WithCancel(p.baseCtx)
	p.running = true
	p.poked = false
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
	slog.Debug("status poller started")
}

// Stop terminates the loop if running and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	cancel()
	<-done
}

// Running reports whether the poll loop is currently active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer p.finish(ctx, done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !p.tick(ctx) {
				return
			}
		}
	}
}

// finish is the loop's exit path. A Poke that landed after the final
// tick but before the running flag dropped would otherwise be lost, so
// the flag is re-checked under the lock and the loop restarted unless
// the poller was stopped outright.
func (p *Poller) finish(ctx context.Context, done chan struct{}) {
	p.mu.Lock()
	p.running = false
	if p.poked && ctx.Err() == nil {
		p.cancel()
		p.startLocked()
	}
	p.mu.Unlock()
	close(done)
	slog.Debug("status poller stopped")
}

// tick re-queries every transient instance. Returns false when no
// transient instances remain and the loop should stop.
func (p *Poller) tick(ctx context.Context) bool {
	transient, err := p.r.instances.ListTransient(ctx)
	if err != nil {
		slog.Error("poller: list transient instances", "error", err)
		return true // transient store errors should not kill the loop
	}
	if len(transient) == 0 {
		return false
	}

	for i := range transient {
		inst := &transient[i]
		if err := p.pollOne(ctx, inst); err != nil {
			// Per-instance isolation: one failing instance must not halt
			// polling for the others.
			slog.Warn("poller: instance query failed",
				"instance", inst.Name, "error", err)
		}
		if ctx.Err() != nil {
			return false
		}
	}
	return true
}

func (p *Poller) pollOne(ctx context.Context, inst *store.InstanceConfig) error {
	gw, err := p.r.resolver.For(ctx, inst)
	if err != nil {
		return err
	}

	qctx, cancel := context.WithTimeout(ctx, pollQueryTimeout)
	defer cancel()

	state, err := gw.State(qctx, inst.Name)
	if err != nil {
		return err
	}

	// Only a gateway-side "open" is actionable from the pull path; the
	// push path owns the richer transitions.
	if !bridge.IsOpenState(state.State) {
		return nil
	}
	return p.r.ApplyConnectionState(ctx, inst.ID, state.State, p.r.now())
}

package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const defaultStopTimeout = 5 * time.Second

// Group runs named workers under a shared context. The first worker to
// fail cancels the rest; cooperative exits after cancellation do not
// count as failures.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	wg          sync.WaitGroup
	stopTimeout time.Duration

	mu       sync.Mutex
	workers  []*Info
	firstErr error
}

// NewGroup creates a worker group whose context follows parent.
func NewGroup(parent context.Context, logger *slog.Logger) *Group {
	ctx, cancel := context.WithCancel(parent)
	return &Group{
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
		stopTimeout: defaultStopTimeout,
	}
}

// SetStopTimeout overrides how long Wait gives workers to drain after
// cancellation before reporting them as hung.
func (g *Group) SetStopTimeout(d time.Duration) {
	g.stopTimeout = d
}

// Go starts run as a worker under the group context. A non-nil return
// marks the group failed and cancels the remaining workers.
func (g *Group) Go(name string, run func(context.Context) error) {
	info := &Info{Name: name, State: StateRunning, StartedAt: time.Now()}
	g.mu.Lock()
	g.workers = append(g.workers, info)
	g.mu.Unlock()

	g.logger.Debug("Worker started", "worker", name)

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()

		err := run(g.ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}

		g.mu.Lock()
		info.StoppedAt = time.Now()
		if err != nil {
			info.State = StateError
			info.Err = err
			if g.firstErr == nil {
				g.firstErr = fmt.Errorf("%s: %w", name, err)
			}
		} else {
			info.State = StateDone
		}
		g.mu.Unlock()

		if err != nil {
			g.logger.Error("Worker failed", "worker", name, "error", err)
			g.cancel()
			return
		}
		g.logger.Debug("Worker finished", "worker", name)
	}()
}

// Cancel asks every worker to stop.
func (g *Group) Cancel() {
	g.cancel()
}

// Wait blocks until every worker has returned and reports the first
// failure. Once the group context ends, workers get the stop timeout to
// drain; whatever is still running afterwards is named and abandoned.
func (g *Group) Wait() error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.cancel()
		return g.err()
	case <-g.ctx.Done():
	}

	select {
	case <-done:
		return g.err()
	case <-time.After(g.stopTimeout):
	}

	hung := g.running()
	g.logger.Error("Workers did not stop before timeout",
		"workers", strings.Join(hung, ","), "timeout", g.stopTimeout)
	if err := g.err(); err != nil {
		return err
	}
	return fmt.Errorf("workers still running after %s: %s",
		g.stopTimeout, strings.Join(hung, ", "))
}

// Status returns a snapshot of every worker in start order.
func (g *Group) Status() []Info {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Info, 0, len(g.workers))
	for _, info := range g.workers {
		out = append(out, *info)
	}
	return out
}

func (g *Group) err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.firstErr
}

func (g *Group) running() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var names []string
	for _, info := range g.workers {
		if info.State == StateRunning {
			names = append(names, info.Name)
		}
	}
	return names
}

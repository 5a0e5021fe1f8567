package system

import (
	"context"
	"runtime"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/l1jgo/runtime/internal/core/ecs"
	"github.com/l1jgo/runtime/internal/core/event"
)

// Run executes one full pass over w: every stage in order, each followed
// by a flush. A failing or panicking system does not stop the pass; all
// errors are combined into the result. The schedule is (re)built when it
// was never built for w.
func (s *Schedule) Run(ctx context.Context, w *ecs.World, dt time.Duration) error {
	if s.world != w {
		if err := s.Build(w); err != nil {
			return err
		}
	}
	for _, n := range s.nodes {
		n.state.Store(int32(StateRunnable))
	}
	if s.bus != nil {
		s.bus.SwapBuffers()
		s.bus.DispatchAll()
	}

	var errs error
	for _, p := range s.plans {
		errs = multierr.Append(errs, s.runStage(ctx, p, w, dt))
	}
	return errs
}

// RunStage executes a single stage and its flush. Hosts use it to poll
// one stage (input, say) more often than the full pass.
func (s *Schedule) RunStage(ctx context.Context, w *ecs.World, st Stage, dt time.Duration) error {
	if s.world != w {
		if err := s.Build(w); err != nil {
			return err
		}
	}
	for _, p := range s.plans {
		if p.stage == st {
			return s.runStage(ctx, p, w, dt)
		}
	}
	return nil
}

func (s *Schedule) runStage(ctx context.Context, p *stagePlan, w *ecs.World, dt time.Duration) error {
	var errs error
	if s.mode == Parallel {
		errs = s.runParallel(ctx, p, w, dt)
	} else {
		for _, n := range p.order {
			errs = multierr.Append(errs, s.execute(ctx, n, w, dt))
		}
	}
	if errs != nil {
		s.log.Error("stage failed", zap.Stringer("stage", p.stage), zap.Error(errs))
	}
	return multierr.Append(errs, s.flush(w))
}

// flush applies deferred commands and publishes lifecycle events.
func (s *Schedule) flush(w *ecs.World) error {
	report, err := w.Maintain()
	if err != nil {
		s.log.Error("maintain failed", zap.Error(err))
	}
	if s.bus != nil {
		if len(report.Created) > 0 {
			event.Emit(s.bus, event.EntitiesCreated{Entities: report.Created})
		}
		if len(report.Deleted) > 0 {
			event.Emit(s.bus, event.EntitiesDeleted{Entities: report.Deleted})
		}
	}
	return err
}

type result struct {
	i   int
	err error
}

// runParallel dispatches systems whose predecessors have all completed to
// a bounded pool. Only this goroutine touches the pending counts.
func (s *Schedule) runParallel(ctx context.Context, p *stagePlan, w *ecs.World, dt time.Duration) error {
	workers := s.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var g errgroup.Group
	g.SetLimit(workers)

	pending := make([]int, len(p.order))
	copy(pending, p.preds)
	ready := make([]int, 0, len(p.order))
	for i, n := range pending {
		if n == 0 {
			ready = append(ready, i)
		}
	}

	done := make(chan result, len(p.order))
	var errs error
	for remaining := len(p.order); remaining > 0; remaining-- {
		for _, i := range ready {
			n := p.order[i]
			g.Go(func() error {
				done <- result{i: i, err: s.execute(ctx, n, w, dt)}
				return nil
			})
		}
		ready = ready[:0]

		r := <-done
		errs = multierr.Append(errs, r.err)
		for _, j := range p.succs[r.i] {
			pending[j]--
			if pending[j] == 0 {
				ready = append(ready, j)
			}
		}
	}
	_ = g.Wait()
	return errs
}

// execute runs one system with its own tick window and recovers panics.
func (s *Schedule) execute(ctx context.Context, n *node, w *ecs.World, dt time.Duration) (err error) {
	n.state.Store(int32(StateExecuting))
	this := w.IncrementChangeTick()
	sc := &Context{
		Ctx:      ctx,
		World:    w,
		Globals:  s.globals,
		Commands: w.Commands(),
		Events:   s.bus,
		Log:      s.log.With(zap.String("system", n.name)),
		Delta:    dt,
		ticks:    ecs.TickRange{Last: n.lastRun, This: this},
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("system panic", zap.String("system", n.name), zap.Any("panic", r))
			err = eris.Wrapf(ErrSystemPanic, "%q: %v", n.name, r)
		}
		n.lastRun = this
		n.state.Store(int32(StateCompleted))
	}()
	if err := n.sys.Run(sc); err != nil {
		return eris.Wrapf(err, "system %q", n.name)
	}
	return nil
}

package system

import (
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/l1jgo/runtime/internal/core/ecs"
	"github.com/l1jgo/runtime/internal/core/event"
)

// Mode selects how systems of one stage are executed.
type Mode int

const (
	Sequential Mode = iota
	Parallel
)

func (m Mode) String() string {
	if m == Parallel {
		return "parallel"
	}
	return "sequential"
}

// ParseMode accepts "sequential" (or empty) and "parallel".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "sequential":
		return Sequential, nil
	case "parallel":
		return Parallel, nil
	}
	return 0, eris.Errorf("system: unknown mode %q", s)
}

// Option configures a Schedule.
type Option func(*Schedule)

func WithMode(m Mode) Option { return func(s *Schedule) { s.mode = m } }

// WithWorkers bounds the goroutines of parallel stages; <= 0 means
// GOMAXPROCS.
func WithWorkers(n int) Option { return func(s *Schedule) { s.workers = n } }

func WithLogger(log *zap.Logger) Option { return func(s *Schedule) { s.log = log } }

// WithEvents makes the schedule swap and dispatch bus at the start of every
// pass and emit entity lifecycle events after every flush.
func WithEvents(bus *event.Bus) Option { return func(s *Schedule) { s.bus = bus } }

// WithGlobals exposes a universe globals container to systems. Access keys
// may name resources held there.
func WithGlobals(r *ecs.Resources) Option { return func(s *Schedule) { s.globals = r } }

// SystemOption places a system within the schedule.
type SystemOption func(*node)

// InStage puts the system in stage st (StageUpdate by default).
func InStage(st Stage) SystemOption { return func(n *node) { n.stage = st } }

// Before orders the system ahead of the named systems.
func Before(names ...string) SystemOption {
	return func(n *node) { n.before = append(n.before, names...) }
}

// After orders the system behind the named systems.
func After(names ...string) SystemOption {
	return func(n *node) { n.after = append(n.after, names...) }
}

type node struct {
	sys    System
	name   string
	access Access
	stage  Stage
	before []string
	after  []string

	state   atomic.Int32
	lastRun ecs.Tick
}

// stagePlan is the execution graph of one stage. order is a linear
// extension of the graph; preds/succs index into order.
type stagePlan struct {
	stage Stage
	order []*node
	preds []int
	succs [][]int
}

// Schedule owns the systems of one world and runs them pass by pass.
type Schedule struct {
	mode    Mode
	workers int
	log     *zap.Logger
	bus     *event.Bus
	globals *ecs.Resources

	nodes  []*node
	byName map[string]*node

	world *ecs.World
	plans []*stagePlan
}

func NewSchedule(opts ...Option) *Schedule {
	s := &Schedule{
		log:    zap.NewNop(),
		nodes:  make([]*node, 0, 16),
		byName: make(map[string]*node, 16),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddSystem registers sys. Names must be unique within the schedule.
// Adding a system invalidates any previous Build.
func (s *Schedule) AddSystem(sys System, opts ...SystemOption) error {
	name := sys.Name()
	if _, ok := s.byName[name]; ok {
		return eris.Wrapf(ErrDuplicateSystem, "%q", name)
	}
	n := &node{sys: sys, name: name, access: sys.Access(), stage: StageUpdate}
	for _, opt := range opts {
		opt(n)
	}
	if n.stage < 0 || n.stage >= stageCount {
		return eris.Errorf("system: %q has invalid %s", name, n.stage)
	}
	s.nodes = append(s.nodes, n)
	s.byName[name] = n
	s.world = nil
	return nil
}

// Len returns the number of registered systems.
func (s *Schedule) Len() int { return len(s.nodes) }

// State reports the lifecycle state of the named system.
func (s *Schedule) State(name string) (State, bool) {
	n, ok := s.byName[name]
	if !ok {
		return 0, false
	}
	return State(n.state.Load()), true
}

// Order returns the system names of stage st in execution order. It is
// empty until the schedule is built.
func (s *Schedule) Order(st Stage) []string {
	for _, p := range s.plans {
		if p.stage == st {
			names := make([]string, len(p.order))
			for i, n := range p.order {
				names[i] = n.name
			}
			return names
		}
	}
	return nil
}

// Build validates the schedule against w and computes the execution graph
// of every stage. Nothing runs when Build fails.
func (s *Schedule) Build(w *ecs.World) error {
	for _, n := range s.nodes {
		if err := s.validate(w, n); err != nil {
			return err
		}
	}

	edges := make(map[*node][]*node, len(s.nodes))
	for _, n := range s.nodes {
		for _, other := range n.before {
			t, err := s.constraint(n, other, true)
			if err != nil {
				return err
			}
			if t != nil {
				edges[n] = append(edges[n], t)
			}
		}
		for _, other := range n.after {
			t, err := s.constraint(n, other, false)
			if err != nil {
				return err
			}
			if t != nil {
				edges[t] = append(edges[t], n)
			}
		}
	}

	plans := make([]*stagePlan, 0, stageCount)
	for st := StageFirst; st < stageCount; st++ {
		var members []*node
		for _, n := range s.nodes {
			if n.stage == st {
				members = append(members, n)
			}
		}
		if len(members) == 0 {
			continue
		}
		p, err := plan(st, members, edges)
		if err != nil {
			return err
		}
		plans = append(plans, p)
	}

	for _, n := range s.nodes {
		if in, ok := n.sys.(Initializer); ok && State(n.state.Load()) == StateRegistered {
			if err := in.Init(w); err != nil {
				return eris.Wrapf(err, "init system %q", n.name)
			}
		}
		n.state.Store(int32(StateInitialized))
	}
	for _, n := range s.nodes {
		n.lastRun = 0
		n.state.Store(int32(StateRunnable))
	}
	s.world = w
	s.plans = plans

	for _, p := range plans {
		s.log.Debug("stage planned",
			zap.Stringer("stage", p.stage),
			zap.Strings("order", s.Order(p.stage)),
			zap.String("mode", s.mode.String()),
		)
	}
	return nil
}

func (s *Schedule) validate(w *ecs.World, n *node) error {
	for _, k := range n.access.keys() {
		if w.Resources().Has(k) {
			continue
		}
		if s.globals != nil && s.globals.Has(k) {
			continue
		}
		return eris.Wrapf(ecs.ErrUnregisteredType, "system %q declares %s", n.name, k)
	}
	return nil
}

// constraint resolves a Before/After target. It returns nil when the
// target lives in another stage and stage order already satisfies the
// constraint.
func (s *Schedule) constraint(n *node, other string, before bool) (*node, error) {
	t, ok := s.byName[other]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownSystem, "%q referenced by %q", other, n.name)
	}
	if t.stage == n.stage {
		return t, nil
	}
	if (before && n.stage < t.stage) || (!before && n.stage > t.stage) {
		return nil, nil
	}
	dir := "after"
	if before {
		dir = "before"
	}
	return nil, eris.Wrapf(ErrScheduleCycle, "%q (%s) cannot run %s %q (%s)", n.name, n.stage, dir, t.name, t.stage)
}

// plan orders one stage: Kahn's algorithm over the explicit edges, picking
// the earliest-added ready system first, then conflict edges oriented
// along the resulting order.
func plan(st Stage, members []*node, edges map[*node][]*node) (*stagePlan, error) {
	indeg := make(map[*node]int, len(members))
	for _, n := range members {
		for _, t := range edges[n] {
			indeg[t]++
		}
	}

	order := make([]*node, 0, len(members))
	done := make(map[*node]bool, len(members))
	for len(order) < len(members) {
		var next *node
		for _, n := range members {
			if !done[n] && indeg[n] == 0 {
				next = n
				break
			}
		}
		if next == nil {
			var stuck []string
			for _, n := range members {
				if !done[n] {
					stuck = append(stuck, n.name)
				}
			}
			return nil, eris.Wrapf(ErrScheduleCycle, "stage %s: %s", st, strings.Join(stuck, ", "))
		}
		done[next] = true
		order = append(order, next)
		for _, t := range edges[next] {
			indeg[t]--
		}
	}

	pos := make(map[*node]int, len(order))
	for i, n := range order {
		pos[n] = i
	}
	p := &stagePlan{
		stage: st,
		order: order,
		preds: make([]int, len(order)),
		succs: make([][]int, len(order)),
	}
	link := func(from, to int) {
		for _, x := range p.succs[from] {
			if x == to {
				return
			}
		}
		p.succs[from] = append(p.succs[from], to)
		p.preds[to]++
	}
	for i, n := range order {
		for _, t := range edges[n] {
			link(i, pos[t])
		}
		for j := i + 1; j < len(order); j++ {
			if n.access.Conflicts(order[j].access) {
				link(i, j)
			}
		}
	}
	return p, nil
}

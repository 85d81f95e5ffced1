// Package registry implements modkit's module registry: capability-typed
// registration, dependency-topological ordering via Kahn's algorithm with
// DFS three-color cycle detection, and the phased lifecycle orchestrator
// (init -> db-migrate -> rest -> start -> stop).
//
// The registry's structuring idiom (a builder producing an immutable,
// RWMutex-free ordered slice) follows the reference stack's system/core
// registry; the exact validation and topo-sort algorithm is ported from the
// project's original Rust registry so that cycle paths and phase error
// tagging match the documented contract precisely.
package registry

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hyperspot-run/modkit/pkg/metrics"
	"github.com/hyperspot-run/modkit/pkg/modkit/modkiterrors"
)

// Builder accumulates registrations and produces an immutable Registry.
type Builder struct {
	regs []Registration

	dbResolver  DBResolver
	lock        LockAcquirer
	stopTimeout time.Duration
	metrics     *metrics.Metrics
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{stopTimeout: 30 * time.Second}
}

// Register adds one module's registration. Order of calls is the
// registration order used to break topo-sort ties.
func (b *Builder) Register(r Registration) *Builder {
	b.regs = append(b.regs, r)
	return b
}

// WithDBResolver supplies the per-module DB handle lookup used by the
// db-migrate phase.
func (b *Builder) WithDBResolver(f DBResolver) *Builder {
	b.dbResolver = f
	return b
}

// WithLockAcquirer supplies the advisory-lock acquirer used to serialize
// concurrent migrations on the same module.
func (b *Builder) WithLockAcquirer(f LockAcquirer) *Builder {
	b.lock = f
	return b
}

// WithStopTimeout overrides the default 30s per-module stop timeout.
func (b *Builder) WithStopTimeout(d time.Duration) *Builder {
	b.stopTimeout = d
	return b
}

// WithMetrics supplies the collectors RunInit/RunDbMigrate/RunRest/RunStart
// report per-module phase duration and failures against. A nil *Metrics
// (the default) disables reporting.
func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.metrics = m
	return b
}

// Build validates the registration graph and produces a topologically
// ordered, immutable Registry.
func (b *Builder) Build() (*Registry, error) {
	var configErrs []string

	seen := make(map[string]int, len(b.regs))
	var restHosts []string
	for i, r := range b.regs {
		if r.Name == "" {
			configErrs = append(configErrs, "module registered with empty name")
			continue
		}
		if _, dup := seen[r.Name]; dup {
			configErrs = append(configErrs, fmt.Sprintf("duplicate module name: %s", r.Name))
			continue
		}
		seen[r.Name] = i
		if r.RestHost != nil {
			restHosts = append(restHosts, r.Name)
		}
	}
	if len(restHosts) > 1 {
		sort.Strings(restHosts)
		configErrs = append(configErrs, fmt.Sprintf("multiple rest hosts registered: %v", restHosts))
	}
	if len(configErrs) > 0 {
		return nil, modkiterrors.NewRegistryConfigError(configErrs)
	}

	for _, r := range b.regs {
		for _, d := range r.Deps {
			if _, ok := seen[d]; !ok {
				return nil, modkiterrors.NewUnknownDependencyError(r.Name, d)
			}
		}
	}

	if path := detectCycle(b.regs); path != nil {
		return nil, modkiterrors.NewCycleDetectedError(path)
	}

	order, err := kahnSort(b.regs)
	if err != nil {
		// Unreachable once detectCycle has passed, but kept for defense in
		// depth and to surface a clear error instead of a silent partial
		// order if the two algorithms ever disagree.
		return nil, err
	}

	descriptors := make([]ModuleDescriptor, 0, len(b.regs))
	byName := make(map[string]*ModuleDescriptor, len(b.regs))
	for _, idx := range order {
		r := b.regs[idx]
		d := ModuleDescriptor{Name: r.Name, Deps: append([]string(nil), r.Deps...), Capabilities: r.capabilities(), reg: r}
		descriptors = append(descriptors, d)
	}
	for i := range descriptors {
		byName[descriptors[i].Name] = &descriptors[i]
	}

	return &Registry{
		modules:     descriptors,
		byName:      byName,
		dbResolver:  b.dbResolver,
		lock:        b.lock,
		stopTimeout: b.stopTimeout,
		metrics:     b.metrics,
	}, nil
}

// detectCycle runs DFS with white/gray/black three-color marking over the
// "depends on" relation. It returns the first back-edge's cycle path
// (starting and ending at the same node, listing only cycle nodes), or nil
// if the graph is acyclic.
func detectCycle(regs []Registration) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	depsOf := make(map[string][]string, len(regs))
	order := make([]string, 0, len(regs))
	for _, r := range regs {
		depsOf[r.Name] = r.Deps
		order = append(order, r.Name)
	}

	color := make(map[string]int, len(regs))
	var stack []string
	var cyclePath []string

	var dfs func(node string) bool
	dfs = func(node string) bool {
		color[node] = gray
		stack = append(stack, node)

		for _, dep := range depsOf[node] {
			switch color[dep] {
			case gray:
				start := -1
				for i, n := range stack {
					if n == dep {
						start = i
						break
					}
				}
				if start < 0 {
					start = 0
				}
				cyclePath = append(append([]string(nil), stack[start:]...), dep)
				return true
			case white:
				if dfs(dep) {
					return true
				}
			}
		}

		color[node] = black
		stack = stack[:len(stack)-1]
		return false
	}

	for _, name := range order {
		if color[name] == white {
			if dfs(name) {
				return cyclePath
			}
		}
	}
	return nil
}

// kahnSort runs Kahn's algorithm over the DAG dep -> dependent, breaking
// ties by registration order, and returns the topo order as indices into
// regs.
func kahnSort(regs []Registration) ([]int, error) {
	indexOf := make(map[string]int, len(regs))
	for i, r := range regs {
		indexOf[r.Name] = i
	}

	inDegree := make([]int, len(regs))
	// adjacency[d] = dependents of d (edges dep -> dependent)
	adjacency := make([][]int, len(regs))
	for i, r := range regs {
		for _, dep := range r.Deps {
			di := indexOf[dep]
			adjacency[di] = append(adjacency[di], i)
			inDegree[i]++
		}
	}

	// Ready queue ordered by registration index for determinism.
	ready := make([]int, 0, len(regs))
	for i := range regs {
		if inDegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	sort.Ints(ready)

	var out []int
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		out = append(out, n)

		var newlyReady []int
		for _, dependent := range adjacency[n] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				newlyReady = append(newlyReady, dependent)
			}
		}
		sort.Ints(newlyReady)

		// Merge-insert newlyReady into ready, keeping the whole queue sorted
		// by registration index so ties always resolve to registration
		// order.
		ready = append(ready, newlyReady...)
		sort.Ints(ready)
	}

	if len(out) != len(regs) {
		return nil, modkiterrors.NewCycleDetectedError(nil)
	}
	return out, nil
}

// Registry is the immutable, topologically ordered plan built by Builder.
type Registry struct {
	modules []ModuleDescriptor
	byName  map[string]*ModuleDescriptor

	dbResolver  DBResolver
	lock        LockAcquirer
	stopTimeout time.Duration
	metrics     *metrics.Metrics
}

// Modules returns the topo-ordered descriptors (forward order).
func (reg *Registry) Modules() []ModuleDescriptor { return reg.modules }

// Lookup returns the descriptor for name, or nil.
func (reg *Registry) Lookup(name string) *ModuleDescriptor { return reg.byName[name] }

// RunInit runs the init phase: each Initializer in topo order, sequentially.
// The first failure aborts with no compensation since nothing has started.
func (reg *Registry) RunInit(ctx context.Context) error {
	for _, m := range reg.modules {
		if m.reg.Init == nil {
			continue
		}
		start := time.Now()
		err := m.reg.Init.Init(ctx)
		reg.metrics.ObservePhase(string(modkiterrors.PhaseInit), m.Name, time.Since(start), err)
		if err != nil {
			return modkiterrors.NewPhaseError(modkiterrors.PhaseInit, m.Name, err)
		}
	}
	return nil
}

// RunDbMigrate runs the db-migrate phase on every module declaring
// DbMigrator, holding an advisory lock named "{module}:migration" around
// each call.
func (reg *Registry) RunDbMigrate(ctx context.Context) error {
	for _, m := range reg.modules {
		if m.reg.DbMigrate == nil {
			continue
		}

		var release func()
		if reg.lock != nil {
			r, err := reg.lock(ctx, m.Name, "migration")
			if err != nil {
				return modkiterrors.NewPhaseError(modkiterrors.PhaseDbMigrate, m.Name, err)
			}
			release = r
		}

		var handle any
		if reg.dbResolver != nil {
			h, err := reg.dbResolver(ctx, m.Name)
			if err != nil {
				if release != nil {
					release()
				}
				return modkiterrors.NewPhaseError(modkiterrors.PhaseDbMigrate, m.Name, err)
			}
			handle = h
		}

		start := time.Now()
		err := m.reg.DbMigrate.MigrateDB(ctx, handle)
		if release != nil {
			release()
		}
		reg.metrics.ObservePhase(string(modkiterrors.PhaseDbMigrate), m.Name, time.Since(start), err)
		if err != nil {
			return modkiterrors.NewPhaseError(modkiterrors.PhaseDbMigrate, m.Name, err)
		}
	}
	return nil
}

// RunRest runs the rest phase: if providers exist without a host, fails with
// RestRequiresHost; otherwise Prepare -> each provider's Register in topo
// order -> Finalize.
func (reg *Registry) RunRest(ctx context.Context, router any, openapi any) (any, error) {
	var host *ModuleDescriptor
	var hostName string
	nProviders := 0
	for i := range reg.modules {
		m := &reg.modules[i]
		if m.reg.RestHost != nil {
			host = m
			hostName = m.Name
		}
		if m.reg.RestProvider != nil {
			nProviders++
		}
	}

	if host == nil {
		if nProviders > 0 {
			return router, modkiterrors.NewRestRequiresHostError()
		}
		return router, nil
	}

	r, err := host.reg.RestHost.RestPrepare(ctx, router)
	if err != nil {
		return router, modkiterrors.NewPhaseError(modkiterrors.PhaseRestPrepare, hostName, err)
	}
	router = r

	for _, m := range reg.modules {
		if m.reg.RestProvider == nil {
			continue
		}
		start := time.Now()
		r, err := m.reg.RestProvider.RestRegister(ctx, router, openapi)
		reg.metrics.ObservePhase(string(modkiterrors.PhaseRestRegister), m.Name, time.Since(start), err)
		if err != nil {
			return router, modkiterrors.NewPhaseError(modkiterrors.PhaseRestRegister, m.Name, err)
		}
		router = r
	}

	r, err = host.reg.RestHost.RestFinalize(ctx, router)
	if err != nil {
		return router, modkiterrors.NewPhaseError(modkiterrors.PhaseRestFinalize, hostName, err)
	}
	return r, nil
}

// RunStart starts every Stateful module in forward topo order. On failure,
// it stops the modules already started, in reverse, before returning.
func (reg *Registry) RunStart(ctx context.Context) error {
	started := make([]ModuleDescriptor, 0, len(reg.modules))
	for _, m := range reg.modules {
		if m.reg.Stateful == nil {
			continue
		}
		if ctx.Err() != nil {
			reg.stopReverse(context.Background(), started)
			return ctx.Err()
		}
		start := time.Now()
		err := m.reg.Stateful.Start(ctx)
		reg.metrics.ObservePhase(string(modkiterrors.PhaseStart), m.Name, time.Since(start), err)
		if err != nil {
			reg.stopReverse(context.Background(), started)
			return modkiterrors.NewPhaseError(modkiterrors.PhaseStart, m.Name, err)
		}
		started = append(started, m)
	}
	return nil
}

// RunStop stops every Stateful module in reverse topo order. Individual
// failures are returned to the caller (for logging) but do not abort
// subsequent stops.
func (reg *Registry) RunStop(ctx context.Context) map[string]error {
	var started []ModuleDescriptor
	for _, m := range reg.modules {
		if m.reg.Stateful != nil {
			started = append(started, m)
		}
	}
	return reg.stopReverse(ctx, started)
}

func (reg *Registry) stopReverse(ctx context.Context, mods []ModuleDescriptor) map[string]error {
	errs := make(map[string]error)
	for i := len(mods) - 1; i >= 0; i-- {
		m := mods[i]
		stopCtx, cancel := ctx, context.CancelFunc(func() {})
		if reg.stopTimeout > 0 {
			stopCtx, cancel = context.WithTimeout(ctx, reg.stopTimeout)
		}
		start := time.Now()
		err := m.reg.Stateful.Stop(stopCtx)
		cancel()
		reg.metrics.ObservePhase(string(modkiterrors.PhaseStop), m.Name, time.Since(start), err)
		if err != nil {
			errs[m.Name] = err
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// trackingModule implements every capability interface on one receiver and
// records each call, optionally failing a chosen phase. It plays the role of
// the Rust test suite's TestModule fixture for exercising a full registry
// lifecycle end to end rather than one capability at a time.
type trackingModule struct {
	name string

	mu    sync.Mutex
	calls *[]string

	failInit, failMigrate, failRest, failStart, failStop bool
}

func newTrackingModule(name string, calls *[]string) *trackingModule {
	return &trackingModule{name: name, calls: calls}
}

func (m *trackingModule) record(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*m.calls = append(*m.calls, m.name+"."+event)
}

func (m *trackingModule) Init(ctx context.Context) error {
	m.record("init")
	if m.failInit {
		return errors.New("init failed for " + m.name)
	}
	return nil
}

func (m *trackingModule) MigrateDB(ctx context.Context, db any) error {
	m.record("migrate")
	if m.failMigrate {
		return errors.New("migrate failed for " + m.name)
	}
	return nil
}

func (m *trackingModule) RestRegister(ctx context.Context, router any, openapi any) (any, error) {
	m.record("register_rest")
	if m.failRest {
		return router, errors.New("rest registration failed for " + m.name)
	}
	return router, nil
}

func (m *trackingModule) Start(ctx context.Context) error {
	m.record("start")
	if m.failStart {
		return errors.New("start failed for " + m.name)
	}
	return nil
}

func (m *trackingModule) Stop(ctx context.Context) error {
	m.record("stop")
	if m.failStop {
		return errors.New("stop failed for " + m.name)
	}
	return nil
}

type trackingHost struct{ name string }

func (h *trackingHost) RestPrepare(ctx context.Context, router any) (any, error)  { return router, nil }
func (h *trackingHost) RestFinalize(ctx context.Context, router any) (any, error) { return router, nil }

// buildTrackingRegistry registers n modules, each depending on the previous
// one, so the lifecycle call order doubles as a topo-order assertion.
func buildTrackingRegistry(t *testing.T, calls *[]string, mods ...*trackingModule) *Registry {
	t.Helper()
	b := NewBuilder()
	b.Register(Registration{Name: "host", RestHost: &trackingHost{name: "host"}})
	var prev string
	for _, m := range mods {
		var deps []string
		if prev != "" {
			deps = []string{prev}
		}
		b.Register(Registration{
			Name:         m.name,
			Deps:         deps,
			Init:         m,
			DbMigrate:    m,
			RestProvider: m,
			Stateful:     m,
		})
		prev = m.name
	}
	dbResolver := func(ctx context.Context, module string) (any, error) { return nil, nil }
	lockAcquirer := func(ctx context.Context, module, key string) (func(), error) {
		return func() {}, nil
	}
	b.WithDBResolver(dbResolver).WithLockAcquirer(lockAcquirer)
	reg, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return reg
}

func TestRegistry_FullLifecycle_DependencyOrderPreservedAcrossAllPhases(t *testing.T) {
	var calls []string
	a := newTrackingModule("a", &calls)
	b := newTrackingModule("b", &calls)
	reg := buildTrackingRegistry(t, &calls, a, b)
	ctx := context.Background()

	if err := reg.RunInit(ctx); err != nil {
		t.Fatalf("RunInit() error = %v", err)
	}
	if err := reg.RunDbMigrate(ctx); err != nil {
		t.Fatalf("RunDbMigrate() error = %v", err)
	}
	if _, err := reg.RunRest(ctx, nil, nil); err != nil {
		t.Fatalf("RunRest() error = %v", err)
	}
	if err := reg.RunStart(ctx); err != nil {
		t.Fatalf("RunStart() error = %v", err)
	}
	if errs := reg.RunStop(ctx); len(errs) != 0 {
		t.Fatalf("RunStop() errs = %v", errs)
	}

	want := []string{
		"a.init", "b.init",
		"a.migrate", "b.migrate",
		"a.register_rest", "b.register_rest",
		"a.start", "b.start",
		"b.stop", "a.stop",
	}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls[%d] = %q, want %q (full: %v)", i, calls[i], want[i], calls)
		}
	}
}

func TestRegistry_InitFailure_StopsBeforeLaterPhases(t *testing.T) {
	var calls []string
	a := newTrackingModule("a", &calls)
	b := newTrackingModule("b", &calls)
	b.failInit = true
	reg := buildTrackingRegistry(t, &calls, a, b)
	ctx := context.Background()

	err := reg.RunInit(ctx)
	if err == nil {
		t.Fatal("RunInit() should fail")
	}
	for _, c := range calls {
		if c == "b.migrate" || c == "a.migrate" {
			t.Fatalf("migrate phase must not run after an init failure: calls = %v", calls)
		}
	}
}

func TestRegistry_DbMigrateFailure_BlocksRestAndStart(t *testing.T) {
	var calls []string
	a := newTrackingModule("a", &calls)
	a.failMigrate = true
	reg := buildTrackingRegistry(t, &calls, a)
	ctx := context.Background()

	if err := reg.RunInit(ctx); err != nil {
		t.Fatalf("RunInit() error = %v", err)
	}
	if err := reg.RunDbMigrate(ctx); err == nil {
		t.Fatal("RunDbMigrate() should fail")
	}
}

func TestRegistry_StartFailure_RollsBackOnlyStartedModules(t *testing.T) {
	var calls []string
	a := newTrackingModule("a", &calls)
	b := newTrackingModule("b", &calls)
	c := newTrackingModule("c", &calls)
	b.failStart = true
	reg := buildTrackingRegistry(t, &calls, a, b, c)
	ctx := context.Background()

	if err := reg.RunStart(ctx); err == nil {
		t.Fatal("RunStart() should fail")
	}

	want := []string{"a.start", "b.start", "a.stop"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v (c must never start, a must roll back)", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", calls, want)
		}
	}
}

package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperspot-run/modkit/pkg/modkit/modkiterrors"
)

type fakeInit struct {
	name    string
	calls   *[]string
	failErr error
}

func (f *fakeInit) Init(ctx context.Context) error {
	*f.calls = append(*f.calls, f.name)
	return f.failErr
}

func TestBuild_TopoOrder_DepsPrecedeDependents(t *testing.T) {
	var calls []string
	b := NewBuilder()
	b.Register(Registration{Name: "c", Deps: []string{"a", "b"}, Init: &fakeInit{name: "c", calls: &calls}})
	b.Register(Registration{Name: "a", Init: &fakeInit{name: "a", calls: &calls}})
	b.Register(Registration{Name: "b", Deps: []string{"a"}, Init: &fakeInit{name: "b", calls: &calls}})

	reg, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if err := reg.RunInit(context.Background()); err != nil {
		t.Fatalf("RunInit() error = %v", err)
	}

	pos := map[string]int{}
	for i, n := range calls {
		pos[n] = i
	}
	if pos["a"] > pos["b"] {
		t.Fatalf("a must precede b: order = %v", calls)
	}
	if pos["a"] > pos["c"] || pos["b"] > pos["c"] {
		t.Fatalf("a and b must precede c: order = %v", calls)
	}
}

func TestBuild_CycleDetected_ExactPathExcludesUnrelatedNode(t *testing.T) {
	b := NewBuilder()
	b.Register(Registration{Name: "a", Deps: []string{"b"}})
	b.Register(Registration{Name: "b", Deps: []string{"c"}})
	b.Register(Registration{Name: "c", Deps: []string{"a"}})
	b.Register(Registration{Name: "d"})

	_, err := b.Build()
	if err == nil {
		t.Fatal("Build() should fail on a cycle")
	}

	var cycleErr *modkiterrors.CycleDetectedError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("error = %v, want CycleDetectedError", err)
	}

	path := cycleErr.Path
	if len(path) == 0 || path[0] != path[len(path)-1] {
		t.Fatalf("path %v must start and end at the same node", path)
	}

	seen := map[string]bool{}
	for _, n := range path {
		seen[n] = true
	}
	if !seen["a"] || !seen["b"] || !seen["c"] {
		t.Fatalf("path %v must contain a, b and c", path)
	}
	if seen["d"] {
		t.Fatalf("path %v must not contain d", path)
	}
}

func TestBuild_UnknownDependency(t *testing.T) {
	b := NewBuilder()
	b.Register(Registration{Name: "a", Deps: []string{"ghost"}})

	_, err := b.Build()
	var udErr *modkiterrors.UnknownDependencyError
	if !errors.As(err, &udErr) {
		t.Fatalf("error = %v, want UnknownDependencyError", err)
	}
	if udErr.Module != "a" || udErr.DependsOn != "ghost" {
		t.Fatalf("unexpected fields: %+v", udErr)
	}
}

func TestBuild_DuplicateName_CollectedConfigError(t *testing.T) {
	b := NewBuilder()
	b.Register(Registration{Name: "a"})
	b.Register(Registration{Name: "a"})

	_, err := b.Build()
	var cfgErr *modkiterrors.RegistryConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("error = %v, want RegistryConfigError", err)
	}
}

type fakeRestHost struct{ name string }

func (h *fakeRestHost) RestPrepare(ctx context.Context, router any) (any, error) {
	return append(router.([]string), "prepare:"+h.name), nil
}
func (h *fakeRestHost) RestFinalize(ctx context.Context, router any) (any, error) {
	return append(router.([]string), "finalize:"+h.name), nil
}

type fakeRestProvider struct{ name string }

func (p *fakeRestProvider) RestRegister(ctx context.Context, router any, openapi any) (any, error) {
	return append(router.([]string), "register:"+p.name), nil
}

func TestRunRest_RequiresHostWhenProvidersExist(t *testing.T) {
	b := NewBuilder()
	b.Register(Registration{Name: "p", RestProvider: &fakeRestProvider{name: "p"}})
	reg, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	_, err = reg.RunRest(context.Background(), []string{}, nil)
	if !errors.Is(err, modkiterrors.ErrRestRequiresHost) {
		t.Fatalf("error = %v, want ErrRestRequiresHost", err)
	}
}

func TestRunRest_PrepareRegisterFinalizeOrder(t *testing.T) {
	b := NewBuilder()
	b.Register(Registration{Name: "host", RestHost: &fakeRestHost{name: "host"}})
	b.Register(Registration{Name: "p1", RestProvider: &fakeRestProvider{name: "p1"}})
	b.Register(Registration{Name: "p2", RestProvider: &fakeRestProvider{name: "p2"}})

	reg, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	out, err := reg.RunRest(context.Background(), []string{}, nil)
	if err != nil {
		t.Fatalf("RunRest() error = %v", err)
	}

	got := out.([]string)
	want := []string{"prepare:host", "register:p1", "register:p2", "finalize:host"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

type fakeStateful struct {
	name      string
	events    *[]string
	failStart bool
}

func (s *fakeStateful) Start(ctx context.Context) error {
	*s.events = append(*s.events, "start:"+s.name)
	if s.failStart {
		return errors.New("boom")
	}
	return nil
}

func (s *fakeStateful) Stop(ctx context.Context) error {
	*s.events = append(*s.events, "stop:"+s.name)
	return nil
}

func TestRunStart_RollsBackOnFailure(t *testing.T) {
	var events []string
	b := NewBuilder()
	b.Register(Registration{Name: "a", Stateful: &fakeStateful{name: "a", events: &events}})
	b.Register(Registration{Name: "b", Deps: []string{"a"}, Stateful: &fakeStateful{name: "b", events: &events, failStart: true}})

	reg, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	err = reg.RunStart(context.Background())
	if err == nil {
		t.Fatal("RunStart() should fail")
	}

	want := []string{"start:a", "start:b", "stop:a"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

func TestRunStop_ReverseOrder(t *testing.T) {
	var events []string
	b := NewBuilder()
	b.Register(Registration{Name: "a", Stateful: &fakeStateful{name: "a", events: &events}})
	b.Register(Registration{Name: "b", Deps: []string{"a"}, Stateful: &fakeStateful{name: "b", events: &events}})

	reg, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if err := reg.RunStart(context.Background()); err != nil {
		t.Fatalf("RunStart() error = %v", err)
	}

	events = nil
	errs := reg.RunStop(context.Background())
	if len(errs) != 0 {
		t.Fatalf("RunStop() errs = %v", errs)
	}
	want := []string{"stop:b", "stop:a"}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}

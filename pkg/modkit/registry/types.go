package registry

import "context"

// Capability is a declared role a module plays. Each role has a fixed
// interface contract (see the Initializer/DbMigrator/RestHost/RestProvider/
// Stateful interfaces below).
type Capability string

const (
	CapInit         Capability = "init"
	CapDbMigrate    Capability = "db-migrate"
	CapRestProvider Capability = "rest-provider"
	CapRestHost     Capability = "rest-host"
	CapStateful     Capability = "stateful"
)

// Initializer runs once, in topo order, during the init phase.
type Initializer interface {
	Init(ctx context.Context) error
}

// DbMigrator runs its migration under an advisory lock named
// "{module}:migration" held for the call's duration.
type DbMigrator interface {
	MigrateDB(ctx context.Context, db any) error
}

// RestHost is the single module (zero or one per registry) that owns the
// router. Prepare runs before any provider registers; Finalize runs after
// all providers have registered.
type RestHost interface {
	RestPrepare(ctx context.Context, router any) (any, error)
	RestFinalize(ctx context.Context, router any) (any, error)
}

// RestProvider registers its routes against the host's router during the
// rest-register step.
type RestProvider interface {
	RestRegister(ctx context.Context, router any, openapi any) (any, error)
}

// Stateful is a long-running module driven by the start/stop phases.
type Stateful interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DBResolver looks up the per-module database handle used by the
// db-migrate phase. It is supplied by the embedding application (typically
// backed by a dbmanager.Manager) so the registry never depends on a
// concrete database package.
type DBResolver func(ctx context.Context, module string) (any, error)

// LockAcquirer acquires the named advisory lock used to serialize
// concurrent migrations across processes. It returns a release function.
type LockAcquirer func(ctx context.Context, module, key string) (release func(), err error)

// Registration is what a module contributes to the registry: a name, its
// dependencies, and zero-or-more capability implementations. A single
// concrete module type commonly implements more than one capability
// interface; Registration records whichever labelled fields the caller
// filled in explicitly, rather than relying on type assertions, so the
// registry's capability bookkeeping stays independent of what the module
// type happens to implement elsewhere.
type Registration struct {
	Name string
	Deps []string

	Init         Initializer
	DbMigrate    DbMigrator
	RestHost     RestHost
	RestProvider RestProvider
	Stateful     Stateful
}

func (r Registration) capabilities() []Capability {
	var caps []Capability
	if r.Init != nil {
		caps = append(caps, CapInit)
	}
	if r.DbMigrate != nil {
		caps = append(caps, CapDbMigrate)
	}
	if r.RestHost != nil {
		caps = append(caps, CapRestHost)
	}
	if r.RestProvider != nil {
		caps = append(caps, CapRestProvider)
	}
	if r.Stateful != nil {
		caps = append(caps, CapStateful)
	}
	return caps
}

// ModuleDescriptor is the registry's immutable, topo-ordered view of one
// registered module.
type ModuleDescriptor struct {
	Name         string
	Deps         []string
	Capabilities []Capability
	reg          Registration
}

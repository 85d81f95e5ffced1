// Package modkiterrors is the shared error taxonomy for modkit's core
// subsystems: the registry, the lifecycle controller, the DB manager, the
// advisory lock manager, and the OData pagination engine.
//
// Every typed error here implements Problem() so a boundary HTTP adapter can
// render an RFC-9457 problem document without this package importing net/http.
package modkiterrors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for errors.Is checks across subsystems.
var (
	ErrInvalidFilter       = errors.New("invalid filter")
	ErrInvalidOrderByField = errors.New("invalid order-by field")
	ErrInvalidLimit        = errors.New("invalid limit")
	ErrInvalidCursor       = errors.New("invalid cursor")
	ErrFilterMismatch      = errors.New("filter hash mismatch")
	ErrOrderMismatch       = errors.New("order mismatch")
	ErrConfigConflict      = errors.New("database configuration conflict")
	ErrInvalidConfig       = errors.New("invalid database configuration")
	ErrFeatureDisabled     = errors.New("feature disabled")
	ErrPathNotFound        = errors.New("path not found")
	ErrAlreadyHeld         = errors.New("lock already held")
	ErrLockNotFound        = errors.New("lock not found")
	ErrUnknownModule       = errors.New("unknown module")
	ErrUnknownDependency   = errors.New("unknown dependency")
	ErrCycleDetected       = errors.New("dependency cycle detected")
	ErrRestRequiresHost    = errors.New("rest providers registered without a rest host")
	ErrMultipleRestHosts   = errors.New("more than one rest host registered")
)

// Problem is the shape every taxonomy error can render itself as.
type Problem struct {
	Status int
	Code   string
	Title  string
	Detail string
}

// problemer is satisfied by every error type in this package.
type problemer interface {
	error
	Problem() Problem
}

var _ = []problemer{
	(*InvalidFilterError)(nil),
	(*InvalidOrderByFieldError)(nil),
	(*InvalidCursorError)(nil),
	(*TypeMismatchError)(nil),
	(*UnknownFieldError)(nil),
	(*ConfigConflictError)(nil),
	(*InvalidConfigError)(nil),
	(*FeatureDisabledError)(nil),
	(*PathNotFoundError)(nil),
	(*LockError)(nil),
	(*PhaseError)(nil),
	(*CycleDetectedError)(nil),
	(*UnknownDependencyError)(nil),
	(*RegistryConfigError)(nil),
}

// AsProblem converts any error into a Problem, falling back to a generic
// 500 for errors outside this taxonomy.
func AsProblem(err error) Problem {
	var p problemer
	if errors.As(err, &p) {
		return p.Problem()
	}
	return Problem{Status: 500, Code: "internal", Title: "Internal Server Error", Detail: err.Error()}
}

// InvalidFilterError wraps a filter that failed to parse or compile.
type InvalidFilterError struct {
	Detail string
}

func (e *InvalidFilterError) Error() string { return fmt.Sprintf("invalid filter: %s", e.Detail) }
func (e *InvalidFilterError) Unwrap() error { return ErrInvalidFilter }
func (e *InvalidFilterError) Problem() Problem {
	return Problem{Status: 400, Code: "invalid_filter", Title: "Invalid Filter", Detail: e.Detail}
}
func NewInvalidFilterError(detail string) error { return &InvalidFilterError{Detail: detail} }

// InvalidOrderByFieldError names an order field that is not in the field map
// or whose signed token is malformed.
type InvalidOrderByFieldError struct {
	Name string
}

func (e *InvalidOrderByFieldError) Error() string {
	return fmt.Sprintf("invalid order-by field: %s", e.Name)
}
func (e *InvalidOrderByFieldError) Unwrap() error { return ErrInvalidOrderByField }
func (e *InvalidOrderByFieldError) Problem() Problem {
	return Problem{Status: 400, Code: "invalid_order_by_field", Title: "Invalid Order-By Field", Detail: e.Name}
}
func NewInvalidOrderByFieldError(name string) error { return &InvalidOrderByFieldError{Name: name} }

// InvalidLimitError is returned when a limit falls outside accepted bounds.
type InvalidLimitError struct {
	Detail string
}

func (e *InvalidLimitError) Error() string { return fmt.Sprintf("invalid limit: %s", e.Detail) }
func (e *InvalidLimitError) Unwrap() error { return ErrInvalidLimit }
func (e *InvalidLimitError) Problem() Problem {
	return Problem{Status: 400, Code: "invalid_limit", Title: "Invalid Limit", Detail: e.Detail}
}
func NewInvalidLimitError(detail string) error { return &InvalidLimitError{Detail: detail} }

// InvalidCursorError covers every cursor decode/validation failure. Reason is
// one of the CursorInvalid* constants below.
type InvalidCursorError struct {
	Reason string
}

const (
	CursorInvalidBase64    = "cursor_invalid_base64"
	CursorInvalidJSON      = "cursor_invalid_json"
	CursorInvalidVersion   = "cursor_invalid_version"
	CursorInvalidKeys      = "cursor_invalid_keys"
	CursorInvalidFields    = "cursor_invalid_fields"
	CursorInvalidDirection = "cursor_invalid_direction"
	CursorTooLarge         = "cursor_too_large"
	CursorArityMismatch    = "cursor_arity_mismatch"
	CursorBadKeyValue      = "cursor_bad_key_value"
)

func (e *InvalidCursorError) Error() string { return fmt.Sprintf("invalid cursor: %s", e.Reason) }
func (e *InvalidCursorError) Unwrap() error { return ErrInvalidCursor }
func (e *InvalidCursorError) Problem() Problem {
	return Problem{Status: 400, Code: "invalid_cursor", Title: "Invalid Cursor", Detail: e.Reason}
}
func NewInvalidCursorError(reason string) error { return &InvalidCursorError{Reason: reason} }

// UnknownFieldError names a field referenced in a filter/order/cursor that is
// not present in the entity's field map.
type UnknownFieldError struct {
	Name string
}

func (e *UnknownFieldError) Error() string  { return fmt.Sprintf("unknown field: %s", e.Name) }
func (e *UnknownFieldError) Unwrap() error  { return ErrInvalidFilter }
func (e *UnknownFieldError) Problem() Problem {
	return Problem{Status: 400, Code: "unknown_field", Title: "Unknown Field", Detail: e.Name}
}
func NewUnknownFieldError(name string) error { return &UnknownFieldError{Name: name} }

// TypeMismatchError is returned when a filter value does not coerce to the
// field's declared kind.
type TypeMismatchError struct {
	Expected string
	Got      string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: expected %s, got %s", e.Expected, e.Got)
}
func (e *TypeMismatchError) Unwrap() error { return ErrInvalidFilter }
func (e *TypeMismatchError) Problem() Problem {
	return Problem{Status: 400, Code: "type_mismatch", Title: "Type Mismatch", Detail: e.Error()}
}
func NewTypeMismatchError(expected, got string) error {
	return &TypeMismatchError{Expected: expected, Got: got}
}

// UnsupportedOpError is returned for operator/value combinations the filter
// compiler does not allow (e.g. NULL with gt/ge/lt/le).
type UnsupportedOpError struct {
	Op string
}

func (e *UnsupportedOpError) Error() string  { return fmt.Sprintf("unsupported operator: %s", e.Op) }
func (e *UnsupportedOpError) Unwrap() error  { return ErrInvalidFilter }
func (e *UnsupportedOpError) Problem() Problem {
	return Problem{Status: 400, Code: "unsupported_op", Title: "Unsupported Operator", Detail: e.Op}
}
func NewUnsupportedOpError(op string) error { return &UnsupportedOpError{Op: op} }

// FilterMismatchError is returned when a cursor's bound filter hash differs
// from the request's filter hash.
type FilterMismatchError struct{}

func (e *FilterMismatchError) Error() string { return "filter hash mismatch between cursor and request" }
func (e *FilterMismatchError) Unwrap() error { return ErrFilterMismatch }
func (e *FilterMismatchError) Problem() Problem {
	return Problem{Status: 409, Code: "filter_mismatch", Title: "Filter Mismatch", Detail: e.Error()}
}
func NewFilterMismatchError() error { return &FilterMismatchError{} }

// OrderMismatchError is returned when a cursor's order tokens differ from
// the effective order in a context requiring equality.
type OrderMismatchError struct{}

func (e *OrderMismatchError) Error() string { return "order mismatch between cursor and request" }
func (e *OrderMismatchError) Unwrap() error { return ErrOrderMismatch }
func (e *OrderMismatchError) Problem() Problem {
	return Problem{Status: 409, Code: "order_mismatch", Title: "Order Mismatch", Detail: e.Error()}
}
func NewOrderMismatchError() error { return &OrderMismatchError{} }

// ConfigConflictError marks a database configuration that violates an
// invariant (e.g. a SQLite DSN carrying host/port).
type ConfigConflictError struct {
	Detail string
}

func (e *ConfigConflictError) Error() string { return fmt.Sprintf("config conflict: %s", e.Detail) }
func (e *ConfigConflictError) Unwrap() error { return ErrConfigConflict }
func (e *ConfigConflictError) Problem() Problem {
	return Problem{Status: 500, Code: "config_conflict", Title: "Configuration Conflict", Detail: e.Detail}
}
func NewConfigConflictError(detail string) error { return &ConfigConflictError{Detail: detail} }

// InvalidConfigError marks configuration that cannot be resolved, such as a
// reference to an unknown server entry.
type InvalidConfigError struct {
	Detail string
}

func (e *InvalidConfigError) Error() string { return fmt.Sprintf("invalid config: %s", e.Detail) }
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }
func (e *InvalidConfigError) Problem() Problem {
	return Problem{Status: 500, Code: "invalid_config", Title: "Invalid Configuration", Detail: e.Detail}
}
func NewInvalidConfigError(detail string) error { return &InvalidConfigError{Detail: detail} }

// FeatureDisabledError marks a backend feature that was required but is not
// compiled/available.
type FeatureDisabledError struct {
	Name string
}

func (e *FeatureDisabledError) Error() string { return fmt.Sprintf("feature disabled: %s", e.Name) }
func (e *FeatureDisabledError) Unwrap() error { return ErrFeatureDisabled }
func (e *FeatureDisabledError) Problem() Problem {
	return Problem{Status: 500, Code: "feature_disabled", Title: "Feature Disabled", Detail: e.Name}
}
func NewFeatureDisabledError(name string) error { return &FeatureDisabledError{Name: name} }

// PathNotFoundError marks a filesystem path that auto-provisioning was
// disabled for and which does not already exist.
type PathNotFoundError struct {
	Path string
}

func (e *PathNotFoundError) Error() string { return fmt.Sprintf("path not found: %s", e.Path) }
func (e *PathNotFoundError) Unwrap() error { return ErrPathNotFound }
func (e *PathNotFoundError) Problem() Problem {
	return Problem{Status: 404, Code: "path_not_found", Title: "Path Not Found", Detail: e.Path}
}
func NewPathNotFoundError(path string) error { return &PathNotFoundError{Path: path} }

// LockError covers advisory-lock contention outcomes.
type LockError struct {
	Name   string
	NotYet bool // true => ErrLockNotFound semantics, false => ErrAlreadyHeld
}

func (e *LockError) Error() string {
	if e.NotYet {
		return fmt.Sprintf("lock not found: %s", e.Name)
	}
	return fmt.Sprintf("lock already held: %s", e.Name)
}
func (e *LockError) Unwrap() error {
	if e.NotYet {
		return ErrLockNotFound
	}
	return ErrAlreadyHeld
}
func (e *LockError) Problem() Problem {
	if e.NotYet {
		return Problem{Status: 404, Code: "lock_not_found", Title: "Lock Not Found", Detail: e.Name}
	}
	return Problem{Status: 409, Code: "lock_already_held", Title: "Lock Already Held", Detail: e.Name}
}
func NewAlreadyHeldError(name string) error { return &LockError{Name: name} }
func NewLockNotFoundError(name string) error { return &LockError{Name: name, NotYet: true} }

// Phase identifies an orchestrator phase for PhaseError.
type Phase string

const (
	PhaseInit         Phase = "init"
	PhaseStart        Phase = "start"
	PhaseDbMigrate    Phase = "db_migrate"
	PhaseRestPrepare  Phase = "rest_prepare"
	PhaseRestRegister Phase = "rest_register"
	PhaseRestFinalize Phase = "rest_finalize"
	PhaseStop         Phase = "stop"
)

// PhaseError tags a phased lifecycle failure with the responsible module.
type PhaseError struct {
	Phase  Phase
	Module string
	Source error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s phase failed for module %q: %v", e.Phase, e.Module, e.Source)
}
func (e *PhaseError) Unwrap() error { return e.Source }
func (e *PhaseError) Problem() Problem {
	return Problem{Status: 500, Code: "phase_failed:" + string(e.Phase), Title: "Phase Failed", Detail: e.Error()}
}
func NewPhaseError(phase Phase, module string, source error) error {
	return &PhaseError{Phase: phase, Module: module, Source: source}
}

// RestRequiresHostError is returned when rest-providers are registered but no
// rest-host exists in the registry.
type RestRequiresHostError struct{}

func (e *RestRequiresHostError) Error() string { return "rest providers registered without a rest host" }
func (e *RestRequiresHostError) Unwrap() error { return ErrRestRequiresHost }
func (e *RestRequiresHostError) Problem() Problem {
	return Problem{Status: 500, Code: "rest_requires_host", Title: "REST Host Required", Detail: e.Error()}
}
func NewRestRequiresHostError() error { return &RestRequiresHostError{} }

// MultipleRestHostsError is returned when more than one module declares the
// rest-host capability.
type MultipleRestHostsError struct {
	Hosts []string
}

func (e *MultipleRestHostsError) Error() string {
	return fmt.Sprintf("multiple rest hosts registered: %s", strings.Join(e.Hosts, ", "))
}
func (e *MultipleRestHostsError) Unwrap() error { return ErrMultipleRestHosts }
func (e *MultipleRestHostsError) Problem() Problem {
	return Problem{Status: 500, Code: "multiple_rest_hosts", Title: "Multiple REST Hosts", Detail: e.Error()}
}
func NewMultipleRestHostsError(hosts []string) error { return &MultipleRestHostsError{Hosts: hosts} }

// UnknownModuleError is returned when a capability is registered for a name
// that is not a registered core module.
type UnknownModuleError struct {
	Name string
}

func (e *UnknownModuleError) Error() string { return fmt.Sprintf("unknown module: %s", e.Name) }
func (e *UnknownModuleError) Unwrap() error { return ErrUnknownModule }
func (e *UnknownModuleError) Problem() Problem {
	return Problem{Status: 500, Code: "unknown_module", Title: "Unknown Module", Detail: e.Name}
}
func NewUnknownModuleError(name string) error { return &UnknownModuleError{Name: name} }

// UnknownDependencyError is returned when a module declares a dependency on
// a name that never resolves to a registered module.
type UnknownDependencyError struct {
	Module    string
	DependsOn string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("module %q depends on unknown module %q", e.Module, e.DependsOn)
}
func (e *UnknownDependencyError) Unwrap() error { return ErrUnknownDependency }
func (e *UnknownDependencyError) Problem() Problem {
	return Problem{Status: 500, Code: "unknown_dependency", Title: "Unknown Dependency", Detail: e.Error()}
}
func NewUnknownDependencyError(module, dependsOn string) error {
	return &UnknownDependencyError{Module: module, DependsOn: dependsOn}
}

// CycleDetectedError carries the cycle path, starting and ending at the same
// node, listing only nodes on the cycle.
type CycleDetectedError struct {
	Path []string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}
func (e *CycleDetectedError) Unwrap() error { return ErrCycleDetected }
func (e *CycleDetectedError) Problem() Problem {
	return Problem{Status: 500, Code: "cycle_detected", Title: "Dependency Cycle Detected", Detail: e.Error()}
}
func NewCycleDetectedError(path []string) error { return &CycleDetectedError{Path: path} }

// RegistryConfigError collects multiple registration-time configuration
// defects so they are reported together rather than one per run.
type RegistryConfigError struct {
	Errors []string
}

func (e *RegistryConfigError) Error() string {
	return fmt.Sprintf("invalid registry configuration: %s", strings.Join(e.Errors, "; "))
}
func (e *RegistryConfigError) Problem() Problem {
	return Problem{Status: 500, Code: "invalid_registry_configuration", Title: "Invalid Registry Configuration", Detail: e.Error()}
}
func NewRegistryConfigError(errs []string) error { return &RegistryConfigError{Errors: errs} }

package anvil

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// =============================================================================
// ERROR CODES
// =============================================================================

const (
	// CodeInvalidRegistration indicates a registration with missing or invalid arguments
	CodeInvalidRegistration = "INVALID_REGISTRATION"

	// CodeIncompatibleTypes indicates a mapping whose target cannot stand in for its source
	CodeIncompatibleTypes = "INCOMPATIBLE_TYPES"

	// CodeLifetimeInUse indicates a lifetime manager attached to a second key
	CodeLifetimeInUse = "LIFETIME_MANAGER_IN_USE"

	// CodeInvalidConstructor indicates a constructor that cannot be injected
	CodeInvalidConstructor = "INVALID_CONSTRUCTOR"

	// CodeDuplicateMapping indicates a mapping that would replace an existing one
	CodeDuplicateMapping = "DUPLICATE_MAPPING"

	// CodeResolutionFailed indicates a failed resolve, build-up or teardown
	CodeResolutionFailed = "RESOLUTION_FAILED"

	// CodeContainerDisposed indicates use of a disposed container
	CodeContainerDisposed = "CONTAINER_DISPOSED"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrNotConstructible is returned for types the container cannot build
	// without a registration (interfaces, funcs, basic kinds).
	ErrNotConstructible = errors.New("type cannot be constructed")

	// ErrNoViableConstructor is returned when no constructor candidate has
	// all of its parameters resolvable.
	ErrNoViableConstructor = errors.New("no viable constructor")

	// ErrAmbiguousConstructor is returned when two candidates tie.
	ErrAmbiguousConstructor = errors.New("ambiguous constructor")

	// ErrCircularDependency is returned when a build requires itself.
	ErrCircularDependency = errors.New("circular dependency")

	// ErrCyclicTypeMapping is returned when type mappings form a loop.
	ErrCyclicTypeMapping = errors.New("cyclic type mapping")

	// ErrGenericClosing is returned when a generic registration cannot be
	// closed for the requested type.
	ErrGenericClosing = errors.New("cannot close generic type")

	// ErrMaxDepthExceeded is returned when a build nests deeper than the limit.
	ErrMaxDepthExceeded = errors.New("maximum build depth exceeded")

	// ErrConstructorPanic is returned when user code panics during a build.
	ErrConstructorPanic = errors.New("panic during build")

	// ErrContainerDisposed is returned by a disposed container.
	ErrContainerDisposed = errors.New("container is disposed")

	// ErrMissingMember is returned when an injection member names a field or
	// method the type does not have.
	ErrMissingMember = errors.New("injection member not found")

	// ErrLifetimeManagerInUse is returned when a manager is attached twice.
	ErrLifetimeManagerInUse = errors.New("lifetime manager is already in use")

	// ErrNilArgument is returned for nil registration arguments.
	ErrNilArgument = errors.New("argument cannot be nil")

	// ErrIncompatibleTypes is returned when a mapping target is not
	// assignable to its source.
	ErrIncompatibleTypes = errors.New("incompatible types")

	// ErrDuplicateMapping is returned by RegisterTypeIfAbsent.
	ErrDuplicateMapping = errors.New("mapping already exists")
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ResolutionFailedError is returned by the public resolve, build-up and
// teardown calls. Key is what the caller asked for; FailedKey and Operation
// locate the innermost build that failed.
type ResolutionFailedError struct {
	Key       BuildKey
	FailedKey BuildKey
	Operation string
	Err       error
}

func (e *ResolutionFailedError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "resolution of %s failed", e.Key)

	if e.FailedKey.Type != nil && e.FailedKey != e.Key {
		fmt.Fprintf(&b, " while building %s", e.FailedKey)
	}

	if e.Operation != "" {
		fmt.Fprintf(&b, " (%s)", e.Operation)
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

func (e *ResolutionFailedError) Unwrap() error {
	return e.Err
}

// Code returns CodeResolutionFailed, or CodeContainerDisposed when the
// container was disposed.
func (e *ResolutionFailedError) Code() string {
	if errors.Is(e.Err, ErrContainerDisposed) {
		return CodeContainerDisposed
	}

	return CodeResolutionFailed
}

// ConfigurationError is returned synchronously by registration calls.
type ConfigurationError struct {
	Code    string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// DuplicateMappingError reports a mapping RegisterTypeIfAbsent refused to
// replace.
type DuplicateMappingError struct {
	Key       BuildKey
	Existing  BuildKey
	Requested BuildKey
}

func (e *DuplicateMappingError) Error() string {
	return fmt.Sprintf("%s: %s is already mapped to %s, cannot map it to %s",
		CodeDuplicateMapping, e.Key, e.Existing, e.Requested)
}

func (e *DuplicateMappingError) Unwrap() error {
	return ErrDuplicateMapping
}

// =============================================================================
// ERROR CONSTRUCTORS
// =============================================================================

func configError(code string, cause error, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     cause,
	}
}

// resolutionFailed wraps the cause of a failed top-level build.
func resolutionFailed(ctx *BuilderContext, key BuildKey, cause error) *ResolutionFailedError {
	e := &ResolutionFailedError{Key: key, FailedKey: key, Err: cause}

	if ctx != nil && ctx.failure != nil {
		e.FailedKey = ctx.failure.key
		e.Operation = ctx.failure.operation
	}

	return e
}

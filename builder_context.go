package anvil

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// BuilderContext is the mutable state of one build. Dependencies are built in
// child contexts that share the strategies, lifetime container, policies and
// overrides of their parent but get their own key and instance.
type BuilderContext struct {
	// Strategies is the full chain, used for nested builds.
	Strategies *StrategyChain
	// Lifetime tracks objects owned by the resolving container.
	Lifetime *LifetimeContainer
	// PersistentPolicies are the resolving container's policies.
	PersistentPolicies *PolicyList
	// Policies are transient policies for this top-level call, chained to
	// PersistentPolicies.
	Policies *PolicyList

	// OriginalBuildKey is the key this context was asked to build.
	OriginalBuildKey BuildKey
	// BuildKey is the current key; the type mapping stage rewrites it.
	BuildKey BuildKey
	// Existing is the instance built so far, or supplied by BuildUp.
	Existing any
	// BuildComplete stops the remaining pre hooks.
	BuildComplete bool
	// CurrentOperation describes what the plan is resolving, for overrides
	// and error messages.
	CurrentOperation fmt.Stringer

	// Recovery holds cleanups to run when this build fails.
	Recovery *RecoveryStack

	container *Container
	parent    *BuilderContext
	root      *BuilderContext
	overrides []ResolverOverride
	depth     int

	plan            BuildPlan
	pendingLifetime LifetimePolicy

	// root only
	perResolve map[*PerResolveLifetimeManager]any
	failure    *failureInfo
}

type failureInfo struct {
	key       BuildKey
	operation string
}

func newRootContext(c *Container, chain *StrategyChain, key BuildKey, existing any, overrides []ResolverOverride) *BuilderContext {
	ctx := &BuilderContext{
		Strategies:         chain,
		Lifetime:           c.lifetime,
		PersistentPolicies: c.policies,
		Policies:           NewPolicyList(c.policies),
		OriginalBuildKey:   key,
		BuildKey:           key,
		Existing:           existing,
		Recovery:           &RecoveryStack{},
		container:          c,
		overrides:          append([]ResolverOverride(nil), overrides...),
		perResolve:         make(map[*PerResolveLifetimeManager]any),
	}
	ctx.root = ctx

	return ctx
}

// Container returns the container performing the build.
func (ctx *BuilderContext) Container() *Container {
	return ctx.container
}

// Parent returns the context that requested this build, or nil for the
// top-level context.
func (ctx *BuilderContext) Parent() *BuilderContext {
	return ctx.parent
}

// Depth returns the nesting level; the top-level context is 0.
func (ctx *BuilderContext) Depth() int {
	return ctx.depth
}

// AddResolverOverrides adds overrides visible to this context and its children.
// Overrides added later take precedence.
func (ctx *BuilderContext) AddResolverOverrides(overrides ...ResolverOverride) {
	ctx.overrides = append(ctx.overrides, overrides...)
}

// OverriddenResolver returns the resolver of the most recently added override
// matching the current operation, searching this context and then its parents.
func (ctx *BuilderContext) OverriddenResolver(dependency Type) (DependencyResolver, bool) {
	for c := ctx; c != nil; c = c.parent {
		for i := len(c.overrides) - 1; i >= 0; i-- {
			if r, ok := c.overrides[i].Resolver(ctx, dependency); ok {
				return r, true
			}
		}
	}

	return nil, false
}

func (ctx *BuilderContext) hasOverrides() bool {
	for c := ctx; c != nil; c = c.parent {
		if len(c.overrides) > 0 {
			return true
		}
	}

	return false
}

// NewBuildUp builds key in a child context.
func (ctx *BuilderContext) NewBuildUp(key BuildKey) (any, error) {
	child, err := ctx.newChild(key)
	if err != nil {
		return nil, err
	}

	return ctx.Strategies.ExecuteBuildUp(child)
}

func (ctx *BuilderContext) newChild(key BuildKey) (*BuilderContext, error) {
	if limit := ctx.container.settings.MaxDepth; limit > 0 && ctx.depth+1 > limit {
		return nil, errors.Wrapf(ErrMaxDepthExceeded, "building %s at depth %d", key, ctx.depth+1)
	}

	for c := ctx; c != nil; c = c.parent {
		if c.OriginalBuildKey == key {
			return nil, errors.Wrap(ErrCircularDependency, ctx.pathTo(key))
		}
	}

	return &BuilderContext{
		Strategies:         ctx.Strategies,
		Lifetime:           ctx.Lifetime,
		PersistentPolicies: ctx.PersistentPolicies,
		Policies:           ctx.Policies,
		OriginalBuildKey:   key,
		BuildKey:           key,
		Recovery:           &RecoveryStack{},
		container:          ctx.container,
		parent:             ctx,
		root:               ctx.root,
		depth:              ctx.depth + 1,
	}, nil
}

// inProgress reports whether an ancestor context is currently building key
// (after type mapping).
func (ctx *BuilderContext) inProgress(key BuildKey) bool {
	for c := ctx.parent; c != nil; c = c.parent {
		if c.BuildKey == key {
			return true
		}
	}

	return false
}

func (ctx *BuilderContext) pathTo(key BuildKey) string {
	var chain []string
	for c := ctx; c != nil; c = c.parent {
		chain = append(chain, c.OriginalBuildKey.String())
	}

	var b strings.Builder

	for i := len(chain) - 1; i >= 0; i-- {
		b.WriteString(chain[i])
		b.WriteString(" -> ")
	}

	b.WriteString(key.String())

	return b.String()
}

// noteFailure records the innermost failing build on the root context.
func (ctx *BuilderContext) noteFailure() {
	if ctx.root.failure != nil {
		return
	}

	f := &failureInfo{key: ctx.BuildKey}
	if ctx.CurrentOperation != nil {
		f.operation = ctx.CurrentOperation.String()
	}

	ctx.root.failure = f
}

// RecoveryStack holds cleanups for a failed build, run last-in first-out.
type RecoveryStack struct {
	items []RequiresRecovery
	mu    sync.Mutex
}

// Add pushes a recovery.
func (s *RecoveryStack) Add(r RequiresRecovery) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append(s.items, r)
}

// Len returns the number of pending recoveries.
func (s *RecoveryStack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.items)
}

// ExecuteRecovery runs and clears every recovery.
func (s *RecoveryStack) ExecuteRecovery() {
	s.mu.Lock()
	items := s.items
	s.items = nil
	s.mu.Unlock()

	for i := len(items) - 1; i >= 0; i-- {
		items[i].Recover()
	}
}

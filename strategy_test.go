package anvil

import (
	"errors"
	"reflect"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	BuilderStrategyBase

	name     string
	log      *[]string
	complete bool
	fail     error
}

func (r *recorder) PreBuildUp(ctx *BuilderContext) error {
	*r.log = append(*r.log, "pre:"+r.name)

	if r.fail != nil {
		return r.fail
	}

	if r.complete {
		ctx.Existing = r.name
		ctx.BuildComplete = true
	}

	return nil
}

func (r *recorder) PostBuildUp(*BuilderContext) error {
	*r.log = append(*r.log, "post:"+r.name)

	return nil
}

func (r *recorder) PreTearDown(*BuilderContext) error {
	*r.log = append(*r.log, "pre-teardown:"+r.name)

	return nil
}

func (r *recorder) PostTearDown(*BuilderContext) error {
	*r.log = append(*r.log, "post-teardown:"+r.name)

	return nil
}

type recoveryFunc func()

func (f recoveryFunc) Recover() { f() }

type countingCreator struct {
	plans *atomic.Int32
}

func (c countingCreator) CreatePlan(ctx *BuilderContext, key BuildKey) (BuildPlan, error) {
	c.plans.Add(1)

	return DynamicBuildPlanCreator{}.CreatePlan(ctx, key)
}

func strategyNames(chain *StrategyChain) []string {
	var out []string

	for _, s := range chain.Strategies() {
		out = append(out, s.(*recorder).name)
	}

	return out
}

func TestStagedStrategyChain_Order(t *testing.T) {
	var log []string

	parent := NewStagedStrategyChain(nil)
	parent.Add(&recorder{name: "creation", log: &log}, StageCreation)
	parent.Add(&recorder{name: "setup", log: &log}, StageSetup)

	child := NewStagedStrategyChain(parent)
	child.Add(&recorder{name: "child-setup", log: &log}, StageSetup)
	child.Add(&recorder{name: "child-post", log: &log}, StagePostInitialization)

	assert.Equal(t, []string{"setup", "child-setup", "creation", "child-post"}, strategyNames(child.MakeStrategyChain()))
	assert.Equal(t, []string{"setup", "creation"}, strategyNames(parent.MakeStrategyChain()))
}

func TestStagedStrategyChain_CompiledChainIsCached(t *testing.T) {
	var log []string

	parent := NewStagedStrategyChain(nil)
	child := NewStagedStrategyChain(parent)

	first := child.MakeStrategyChain()
	assert.Same(t, first, child.MakeStrategyChain())

	s := &recorder{name: "late", log: &log}
	parent.Add(s, StageCreation)

	second := child.MakeStrategyChain()
	assert.NotSame(t, first, second)
	assert.Equal(t, 1, second.Len())

	require.True(t, parent.Remove(s))
	assert.False(t, parent.Remove(s))
	assert.Equal(t, 0, child.MakeStrategyChain().Len())

	child.Add(s, StageSetup)
	child.Clear()
	assert.Equal(t, 0, child.MakeStrategyChain().Len())
}

func TestStagedStrategyChain_InvalidStagePanics(t *testing.T) {
	chain := NewStagedStrategyChain(nil)

	assert.Panics(t, func() { chain.Add(BuilderStrategyBase{}, stageCount) })
	assert.Equal(t, "Stage(42)", Stage(42).String())
	assert.Equal(t, "Lifetime", StageLifetime.String())
}

func TestStrategyChain_ExecuteBuildUp(t *testing.T) {
	var log []string

	staged := NewStagedStrategyChain(nil)
	staged.Add(&recorder{name: "a", log: &log}, StageSetup)
	staged.Add(&recorder{name: "b", log: &log, complete: true}, StageLifetime)
	staged.Add(&recorder{name: "c", log: &log}, StageCreation)

	chain := staged.MakeStrategyChain()
	ctx := newRootContext(New(), chain, KeyOf[string](""), nil, nil)

	result, err := chain.ExecuteBuildUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", result)
	assert.Equal(t, []string{"pre:a", "pre:b", "post:b", "post:a"}, log)
}

func TestStrategyChain_ExecuteBuildUpRunsAllPostHooks(t *testing.T) {
	var log []string

	staged := NewStagedStrategyChain(nil)
	staged.Add(&recorder{name: "a", log: &log}, StageSetup)
	staged.Add(&recorder{name: "b", log: &log}, StageCreation)

	chain := staged.MakeStrategyChain()
	ctx := newRootContext(New(), chain, KeyOf[string](""), nil, nil)

	_, err := chain.ExecuteBuildUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"pre:a", "pre:b", "post:b", "post:a"}, log)
}

func TestStrategyChain_FailureRunsRecovery(t *testing.T) {
	var log []string

	boom := errors.New("boom")
	recovered := 0

	staged := NewStagedStrategyChain(nil)
	staged.Add(&recorder{name: "a", log: &log}, StageSetup)
	staged.Add(&recorder{name: "b", log: &log, fail: boom}, StageCreation)

	chain := staged.MakeStrategyChain()
	ctx := newRootContext(New(), chain, KeyOf[string](""), nil, nil)
	ctx.Recovery.Add(recoveryFunc(func() { recovered++ }))

	_, err := chain.ExecuteBuildUp(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"pre:a", "pre:b"}, log, "post hooks do not run after a failure")
	assert.Equal(t, 1, recovered)
	assert.Equal(t, 0, ctx.Recovery.Len())
}

func TestStrategyChain_ExecuteTearDown(t *testing.T) {
	var log []string

	staged := NewStagedStrategyChain(nil)
	staged.Add(&recorder{name: "a", log: &log}, StageSetup)
	staged.Add(&recorder{name: "b", log: &log}, StageCreation)

	chain := staged.MakeStrategyChain()
	ctx := newRootContext(New(), chain, KeyOf[string](""), "x", nil)

	require.NoError(t, chain.ExecuteTearDown(ctx))
	assert.Equal(t, []string{"pre-teardown:b", "pre-teardown:a", "post-teardown:a", "post-teardown:b"}, log)
}

func TestContainer_AddStrategy(t *testing.T) {
	c := New()

	var log []string

	c.AddStrategy(&recorder{name: "short-circuit", log: &log, complete: true}, StageSetup)

	v, err := c.Resolve(KeyOf[Logger](""))
	require.NoError(t, err)
	assert.Equal(t, "short-circuit", v)

	child := c.CreateChildContainer()

	v, err = child.Resolve(KeyOf[Store](""))
	require.NoError(t, err)
	assert.Equal(t, "short-circuit", v, "children inherit the parent's strategies")
}

func TestBuildPlan_CachedUntilRegistrationChanges(t *testing.T) {
	c := New()

	var plans atomic.Int32

	require.NoError(t, Register[Logger, *consoleLogger](c))
	c.AddPolicy(reflect.TypeFor[BuildPlanCreatorPolicy](), KeyOf[*repository](""), countingCreator{plans: &plans})

	Must[*repository](c)
	Must[*repository](c)
	assert.Equal(t, int32(1), plans.Load())

	require.NoError(t, RegisterSelf[*fileLogger](c))

	Must[*repository](c)
	assert.Equal(t, int32(2), plans.Load(), "any registration invalidates cached plans")

	child := c.CreateChildContainer()

	Must[*repository](child)
	Must[*repository](child)
	assert.Equal(t, int32(3), plans.Load(), "each container caches its own plans")

	require.NoError(t, RegisterSelf[*memoryStore](c))

	Must[*repository](child)
	assert.Equal(t, int32(4), plans.Load(), "a parent registration invalidates the child's plans")
}

package anvil

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Stage is a named position in the build pipeline.
type Stage int

const (
	// StageSetup runs diagnostics hooks; it has no effect on identity.
	StageSetup Stage = iota
	// StageTypeMapping rewrites the build key through mapping policies.
	StageTypeMapping
	// StageLifetime returns cached instances from lifetime managers.
	StageLifetime
	// StagePreCreation builds shapes that need no plan (slices, deferred funcs).
	StagePreCreation
	// StageCreation constructs the instance.
	StageCreation
	// StageInitialization injects properties and calls injection methods.
	StageInitialization
	// StagePostInitialization runs final notifications.
	StagePostInitialization

	stageCount
)

var stageNames = [...]string{
	"Setup",
	"TypeMapping",
	"Lifetime",
	"PreCreation",
	"Creation",
	"Initialization",
	"PostInitialization",
}

func (s Stage) String() string {
	if s < 0 || s >= stageCount {
		return fmt.Sprintf("Stage(%d)", int(s))
	}

	return stageNames[s]
}

// BuilderStrategy is one step of the pipeline. Pre hooks run in chain order
// until a strategy sets BuildComplete; post hooks then run in reverse over the
// strategies whose pre hook ran.
type BuilderStrategy interface {
	PreBuildUp(ctx *BuilderContext) error
	PostBuildUp(ctx *BuilderContext) error
	PreTearDown(ctx *BuilderContext) error
	PostTearDown(ctx *BuilderContext) error
}

// BuilderStrategyBase provides no-op hooks. Embed it and override what you need.
type BuilderStrategyBase struct{}

func (BuilderStrategyBase) PreBuildUp(*BuilderContext) error   { return nil }
func (BuilderStrategyBase) PostBuildUp(*BuilderContext) error  { return nil }
func (BuilderStrategyBase) PreTearDown(*BuilderContext) error  { return nil }
func (BuilderStrategyBase) PostTearDown(*BuilderContext) error { return nil }

// StagedStrategyChain holds strategies per stage and chains to the parent
// container's staged chain. The flattened StrategyChain is compiled lazily and
// cached until any level changes.
type StagedStrategyChain struct {
	parent  *StagedStrategyChain
	stages  [stageCount][]BuilderStrategy
	version atomic.Uint64
	mu      sync.RWMutex

	compileMu sync.Mutex
	compiled  atomic.Pointer[compiledChain]
}

type compiledChain struct {
	chain   *StrategyChain
	version uint64
}

// NewStagedStrategyChain creates a staged chain; parent may be nil.
func NewStagedStrategyChain(parent *StagedStrategyChain) *StagedStrategyChain {
	return &StagedStrategyChain{parent: parent}
}

// Add appends a strategy to a stage.
func (c *StagedStrategyChain) Add(s BuilderStrategy, stage Stage) {
	if stage < 0 || stage >= stageCount {
		panic(fmt.Sprintf("anvil: invalid stage %d", int(stage)))
	}

	c.mu.Lock()
	c.stages[stage] = append(c.stages[stage], s)
	c.mu.Unlock()

	c.version.Add(1)
}

// Remove removes a locally added strategy and reports whether it was found.
func (c *StagedStrategyChain) Remove(s BuilderStrategy) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for stage, list := range c.stages {
		for i, it := range list {
			if it == s {
				c.stages[stage] = append(list[:i:i], list[i+1:]...)
				c.version.Add(1)

				return true
			}
		}
	}

	return false
}

// Clear removes every local strategy.
func (c *StagedStrategyChain) Clear() {
	c.mu.Lock()
	c.stages = [stageCount][]BuilderStrategy{}
	c.mu.Unlock()

	c.version.Add(1)
}

// totalVersion changes whenever this level or any ancestor changes.
func (c *StagedStrategyChain) totalVersion() uint64 {
	v := c.version.Load()
	if c.parent != nil {
		v += c.parent.totalVersion()
	}

	return v
}

func (c *StagedStrategyChain) collect(stage Stage) []BuilderStrategy {
	var out []BuilderStrategy
	if c.parent != nil {
		out = c.parent.collect(stage)
	}

	c.mu.RLock()
	out = append(out, c.stages[stage]...)
	c.mu.RUnlock()

	return out
}

// MakeStrategyChain returns the compiled chain, rebuilding it when stale.
func (c *StagedStrategyChain) MakeStrategyChain() *StrategyChain {
	v := c.totalVersion()
	if cc := c.compiled.Load(); cc != nil && cc.version == v {
		return cc.chain
	}

	c.compileMu.Lock()
	defer c.compileMu.Unlock()

	v = c.totalVersion()
	if cc := c.compiled.Load(); cc != nil && cc.version == v {
		return cc.chain
	}

	chain := &StrategyChain{}
	for stage := StageSetup; stage < stageCount; stage++ {
		chain.starts[stage] = len(chain.strategies)
		for _, s := range c.collect(stage) {
			chain.strategies = append(chain.strategies, s)
			chain.stageOf = append(chain.stageOf, stage)
		}
	}

	c.compiled.Store(&compiledChain{chain: chain, version: v})

	return chain
}

// StrategyChain is an immutable, flattened pipeline.
type StrategyChain struct {
	strategies []BuilderStrategy
	stageOf    []Stage
	starts     [stageCount]int
}

// Len returns the number of strategies.
func (c *StrategyChain) Len() int {
	return len(c.strategies)
}

// Strategies returns a copy of the strategies in execution order.
func (c *StrategyChain) Strategies() []BuilderStrategy {
	return append([]BuilderStrategy(nil), c.strategies...)
}

// only returns a chain restricted to the given stages.
func (c *StrategyChain) only(stages ...Stage) *StrategyChain {
	keep := make(map[Stage]bool, len(stages))
	for _, s := range stages {
		keep[s] = true
	}

	out := &StrategyChain{}
	for stage := StageSetup; stage < stageCount; stage++ {
		out.starts[stage] = len(out.strategies)
		if !keep[stage] {
			continue
		}

		for i, s := range c.strategies {
			if c.stageOf[i] == stage {
				out.strategies = append(out.strategies, s)
				out.stageOf = append(out.stageOf, stage)
			}
		}
	}

	return out
}

// ExecuteBuildUp runs the pipeline for ctx and returns ctx.Existing.
//
// On failure, including a panic raised by user code, the context's recovery
// stack runs before the error is returned. Errors are returned unchanged;
// only the public container entry points wrap them.
func (c *StrategyChain) ExecuteBuildUp(ctx *BuilderContext) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrConstructorPanic, "building %s: %v", ctx.BuildKey, r)
			result = nil
		}

		if err != nil {
			ctx.Recovery.ExecuteRecovery()
			ctx.noteFailure()
		}
	}()

	i := 0
	for ; i < len(c.strategies); i++ {
		if perr := c.strategies[i].PreBuildUp(ctx); perr != nil {
			return nil, perr
		}

		if ctx.BuildComplete {
			break
		}
	}

	if i == len(c.strategies) {
		i--
	}

	for ; i >= 0; i-- {
		if perr := c.strategies[i].PostBuildUp(ctx); perr != nil {
			return nil, perr
		}
	}

	return ctx.Existing, nil
}

// ExecuteTearDown runs pre teardown hooks in reverse chain order, then post
// teardown hooks in chain order. Every hook runs; failures are combined.
func (c *StrategyChain) ExecuteTearDown(ctx *BuilderContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = multierr.Append(err, errors.Wrapf(ErrConstructorPanic, "tearing down %s: %v", ctx.BuildKey, r))
		}
	}()

	for i := len(c.strategies) - 1; i >= 0; i-- {
		err = multierr.Append(err, c.strategies[i].PreTearDown(ctx))
	}

	for _, s := range c.strategies {
		err = multierr.Append(err, s.PostTearDown(ctx))
	}

	return err
}

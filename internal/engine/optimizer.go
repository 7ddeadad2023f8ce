package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/planopt/internal/alloc"
	"github.com/roach88/planopt/internal/compiler"
	"github.com/roach88/planopt/internal/ir"
	"github.com/roach88/planopt/internal/rule"
	"github.com/roach88/planopt/internal/session"
	"github.com/roach88/planopt/internal/store"
)

// DefaultMaxSteps is the default replacement quota per run, used when
// neither WithMaxSteps nor the session sets one.
const DefaultMaxSteps = 1000

// Optimizer applies a rule set to plans until no rule fires.
//
// Rules are offered nodes depth-first, parents before children: a node is
// rewritten until no rule fires on it, then its sources are optimized, then
// the node is rebuilt over the new sources and offered to the rules again.
// Rules are tried in declaration order.
//
// One Optimizer serves one pair of allocators. Optimize calls on the same
// Optimizer must not overlap.
type Optimizer struct {
	rules    []rule.Rule
	index    *ruleIndex
	ids      *alloc.PlanNodeIDAllocator
	syms     *alloc.SymbolAllocator
	session  *session.Session
	store    *store.Store
	runGen   RunTokenGenerator
	maxSteps int
	logger   *slog.Logger
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithStore records every run and firing in s.
func WithStore(s *store.Store) Option {
	return func(o *Optimizer) {
		o.store = s
	}
}

// WithMaxSteps sets the replacement quota per run, overriding the session's
// max_rule_applications.
func WithMaxSteps(maxSteps int) Option {
	return func(o *Optimizer) {
		o.maxSteps = maxSteps
	}
}

// WithRunTokenGenerator sets the source of run tokens.
// Default: UUIDv7Generator.
func WithRunTokenGenerator(g RunTokenGenerator) Option {
	return func(o *Optimizer) {
		o.runGen = g
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Optimizer) {
		o.logger = l
	}
}

// New creates an Optimizer. The rules slice is copied so declaration order
// cannot change under a running optimization. A nil session means
// session.Default().
func New(
	rules []rule.Rule,
	ids *alloc.PlanNodeIDAllocator,
	syms *alloc.SymbolAllocator,
	sess *session.Session,
	opts ...Option,
) *Optimizer {
	if sess == nil {
		sess = session.Default()
	}

	o := &Optimizer{
		rules:    slices.Clone(rules),
		ids:      ids,
		syms:     syms,
		session:  sess.Clone(),
		runGen:   UUIDv7Generator{},
		maxSteps: sess.MaxRuleApplications,
		logger:   slog.Default(),
	}
	if o.maxSteps <= 0 {
		o.maxSteps = DefaultMaxSteps
	}

	for _, opt := range opts {
		opt(o)
	}

	o.index = newRuleIndex(o.rules)
	return o
}

// Firing records one replacement.
type Firing struct {
	Seq               int64
	Rule              string
	NodeID            ir.PlanNodeID
	ReplacementID     ir.PlanNodeID
	BeforeFingerprint string
	AfterFingerprint  string
}

// Outcome is the result of one run.
type Outcome struct {
	RunToken string
	PlanName string
	Input    ir.PlanNode
	Plan     ir.PlanNode
	Firings  []Firing
	Steps    int
}

// Optimize runs the rules over plan until fixpoint.
func (o *Optimizer) Optimize(ctx context.Context, plan ir.PlanNode) (*Outcome, error) {
	return o.OptimizeNamed(ctx, "", plan)
}

// OptimizeNamed is Optimize with a plan name recorded in the trace.
//
// Every symbol of plan is registered with the symbol allocator and every
// node id observed by the id allocator before any rule runs, so fresh
// identities never collide with the input. A rule error stops the run: the
// error is returned and, with a store, recorded as a failed result.
func (o *Optimizer) OptimizeNamed(ctx context.Context, name string, plan ir.PlanNode) (*Outcome, error) {
	if plan == nil {
		return nil, fmt.Errorf("optimize: plan is nil")
	}

	runToken := o.runGen.Generate()

	if err := o.syms.Register(ir.CollectSymbols(plan)...); err != nil {
		return nil, &RuntimeError{
			Code:     ErrCodeInvalidPlan,
			Message:  err.Error(),
			RunToken: runToken,
		}
	}
	o.ids.Observe(ir.NewIndex(plan).MaxID())

	if o.session.ValidatePlan {
		if err := o.validate(runToken, "", 0, plan); err != nil {
			return nil, err
		}
	}

	if err := o.recordStart(ctx, runToken, name, plan); err != nil {
		return nil, err
	}

	o.logger.Info("optimization starting",
		"run_token", runToken,
		"plan", name,
		"nodes", ir.CountNodes(plan),
		"rules", len(o.rules),
		"max_steps", o.maxSteps,
	)

	r := &run{
		opt:     o,
		token:   runToken,
		ctx:     rule.NewPlannerContext(o.ids, o.syms),
		quota:   NewQuotaEnforcer(o.maxSteps),
		clock:   NewClock(),
		visited: make(map[ir.PlanNode]ir.PlanNode),
	}

	result, err := r.visit(ctx, plan)
	if err != nil {
		o.logger.Error("optimization failed",
			"run_token", runToken,
			"plan", name,
			"steps", r.quota.Current(),
			"error", err,
		)
		if recErr := o.recordResult(ctx, runToken, nil, r.quota.Current(), err); recErr != nil {
			return nil, fmt.Errorf("%w (recording failure: %v)", err, recErr)
		}
		return nil, err
	}

	if err := o.recordResult(ctx, runToken, result, r.quota.Current(), nil); err != nil {
		return nil, err
	}

	o.logger.Info("optimization finished",
		"run_token", runToken,
		"plan", name,
		"steps", r.quota.Current(),
		"firings", len(r.firings),
	)

	return &Outcome{
		RunToken: runToken,
		PlanName: name,
		Input:    plan,
		Plan:     result,
		Firings:  r.firings,
		Steps:    r.quota.Current(),
	}, nil
}

func (o *Optimizer) recordStart(ctx context.Context, runToken, name string, plan ir.PlanNode) error {
	if o.store == nil {
		return nil
	}
	inputFP, err := ir.PlanFingerprint(plan)
	if err != nil {
		return err
	}
	sessObj := o.session.Object()
	sessFP, err := ir.SessionFingerprint(sessObj)
	if err != nil {
		return err
	}
	return o.store.WriteOptimization(ctx, store.Optimization{
		RunToken:           runToken,
		PlanName:           name,
		InputPlan:          ir.EncodePlan(plan),
		InputFingerprint:   inputFP,
		Session:            sessObj,
		SessionFingerprint: sessFP,
		EngineVersion:      ir.EngineVersion,
		IRVersion:          ir.IRVersion,
	})
}

func (o *Optimizer) recordResult(ctx context.Context, runToken string, plan ir.PlanNode, steps int, runErr error) error {
	if o.store == nil {
		return nil
	}
	res := store.OptimizationResult{
		RunToken: runToken,
		Status:   store.StatusFixpoint,
		Steps:    steps,
	}
	if runErr != nil {
		res.Status = store.StatusFailed
		res.Error = runErr.Error()
	} else {
		fp, err := ir.PlanFingerprint(plan)
		if err != nil {
			return err
		}
		res.OutputPlan = ir.EncodePlan(plan)
		res.OutputFingerprint = fp
	}
	return o.store.WriteResult(ctx, res)
}

// validate runs compiler.ValidatePlan and converts its findings.
func (o *Optimizer) validate(runToken, ruleName string, nodeID ir.PlanNodeID, plan ir.PlanNode) error {
	errs := compiler.ValidatePlan(plan)
	if len(errs) == 0 {
		return nil
	}
	problems := make([]string, len(errs))
	for i, e := range errs {
		problems[i] = e.Error()
	}
	return NewInvalidPlanError(runToken, ruleName, nodeID, problems)
}

// run is the state of one Optimize call.
type run struct {
	opt     *Optimizer
	token   string
	ctx     rule.Context
	quota   *QuotaEnforcer
	clock   *Clock
	firings []Firing

	// visited maps an input subtree to its optimized form so subtrees
	// shared by several parents are optimized once and stay shared.
	visited map[ir.PlanNode]ir.PlanNode
}

func (r *run) visit(ctx context.Context, node ir.PlanNode) (ir.PlanNode, error) {
	if done, ok := r.visited[node]; ok {
		return done, nil
	}
	input := node

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		next, fired, err := r.applyRules(ctx, node)
		if err != nil {
			return nil, err
		}
		if fired {
			node = next
			continue
		}

		sources := node.Sources()
		newSources := make([]ir.PlanNode, len(sources))
		changed := false
		for i, src := range sources {
			ns, err := r.visit(ctx, src)
			if err != nil {
				return nil, err
			}
			newSources[i] = ns
			if ns != src {
				changed = true
			}
		}
		if !changed {
			break
		}

		node, err = ir.ReplaceSources(node, newSources)
		if err != nil {
			return nil, err
		}
		// The rebuilt node is offered to the rules again. Its sources are
		// in visited, so the next descent ends the loop unless a rule fires.
	}

	r.visited[input] = node
	r.visited[node] = node
	return node, nil
}

// applyRules offers node to the candidate rules in declaration order and
// returns the first replacement.
func (r *run) applyRules(ctx context.Context, node ir.PlanNode) (ir.PlanNode, bool, error) {
	o := r.opt
	for _, rl := range o.index.candidates(node) {
		captures, ok := matchRule(rl, node, o.session)
		if !ok {
			continue
		}

		res, err := rl.Apply(node, captures, r.ctx)
		if err != nil {
			return nil, false, fmt.Errorf("rule %s on node %d: %w", rl.Name(), node.ID(), err)
		}
		if res.IsEmpty() {
			continue
		}
		repl := res.Node()

		if err := r.quota.Check(r.token); err != nil {
			return nil, false, err
		}
		if err := r.checkReplacement(rl.Name(), node, repl); err != nil {
			return nil, false, err
		}
		if err := r.recordFiring(ctx, rl.Name(), node, repl); err != nil {
			return nil, false, err
		}
		return repl, true, nil
	}
	return nil, false, nil
}

func (r *run) checkReplacement(ruleName string, node, repl ir.PlanNode) error {
	if !r.opt.session.ValidatePlan {
		return nil
	}
	if !slices.Equal(node.OutputSymbols(), repl.OutputSymbols()) {
		return NewOutputMismatchError(r.token, ruleName, node.ID(), node.OutputSymbols(), repl.OutputSymbols())
	}
	return r.opt.validate(r.token, ruleName, node.ID(), repl)
}

func (r *run) recordFiring(ctx context.Context, ruleName string, node, repl ir.PlanNode) error {
	before, err := ir.PlanFingerprint(node)
	if err != nil {
		return err
	}
	after, err := ir.PlanFingerprint(repl)
	if err != nil {
		return err
	}

	f := Firing{
		Seq:               r.clock.Next(),
		Rule:              ruleName,
		NodeID:            node.ID(),
		ReplacementID:     repl.ID(),
		BeforeFingerprint: before,
		AfterFingerprint:  after,
	}
	r.firings = append(r.firings, f)

	r.opt.logger.Debug("rule fired",
		"run_token", r.token,
		"seq", f.Seq,
		"rule", f.Rule,
		"node", f.NodeID,
		"replacement", f.ReplacementID,
	)

	if r.opt.store == nil {
		return nil
	}
	_, _, err = r.opt.store.WriteFiring(ctx, store.RuleFiring{
		RunToken:          r.token,
		Seq:               f.Seq,
		Rule:              f.Rule,
		NodeID:            f.NodeID,
		ReplacementID:     f.ReplacementID,
		BeforeFingerprint: f.BeforeFingerprint,
		AfterFingerprint:  f.AfterFingerprint,
	})
	if err != nil {
		return fmt.Errorf("write firing %d: %w", f.Seq, err)
	}
	return nil
}

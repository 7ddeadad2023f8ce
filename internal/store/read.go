package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/planopt/internal/ir"
)

// ErrNotFound is returned when a run token is unknown.
var ErrNotFound = errors.New("not found")

// ReadOptimization returns the input side of a run and its result. The
// result is nil if the run has not finished.
func (s *Store) ReadOptimization(ctx context.Context, runToken string) (Optimization, *OptimizationResult, error) {
	var (
		opt                    Optimization
		inputJSON, sessionJSON string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_token, plan_name, input_plan, input_fingerprint, session, session_fingerprint, engine_version, ir_version
		FROM optimizations
		WHERE run_token = ?
	`, runToken).Scan(
		&opt.RunToken, &opt.PlanName, &inputJSON, &opt.InputFingerprint,
		&sessionJSON, &opt.SessionFingerprint, &opt.EngineVersion, &opt.IRVersion,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Optimization{}, nil, fmt.Errorf("run %s: %w", runToken, ErrNotFound)
	}
	if err != nil {
		return Optimization{}, nil, fmt.Errorf("read optimization: %w", err)
	}

	if opt.InputPlan, err = unmarshalObject("input plan", inputJSON); err != nil {
		return Optimization{}, nil, err
	}
	if opt.Session, err = unmarshalObject("session", sessionJSON); err != nil {
		return Optimization{}, nil, err
	}

	res, err := s.readResult(ctx, runToken)
	if err != nil {
		return Optimization{}, nil, err
	}
	return opt, res, nil
}

func (s *Store) readResult(ctx context.Context, runToken string) (*OptimizationResult, error) {
	var (
		res        OptimizationResult
		outputJSON string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT run_token, status, output_plan, output_fingerprint, steps, error
		FROM optimization_results
		WHERE run_token = ?
	`, runToken).Scan(&res.RunToken, &res.Status, &outputJSON, &res.OutputFingerprint, &res.Steps, &res.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read result: %w", err)
	}
	if res.OutputPlan, err = unmarshalObject("output plan", outputJSON); err != nil {
		return nil, err
	}
	return &res, nil
}

// ReadFirings returns the firings of a run ordered by seq ASC, id ASC.
// Returns an empty slice (not nil) if the run has none.
func (s *Store) ReadFirings(ctx context.Context, runToken string) ([]RuleFiring, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_token, seq, rule, node_id, replacement_id, before_fingerprint, after_fingerprint
		FROM rule_firings
		WHERE run_token = ?
		ORDER BY seq ASC, id ASC
	`, runToken)
	if err != nil {
		return nil, fmt.Errorf("query firings: %w", err)
	}
	defer rows.Close()

	firings := []RuleFiring{}
	for rows.Next() {
		var (
			f                     RuleFiring
			nodeID, replacementID int64
		)
		if err := rows.Scan(&f.ID, &f.RunToken, &f.Seq, &f.Rule, &nodeID, &replacementID,
			&f.BeforeFingerprint, &f.AfterFingerprint); err != nil {
			return nil, fmt.Errorf("scan firing: %w", err)
		}
		f.NodeID = ir.PlanNodeID(nodeID)
		f.ReplacementID = ir.PlanNodeID(replacementID)
		firings = append(firings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate firings: %w", err)
	}
	return firings, nil
}

// ListRuns returns every recorded run in insertion order.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.run_token, o.plan_name,
		       COALESCE(r.status, ''), COALESCE(r.output_fingerprint, ''),
		       (SELECT COUNT(*) FROM rule_firings f WHERE f.run_token = o.run_token)
		FROM optimizations o
		LEFT JOIN optimization_results r ON r.run_token = o.run_token
		ORDER BY o.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunToken, &r.PlanName, &r.Status, &r.OutputFingerprint, &r.Firings); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

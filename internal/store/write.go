package store

import (
	"context"
	"fmt"
)

// WriteOptimization records the input side of a run.
// Uses ON CONFLICT(run_token) DO NOTHING: rewriting a run token is a no-op.
func (s *Store) WriteOptimization(ctx context.Context, opt Optimization) error {
	inputJSON, err := marshalObject("input plan", opt.InputPlan)
	if err != nil {
		return fmt.Errorf("write optimization: %w", err)
	}
	sessionJSON, err := marshalObject("session", opt.Session)
	if err != nil {
		return fmt.Errorf("write optimization: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO optimizations
		(run_token, plan_name, input_plan, input_fingerprint, session, session_fingerprint, engine_version, ir_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_token) DO NOTHING
	`,
		opt.RunToken,
		opt.PlanName,
		inputJSON,
		opt.InputFingerprint,
		sessionJSON,
		opt.SessionFingerprint,
		opt.EngineVersion,
		opt.IRVersion,
	)
	if err != nil {
		return fmt.Errorf("write optimization: %w", err)
	}
	return nil
}

// WriteResult records the output side of a run. Each run has at most one
// result; later writes are ignored.
//
// Note: the optimization must already exist (foreign key constraint).
func (s *Store) WriteResult(ctx context.Context, res OptimizationResult) error {
	outputJSON, err := marshalObject("output plan", res.OutputPlan)
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO optimization_results
		(run_token, status, output_plan, output_fingerprint, steps, error)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_token) DO NOTHING
	`,
		res.RunToken,
		res.Status,
		outputJSON,
		res.OutputFingerprint,
		res.Steps,
		res.Error,
	)
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// WriteFiring records a rule firing. Returns the row id and whether a new
// row was inserted; a duplicate (run_token, seq) returns the existing id.
//
// Note: the optimization must already exist (foreign key constraint).
func (s *Store) WriteFiring(ctx context.Context, f RuleFiring) (id int64, inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("write firing: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO rule_firings
		(run_token, seq, rule, node_id, replacement_id, before_fingerprint, after_fingerprint)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_token, seq) DO NOTHING
	`,
		f.RunToken,
		f.Seq,
		f.Rule,
		int64(f.NodeID),
		int64(f.ReplacementID),
		f.BeforeFingerprint,
		f.AfterFingerprint,
	)
	if err != nil {
		return 0, false, fmt.Errorf("write firing: insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("write firing: rows affected: %w", err)
	}

	if rowsAffected > 0 {
		id, err = result.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("write firing: last insert id: %w", err)
		}
		inserted = true
	} else {
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM rule_firings WHERE run_token = ? AND seq = ?
		`, f.RunToken, f.Seq).Scan(&id)
		if err != nil {
			return 0, false, fmt.Errorf("write firing: select existing: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("write firing: commit: %w", err)
	}
	return id, inserted, nil
}

package parcel

import (
	"context"
	"embed"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/landbase/parcel-cli/internal/db"
)

//go:embed migrations/*.sql migrations/ledger.yaml
var migrationFS embed.FS

// ledgerLockKey serializes concurrent migration runs (overlapping deploys).
const ledgerLockKey = 8675311

// Apply walks the ledger up to target (the single head when target is empty)
// and runs every unapplied step in topological order. Returns the ids of the
// steps it applied.
func Apply(ctx context.Context, pool db.Pool, led *Ledger, target string) ([]string, error) {
	log := zap.L().With(zap.String("component", "parcel.migrate"))

	// A conflicted ledger refuses every apply, even to an explicit target,
	// until a merge step reconciles the heads.
	head, err := led.Head()
	if err != nil {
		return nil, err
	}
	if target == "" {
		target = head
	}

	lineage, err := led.Lineage(target)
	if err != nil {
		return nil, err
	}

	if _, err := pool.Exec(ctx, "SELECT pg_advisory_lock($1)", ledgerLockKey); err != nil {
		return nil, eris.Wrap(err, "parcel: acquire ledger advisory lock")
	}
	defer func() {
		if _, err := pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", ledgerLockKey); err != nil {
			log.Warn("failed to release ledger advisory lock", zap.Error(err))
		}
	}()

	if err := ensureLedgerTable(ctx, pool); err != nil {
		return nil, err
	}

	applied, err := appliedSteps(ctx, pool)
	if err != nil {
		return nil, err
	}

	var ran []string
	for _, id := range lineage {
		if applied[id] {
			continue
		}
		step, _ := led.Step(id)

		log.Info("applying step", zap.String("step", id), zap.Bool("merge", step.Merge))

		if step.Apply != "" {
			if _, err := pool.Exec(ctx, step.Apply); err != nil {
				return ran, eris.Wrapf(err, "parcel: apply step %s", id)
			}
		}

		if _, err := pool.Exec(ctx,
			"INSERT INTO parcel_schema_ledger (step_id, applied_at) VALUES ($1, now())",
			id,
		); err != nil {
			return ran, eris.Wrapf(err, "parcel: record step %s", id)
		}

		ran = append(ran, id)
		log.Info("step applied", zap.String("step", id))
	}

	return ran, nil
}

// Revert undoes applied steps until only target and its ancestors remain.
// Steps are reverted in reverse topological order; crossing an apply-only
// step fails before anything runs.
func Revert(ctx context.Context, pool db.Pool, led *Ledger, target string) ([]string, error) {
	log := zap.L().With(zap.String("component", "parcel.migrate"))

	keep := map[string]bool{}
	if target != "" {
		lineage, err := led.Lineage(target)
		if err != nil {
			return nil, err
		}
		for _, id := range lineage {
			keep[id] = true
		}
	}

	if _, err := pool.Exec(ctx, "SELECT pg_advisory_lock($1)", ledgerLockKey); err != nil {
		return nil, eris.Wrap(err, "parcel: acquire ledger advisory lock")
	}
	defer func() {
		if _, err := pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", ledgerLockKey); err != nil {
			log.Warn("failed to release ledger advisory lock", zap.Error(err))
		}
	}()

	if err := ensureLedgerTable(ctx, pool); err != nil {
		return nil, err
	}

	applied, err := appliedSteps(ctx, pool)
	if err != nil {
		return nil, err
	}

	// Reverse topological order over the applied, non-kept steps.
	var toRevert []*Step
	order := led.Steps()
	for i := len(order) - 1; i >= 0; i-- {
		step := order[i]
		if applied[step.ID] && !keep[step.ID] {
			toRevert = append(toRevert, step)
		}
	}

	for _, step := range toRevert {
		if !step.Reversible() {
			return nil, eris.Wrapf(ErrIrreversibleStep, "step %s has no revert", step.ID)
		}
	}

	var ran []string
	for _, step := range toRevert {
		log.Info("reverting step", zap.String("step", step.ID))

		if step.Revert != "" {
			if _, err := pool.Exec(ctx, step.Revert); err != nil {
				return ran, eris.Wrapf(err, "parcel: revert step %s", step.ID)
			}
		}

		if _, err := pool.Exec(ctx,
			"DELETE FROM parcel_schema_ledger WHERE step_id = $1",
			step.ID,
		); err != nil {
			return ran, eris.Wrapf(err, "parcel: unrecord step %s", step.ID)
		}

		ran = append(ran, step.ID)
	}

	return ran, nil
}

// CurrentHead returns the frontier of applied steps: every applied step with
// no applied successor. An empty result means nothing has been applied.
func CurrentHead(ctx context.Context, pool db.Pool, led *Ledger) ([]string, error) {
	if err := ensureLedgerTable(ctx, pool); err != nil {
		return nil, err
	}

	applied, err := appliedSteps(ctx, pool)
	if err != nil {
		return nil, err
	}

	var frontier []string
	for _, step := range led.Steps() {
		if !applied[step.ID] {
			continue
		}
		leaf := true
		for _, child := range led.children[step.ID] {
			if applied[child] {
				leaf = false
				break
			}
		}
		if leaf {
			frontier = append(frontier, step.ID)
		}
	}
	return frontier, nil
}

// ensureLedgerTable creates the ledger tracking table if it doesn't exist.
// It lives outside the managed schemas so a full revert doesn't drop it.
func ensureLedgerTable(ctx context.Context, pool db.Pool) error {
	sql := `
		CREATE TABLE IF NOT EXISTS parcel_schema_ledger (
			step_id    TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`
	if _, err := pool.Exec(ctx, sql); err != nil {
		return eris.Wrap(err, "parcel: ensure ledger table")
	}
	return nil
}

// appliedSteps returns the set of already-applied step ids.
func appliedSteps(ctx context.Context, pool db.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT step_id FROM parcel_schema_ledger")
	if err != nil {
		return nil, eris.Wrap(err, "parcel: query applied steps")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "parcel: scan ledger row")
		}
		applied[id] = true
	}
	return applied, rows.Err()
}

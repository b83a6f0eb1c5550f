// Package strategystate owns the deployment_strategy_state and
// deployment_phase_transitions tables: every phase the orchestrator enters
// is logged here before any other component observes it.
package strategystate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/obtura/deploy-core/internal/metrics"
)

// Phase is one step of the strategy state machine.
type Phase string

const (
	Preparing       Phase = "preparing"
	DeployingNew    Phase = "deploying_new"
	HealthChecking  Phase = "health_checking"
	SwitchingTraffic Phase = "switching_traffic"
	DrainingOld     Phase = "draining_old"
	Monitoring      Phase = "monitoring"
	Completed       Phase = "completed"
	Failed          Phase = "failed"
)

// Store manages one deployment's strategy-state row and its transition log.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Initialize creates (or, for a retried deploymentId, re-enters) the
// strategy-state row at preparing. The ON CONFLICT branch is what makes
// redelivering a previously-seen deploymentId idempotent.
func (s *Store) Initialize(ctx context.Context, deploymentID, strategy string, totalReplicas int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deployment_strategy_state (deployment_id, strategy, current_phase, total_replicas)
		VALUES ($1, $2, 'preparing', $3)
		ON CONFLICT (deployment_id) DO UPDATE SET
			strategy = $2,
			current_phase = 'preparing',
			total_replicas = $3,
			updated_at = NOW()
	`, deploymentID, strategy, totalReplicas)
	if err != nil {
		return fmt.Errorf("initializing strategy state for %s: %w", deploymentID, err)
	}
	return nil
}

// Transition appends a (from, to) row to the phase-transition log and
// advances current_phase in the same transaction, so readers never observe
// a phase advance without its corresponding log row.
func (s *Store) Transition(ctx context.Context, deploymentID string, to Phase) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning phase transition: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deployment_phase_transitions (deployment_id, from_phase, to_phase)
		SELECT $1, current_phase, $2 FROM deployment_strategy_state WHERE deployment_id = $1
	`, deploymentID, string(to))
	if err != nil {
		return fmt.Errorf("appending phase transition for %s: %w", deploymentID, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE deployment_strategy_state
		SET current_phase = $2, phase_started_at = NOW(), phase_updated_at = NOW(), updated_at = NOW()
		WHERE deployment_id = $1
	`, deploymentID, string(to))
	if err != nil {
		return fmt.Errorf("advancing phase for %s: %w", deploymentID, err)
	}

	var strategy string
	if err := tx.QueryRowContext(ctx, `SELECT strategy FROM deployment_strategy_state WHERE deployment_id = $1`, deploymentID).Scan(&strategy); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("reading strategy for %s: %w", deploymentID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing phase transition for %s: %w", deploymentID, err)
	}

	metrics.PhaseTransitions.WithLabelValues(strategy, string(to)).Inc()
	return nil
}

// MetaField names a strategy-state column a caller may set through Update;
// knownMetaFields whitelists exactly those columns. The column name is never taken from
// caller-controlled data: MetaField values are mapped to a fixed SQL
// fragment before any query is built.
type MetaField string

const (
	ActiveGroup             MetaField = "active_group"
	StandbyGroup            MetaField = "standby_group"
	TotalBatches            MetaField = "total_batches"
	CurrentBatch            MetaField = "current_batch"
	BatchSize               MetaField = "batch_size"
	CanaryTrafficPercentage MetaField = "canary_traffic_percentage"
	CanaryDurationMinutes   MetaField = "canary_duration_minutes"
	TotalReplicas           MetaField = "total_replicas"
	HealthyReplicas         MetaField = "healthy_replicas"
	UnhealthyReplicas       MetaField = "unhealthy_replicas"
	ErrorMessage            MetaField = "error_message"
)

var knownMetaFields = map[MetaField]string{
	ActiveGroup:             "active_group",
	StandbyGroup:            "standby_group",
	TotalBatches:            "total_batches",
	CurrentBatch:            "current_batch",
	BatchSize:               "batch_size",
	CanaryTrafficPercentage: "canary_traffic_percentage",
	CanaryDurationMinutes:   "canary_duration_minutes",
	TotalReplicas:           "total_replicas",
	HealthyReplicas:         "healthy_replicas",
	UnhealthyReplicas:       "unhealthy_replicas",
	ErrorMessage:            "error_message",
}

// Update applies a set of metadata fields to the strategy-state row.
// Unknown fields are rejected rather than silently concatenated into SQL.
func (s *Store) Update(ctx context.Context, deploymentID string, fields map[MetaField]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	query := "UPDATE deployment_strategy_state SET updated_at = NOW()"
	args := []interface{}{deploymentID}
	argIndex := 2

	for field, value := range fields {
		column, ok := knownMetaFields[field]
		if !ok {
			return fmt.Errorf("strategystate: unknown metadata field %q", field)
		}
		query += fmt.Sprintf(", %s = $%d", column, argIndex)
		args = append(args, value)
		argIndex++
	}

	query += " WHERE deployment_id = $1"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("updating strategy state metadata for %s: %w", deploymentID, err)
	}
	return nil
}

// MarkFailed transitions to failed and records the error in one call.
func (s *Store) MarkFailed(ctx context.Context, deploymentID, errMessage string) error {
	if err := s.Transition(ctx, deploymentID, Failed); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE deployment_strategy_state
		SET error_message = $2, failed_at = NOW(), updated_at = NOW()
		WHERE deployment_id = $1
	`, deploymentID, errMessage)
	if err != nil {
		return fmt.Errorf("recording failure for %s: %w", deploymentID, err)
	}
	return nil
}

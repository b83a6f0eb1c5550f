package orchestrator

import (
	"context"
	"fmt"
)

// canaryResult is the verdict analyzeCanaryMetrics renders and persists to
// canary_analysis_results.
type canaryResult struct {
	Passed                    bool
	Decision                  string
	CanaryErrorRate           float64
	CanaryAvgResponseTimeMs   int
	BaselineErrorRate         float64
	BaselineAvgResponseTimeMs int
}

// analyzeCanaryMetrics compares the canary's observed error rate and
// latency against the configured thresholds (internal/config.CanaryPolicy,
// one policy for all tenants, set from the environment rather than a fixed
// 5%/1000ms). Promotion requires both the error rate and latency to clear
// their thresholds; failing either rolls back. No baseline is measured:
// the baseline columns of the persisted row are always zero.
//
// The metrics themselves are a placeholder: nothing in this system yet
// ships request-level telemetry for a running container, so this reads
// from container_health_checks as a proxy until a metrics pipeline exists.
func (o *Orchestrator) analyzeCanaryMetrics(ctx context.Context, deploymentID string, canary *ContainerRecord) (*canaryResult, error) {
	canaryErrorRate, canaryLatency, err := o.healthCheckStats(ctx, canary.ID)
	if err != nil {
		return nil, err
	}

	result := &canaryResult{
		CanaryErrorRate:         canaryErrorRate,
		CanaryAvgResponseTimeMs: canaryLatency,
	}

	policy := o.cfg.Canary
	switch {
	case canaryErrorRate > policy.MaxErrorRatePercent:
		result.Passed = false
		result.Decision = fmt.Sprintf("error rate %.2f%% exceeds threshold %.2f%%", canaryErrorRate, policy.MaxErrorRatePercent)
	case canaryLatency >= policy.MaxAvgLatencyMillis:
		result.Passed = false
		result.Decision = fmt.Sprintf("avg latency %dms at or above threshold %dms", canaryLatency, policy.MaxAvgLatencyMillis)
	default:
		result.Passed = true
		result.Decision = "promoted"
	}

	if _, err := o.db.ExecContext(ctx, `
		INSERT INTO canary_analysis_results
			(deployment_id, canary_error_rate, canary_avg_response_time_ms, baseline_error_rate, baseline_avg_response_time_ms, passed, decision)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, deploymentID, result.CanaryErrorRate, result.CanaryAvgResponseTimeMs, result.BaselineErrorRate, result.BaselineAvgResponseTimeMs, result.Passed, result.Decision,
	); err != nil {
		return nil, fmt.Errorf("persisting canary analysis for %s: %w", deploymentID, err)
	}

	return result, nil
}

// healthCheckStats derives an error rate and average response time from the
// health probes container_health_checks recorded for the given container.
func (o *Orchestrator) healthCheckStats(ctx context.Context, containerID string) (errorRate float64, avgLatencyMs int, err error) {
	var total, failed int
	var avg float64

	row := o.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status != 'healthy'),
			COALESCE(AVG(response_time_ms), 0)
		FROM container_health_checks chc
		JOIN deployment_containers dc ON dc.id = chc.container_id
		WHERE dc.container_id = $1
	`, containerID)
	if scanErr := row.Scan(&total, &failed, &avg); scanErr != nil {
		return 0, 0, fmt.Errorf("reading health check stats for %s: %w", containerID, scanErr)
	}

	if total == 0 {
		return 0, 0, nil
	}
	return (float64(failed) / float64(total)) * 100, int(avg), nil
}

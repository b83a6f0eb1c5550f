package orchestrator

import (
	"context"
	"fmt"

	"github.com/obtura/deploy-core/internal/errs"
)

// assignHostPort picks an unused host port in the configured range. A port
// counts as taken for any container still in 'starting', 'running', or
// 'healthy' status — not just active ones — so two containers created back
// to back in the same batch, before either has passed its health check and
// been marked active, never collide on the same port.
func (o *Orchestrator) assignHostPort(ctx context.Context) (int, error) {
	rows, err := o.db.QueryContext(ctx, `
		SELECT DISTINCT port FROM deployment_containers
		WHERE status IN ('starting', 'running', 'healthy') AND port BETWEEN $1 AND $2
		ORDER BY port
	`, o.cfg.PortRangeLow, o.cfg.PortRangeHigh)
	if err != nil {
		return 0, fmt.Errorf("querying allocated ports: %w", err)
	}
	defer rows.Close()

	used := map[int]bool{}
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return 0, fmt.Errorf("scanning allocated port: %w", err)
		}
		used[p] = true
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for p := o.cfg.PortRangeLow; p <= o.cfg.PortRangeHigh; p++ {
		if !used[p] {
			return p, nil
		}
	}

	return 0, errs.New(errs.ResourceExhausted, fmt.Errorf("no free host port in range %d-%d", o.cfg.PortRangeLow, o.cfg.PortRangeHigh))
}

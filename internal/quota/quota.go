// Package quota is the deployment core's read-only view of per-tenant plan
// limits: concurrent/monthly deployment caps, per-container CPU and memory
// ceilings, and environment counts.
package quota

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/obtura/deploy-core/internal/errs"
)

// Limits is the fully-resolved set of caps a project or company is subject
// to. Every field is always populated: nullable plan columns are filled in
// with the defaults below rather than left as zero values.
type Limits struct {
	MaxConcurrentDeployments int
	MaxDeploymentsPerMonth   int
	MaxDeploymentDuration    time.Duration

	CPUCoresPerDeployment float64
	MemoryGBPerDeployment int
	DiskSpaceGB           int

	MaxEnvironmentsPerProject int
	MaxPreviewEnvironments    int
	RollbackRetentionCount    int
	MaxServicesPerDeployment  int
}

// unlimitedMonthly is the sentinel used when a plan row leaves
// max_deployments_per_month null.
const unlimitedMonthly = 1<<31 - 1

func defaults() Limits {
	return Limits{
		MaxConcurrentDeployments: 1,
		MaxDeploymentsPerMonth:   unlimitedMonthly,
		MaxDeploymentDuration:    15 * time.Minute,
		CPUCoresPerDeployment:    2,
		MemoryGBPerDeployment:    1,
		DiskSpaceGB:              5,
		MaxEnvironmentsPerProject: 3,
		MaxPreviewEnvironments:    2,
		RollbackRetentionCount:    5,
		MaxServicesPerDeployment:  3,
	}
}

// Store resolves plan limits for a project or a company.
type Store interface {
	ForProject(ctx context.Context, projectID string) (Limits, error)
	ForCompany(ctx context.Context, companyID string) (Limits, error)
}

// SQLStore joins a tenant's active subscription to its plan row over a
// shared Postgres pool.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

const projectQuery = `
	SELECT
		sp.max_concurrent_deployments,
		sp.max_deployments_per_month,
		sp.cpu_cores_per_deployment,
		sp.memory_gb_per_deployment,
		sp.storage_gb,
		sp.max_environments_per_project,
		sp.max_preview_environments,
		sp.rollback_retention_count
	FROM projects p
	JOIN companies c ON c.id = p.company_id
	JOIN subscriptions s ON s.company_id = c.id
	JOIN subscription_plans sp ON sp.id = s.plan_id
	WHERE p.id = $1 AND s.status = 'active'
	LIMIT 1
`

const companyQuery = `
	SELECT
		sp.max_concurrent_deployments,
		sp.max_deployments_per_month,
		sp.cpu_cores_per_deployment,
		sp.memory_gb_per_deployment,
		sp.storage_gb,
		sp.max_environments_per_project,
		sp.max_preview_environments,
		sp.rollback_retention_count
	FROM companies c
	JOIN subscriptions s ON s.company_id = c.id
	JOIN subscription_plans sp ON sp.id = s.plan_id
	WHERE c.id = $1 AND s.status = 'active'
	LIMIT 1
`

func (s *SQLStore) ForProject(ctx context.Context, projectID string) (Limits, error) {
	return s.resolve(ctx, projectQuery, projectID, "project")
}

func (s *SQLStore) ForCompany(ctx context.Context, companyID string) (Limits, error) {
	return s.resolve(ctx, companyQuery, companyID, "company")
}

func (s *SQLStore) resolve(ctx context.Context, query, id, kind string) (Limits, error) {
	limits := defaults()

	var maxConcurrent sql.NullInt32
	var maxMonthly sql.NullInt32
	var cpuCores sql.NullFloat64
	var memoryGB, diskGB sql.NullInt32
	var maxEnvs, maxPreview, rollbackRetention sql.NullInt32

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&maxConcurrent,
		&maxMonthly,
		&cpuCores,
		&memoryGB,
		&diskGB,
		&maxEnvs,
		&maxPreview,
		&rollbackRetention,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return Limits{}, errs.New(errs.NotFound, fmt.Errorf("no active subscription for %s %s", kind, id))
		}
		return Limits{}, fmt.Errorf("resolving quota for %s %s: %w", kind, id, err)
	}

	if maxConcurrent.Valid {
		limits.MaxConcurrentDeployments = int(maxConcurrent.Int32)
	}
	if maxMonthly.Valid {
		limits.MaxDeploymentsPerMonth = int(maxMonthly.Int32)
	}
	if cpuCores.Valid {
		limits.CPUCoresPerDeployment = cpuCores.Float64
	}
	if memoryGB.Valid {
		limits.MemoryGBPerDeployment = int(memoryGB.Int32)
	}
	if diskGB.Valid {
		limits.DiskSpaceGB = int(diskGB.Int32)
	}
	if maxEnvs.Valid {
		limits.MaxEnvironmentsPerProject = int(maxEnvs.Int32)
	}
	if maxPreview.Valid {
		limits.MaxPreviewEnvironments = int(maxPreview.Int32)
	}
	if rollbackRetention.Valid {
		limits.RollbackRetentionCount = int(rollbackRetention.Int32)
	}

	return limits, nil
}

// Usage is the set of current counts a Limits value is checked against.
type Usage struct {
	ConcurrentDeployments int
	DeploymentsThisMonth  int
	EnvironmentsCount     int
	PreviewEnvironments   int
	ServicesInDeployment  int
}

// Within reports whether usage fits inside limits, and a human-readable
// reason for the first cap it exceeds.
func (l Limits) Within(usage Usage) (bool, string) {
	if usage.DeploymentsThisMonth >= l.MaxDeploymentsPerMonth {
		return false, "monthly deployment limit exceeded"
	}
	if usage.ConcurrentDeployments >= l.MaxConcurrentDeployments {
		return false, "concurrent deployment limit exceeded"
	}
	if usage.EnvironmentsCount >= l.MaxEnvironmentsPerProject {
		return false, "environment limit exceeded"
	}
	if usage.PreviewEnvironments >= l.MaxPreviewEnvironments {
		return false, "preview environment limit exceeded"
	}
	if usage.ServicesInDeployment > l.MaxServicesPerDeployment {
		return false, "services per deployment limit exceeded"
	}
	return true, ""
}

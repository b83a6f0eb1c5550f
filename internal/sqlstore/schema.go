package sqlstore

// Schema is the full set of tables the deployment core reads and writes.
// Tenant/plan tables (companies, subscriptions, subscription_plans,
// projects, builds) are owned by collaborator services in production;
// they are included here only so a standalone deploy-core instance (tests,
// local dev) can migrate a self-contained database.
const Schema = `
CREATE TABLE IF NOT EXISTS companies (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS subscription_plans (
	id TEXT PRIMARY KEY,
	tier TEXT NOT NULL DEFAULT 'starter',
	max_concurrent_deployments INTEGER,
	max_deployments_per_month INTEGER,
	cpu_cores_per_deployment DOUBLE PRECISION,
	memory_gb_per_deployment INTEGER,
	storage_gb INTEGER,
	max_environments_per_project INTEGER,
	max_preview_environments INTEGER,
	rollback_retention_count INTEGER,
	is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS subscriptions (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	company_id UUID NOT NULL REFERENCES companies(id),
	plan_id TEXT NOT NULL REFERENCES subscription_plans(id),
	status TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS projects (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	company_id UUID NOT NULL REFERENCES companies(id),
	slug TEXT NOT NULL,
	name TEXT NOT NULL,
	framework_data JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS builds (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	project_id UUID NOT NULL REFERENCES projects(id),
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS deployments (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	project_id UUID NOT NULL REFERENCES projects(id),
	build_id UUID REFERENCES builds(id),
	environment TEXT NOT NULL,
	image_tag TEXT NOT NULL,
	strategy TEXT NOT NULL,
	replica_count INTEGER NOT NULL DEFAULT 1,
	domain TEXT,
	subdomain TEXT,
	triggered_by TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	approval_required BOOLEAN NOT NULL DEFAULT FALSE,
	preview_expires_at TIMESTAMPTZ,
	error_message TEXT,
	is_rollback BOOLEAN NOT NULL DEFAULT FALSE,
	rolled_back_from_deployment_id UUID REFERENCES deployments(id),
	detected_dependencies JSONB,
	retry_count INTEGER NOT NULL DEFAULT 0,
	retry_errors JSONB NOT NULL DEFAULT '[]'::jsonb,
	last_retry_at TIMESTAMPTZ,
	deployment_started_at TIMESTAMPTZ,
	deployment_completed_at TIMESTAMPTZ,
	terminated_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_deployments_project_env ON deployments(project_id, environment);

CREATE TABLE IF NOT EXISTS deployment_strategy_state (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	deployment_id UUID NOT NULL UNIQUE REFERENCES deployments(id) ON DELETE CASCADE,
	strategy TEXT NOT NULL,
	current_phase TEXT NOT NULL,
	active_group TEXT,
	standby_group TEXT,
	total_batches INTEGER,
	current_batch INTEGER,
	batch_size INTEGER,
	canary_traffic_percentage INTEGER,
	canary_duration_minutes INTEGER,
	total_replicas INTEGER,
	healthy_replicas INTEGER NOT NULL DEFAULT 0,
	unhealthy_replicas INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	phase_started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	phase_updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	failed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS deployment_phase_transitions (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	deployment_id UUID NOT NULL REFERENCES deployments(id) ON DELETE CASCADE,
	from_phase TEXT,
	to_phase TEXT NOT NULL,
	at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS deployment_containers (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	deployment_id UUID NOT NULL REFERENCES deployments(id) ON DELETE CASCADE,
	container_id TEXT NOT NULL,
	container_name TEXT NOT NULL,
	image TEXT NOT NULL,
	port INTEGER,
	deployment_group TEXT NOT NULL,
	replica_index INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'starting',
	health_status TEXT NOT NULL DEFAULT 'starting',
	is_active BOOLEAN NOT NULL DEFAULT FALSE,
	is_primary BOOLEAN NOT NULL DEFAULT FALSE,
	health_checks_passed INTEGER NOT NULL DEFAULT 0,
	health_checks_failed INTEGER NOT NULL DEFAULT 0,
	consecutive_health_failures INTEGER NOT NULL DEFAULT 0,
	last_health_check_at TIMESTAMPTZ,
	started_at TIMESTAMPTZ,
	stopped_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_deployment_containers_container_id ON deployment_containers(container_id);
CREATE INDEX IF NOT EXISTS idx_deployment_containers_deployment ON deployment_containers(deployment_id);

CREATE TABLE IF NOT EXISTS deployment_traffic_routing (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	deployment_id UUID NOT NULL REFERENCES deployments(id) ON DELETE CASCADE,
	routing_group TEXT NOT NULL,
	traffic_percentage INTEGER NOT NULL,
	container_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	deactivated_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS deployment_events (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	deployment_id UUID NOT NULL REFERENCES deployments(id) ON DELETE CASCADE,
	event_type TEXT NOT NULL,
	event_message TEXT NOT NULL,
	severity TEXT NOT NULL DEFAULT 'info',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS deployment_alerts (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	deployment_id UUID NOT NULL REFERENCES deployments(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	severity TEXT NOT NULL,
	message TEXT NOT NULL,
	resolved BOOLEAN NOT NULL DEFAULT FALSE,
	acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
	resolver_user TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS deployment_approvals (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	deployment_id UUID NOT NULL REFERENCES deployments(id) ON DELETE CASCADE,
	approved_by TEXT,
	approved_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS deployment_rollbacks (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	from_deployment_id UUID NOT NULL REFERENCES deployments(id),
	to_deployment_id UUID NOT NULL REFERENCES deployments(id),
	reason TEXT,
	automatic BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS canary_analysis_results (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	deployment_id UUID NOT NULL REFERENCES deployments(id) ON DELETE CASCADE,
	strategy_state_id UUID REFERENCES deployment_strategy_state(id),
	analysis_type TEXT NOT NULL DEFAULT 'automatic',
	canary_error_rate DOUBLE PRECISION,
	canary_avg_response_time_ms INTEGER,
	baseline_error_rate DOUBLE PRECISION,
	baseline_avg_response_time_ms INTEGER,
	passed BOOLEAN NOT NULL,
	score DOUBLE PRECISION,
	decision TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS container_health_checks (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	container_id UUID REFERENCES deployment_containers(id),
	deployment_id UUID NOT NULL REFERENCES deployments(id) ON DELETE CASCADE,
	check_type TEXT NOT NULL DEFAULT 'http',
	status TEXT NOT NULL,
	endpoint TEXT,
	response_time_ms INTEGER,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

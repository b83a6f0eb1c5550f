package orchestrator

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func containerRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"container_id", "container_name", "status", "image", "port",
		"health_status", "deployment_group", "is_active", "is_primary", "replica_index",
	})
}

// These scenarios mirror a second deploy into an environment that already
// has a prior deployment row holding the live containers: exactly the
// shape that exposed the lookup-by-own-deployment-ID bug.
func TestContainersByGroupForEnvironmentExcludesCurrentDeployment(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	o := &Orchestrator{db: db}

	rows := containerRows().AddRow("c-old-1", "app-blue-0", "running", "app:v1", 9100, "healthy", "blue", true, true, 0)
	mock.ExpectQuery(`(?s)FROM deployment_containers dc.*JOIN deployments d.*WHERE d\.project_id = \$1 AND d\.environment = \$2 AND dc\.deployment_group = \$3 AND d\.id != \$4`).
		WithArgs("proj-1", "production", "blue", "dep-new").
		WillReturnRows(rows)

	containers, err := o.containersByGroupForEnvironment(context.Background(), "proj-1", "production", "blue", "dep-new")
	require.NoError(t, err)
	require.Len(t, containers, 1)
	assert.Equal(t, "c-old-1", containers[0].ID)
	assert.Equal(t, "blue", containers[0].DeploymentGroup)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContainersByGroupForEnvironmentEmptyOnFirstDeploy(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	o := &Orchestrator{db: db}

	mock.ExpectQuery(`(?s)FROM deployment_containers dc.*JOIN deployments d.*WHERE d\.project_id = \$1 AND d\.environment = \$2 AND dc\.deployment_group = \$3 AND d\.id != \$4`).
		WithArgs("proj-1", "production", "green", "dep-first").
		WillReturnRows(containerRows())

	containers, err := o.containersByGroupForEnvironment(context.Background(), "proj-1", "production", "green", "dep-first")
	require.NoError(t, err)
	assert.Empty(t, containers)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveContainersForEnvironmentExcludesCurrentDeployment(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	o := &Orchestrator{db: db}

	rows := containerRows().
		AddRow("c-stable-1", "app-rolling-0", "running", "app:v1", 9100, "healthy", "rolling", true, true, 0).
		AddRow("c-stable-2", "app-rolling-1", "running", "app:v1", 9101, "healthy", "rolling", true, false, 1)
	mock.ExpectQuery(`(?s)FROM deployment_containers dc.*JOIN deployments d.*WHERE d\.project_id = \$1 AND d\.environment = \$2 AND dc\.is_active = true AND d\.id != \$3`).
		WithArgs("proj-1", "production", "dep-new").
		WillReturnRows(rows)

	containers, err := o.activeContainersForEnvironment(context.Background(), "proj-1", "production", "dep-new")
	require.NoError(t, err)
	require.Len(t, containers, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveContainersForEnvironmentEmptyWhenNothingIsActiveYet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	o := &Orchestrator{db: db}

	mock.ExpectQuery(`(?s)FROM deployment_containers dc.*JOIN deployments d.*WHERE d\.project_id = \$1 AND d\.environment = \$2 AND dc\.is_active = true AND d\.id != \$3`).
		WithArgs("proj-1", "production", "dep-first").
		WillReturnRows(containerRows())

	containers, err := o.activeContainersForEnvironment(context.Background(), "proj-1", "production", "dep-first")
	require.NoError(t, err)
	assert.Empty(t, containers, "a rolling deploy into an empty environment must see no baseline and fall back to blue/green")
	require.NoError(t, mock.ExpectationsWereMet())
}

// activeContainers (used by Rollback) stays scoped to a single deployment
// row by design, unlike its *ForEnvironment siblings above.
func TestActiveContainersScopedToOwnDeploymentOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	o := &Orchestrator{db: db}

	rows := containerRows().AddRow("c1", "app-blue-0", "running", "app:v1", 9100, "healthy", "blue", true, true, 0)
	mock.ExpectQuery(`FROM deployment_containers WHERE deployment_id = \$1 AND is_active = true`).
		WithArgs("dep-1").
		WillReturnRows(rows)

	containers, err := o.activeContainers(context.Background(), "dep-1")
	require.NoError(t, err)
	require.Len(t, containers, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

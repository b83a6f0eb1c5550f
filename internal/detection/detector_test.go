package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeNodeExpressPostgres(t *testing.T) {
	manifest := Manifest{
		"package.json": []byte(`{
			"dependencies": {"express": "^4.18.0", "pg": "^8.11.0"}
		}`),
		".env.example": []byte("PORT=3000\n"),
	}

	deps, err := NewDetector().Analyze(manifest)
	require.NoError(t, err)
	require.Len(t, deps.Services, 1)
	assert.Equal(t, "app", deps.Services[0].Name)
	assert.Equal(t, string(FrameworkNodeJS), deps.Services[0].Type)
	assert.Equal(t, 3000, deps.Services[0].Port)

	require.Len(t, deps.Databases, 1)
	assert.Equal(t, string(DatabasePostgreSQL), deps.Databases[0].Type)
}

func TestAnalyzeGoModuleNoWebServer(t *testing.T) {
	manifest := Manifest{
		"go.mod": []byte("module example.com/thing\n\nrequire github.com/redis/go-redis/v9 v9.0.0\n"),
	}

	deps, err := NewDetector().Analyze(manifest)
	require.NoError(t, err)
	require.Len(t, deps.Services, 1)
	assert.Equal(t, string(FrameworkGo), deps.Services[0].Type)

	require.Len(t, deps.Databases, 1)
	assert.Equal(t, string(DatabaseRedis), deps.Databases[0].Type)
}

func TestAnalyzeEmptyManifest(t *testing.T) {
	deps, err := NewDetector().Analyze(Manifest{})
	require.NoError(t, err)
	assert.Empty(t, deps.Services)
	assert.Empty(t, deps.Databases)
}

func TestDetectPortsDeduplicates(t *testing.T) {
	manifest := Manifest{
		".env":      []byte("PORT=8080\n"),
		"Dockerfile": []byte("ENV PORT=8080\nEXPOSE 8080\n"),
	}
	ports := NewDetector().detectPorts(manifest)
	assert.Equal(t, []int{8080}, ports)
}

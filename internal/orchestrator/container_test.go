package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppPortPrefersExplicitConfig(t *testing.T) {
	o := &Orchestrator{}

	assert.Equal(t, 4000, o.appPort(Job{Config: map[string]interface{}{"port": float64(4000)}}))
	assert.Equal(t, 4000, o.appPort(Job{Config: map[string]interface{}{"port": 4000}}))
}

func TestAppPortFallsBackToFrameworkDefault(t *testing.T) {
	o := &Orchestrator{}

	assert.Equal(t, 5000, o.appPort(Job{Config: map[string]interface{}{"framework": "flask"}}))
	assert.Equal(t, 3000, o.appPort(Job{Config: map[string]interface{}{"framework": "nextjs"}}))
}

func TestAppPortDefaultsWhenUnknown(t *testing.T) {
	o := &Orchestrator{}

	assert.Equal(t, 3000, o.appPort(Job{}))
	assert.Equal(t, 3000, o.appPort(Job{Config: map[string]interface{}{"framework": "cobol-cgi"}}))
}

func TestAppPortIgnoresNonPositiveOverride(t *testing.T) {
	o := &Orchestrator{}

	assert.Equal(t, 3000, o.appPort(Job{Config: map[string]interface{}{"port": float64(0)}}))
}

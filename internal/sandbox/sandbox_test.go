package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyScalesByTier(t *testing.T) {
	tests := []struct {
		tier         Tier
		wantCPUQuota int64
		wantPids     int64
	}{
		{Starter, 100000, 128},
		{Team, 200000, 256},
		{Business, 400000, 512},
		{Enterprise, 800000, 1024},
		{Tier("unknown"), 100000, 128},
	}

	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			p := Policy(tt.tier, "staging")
			assert.Equal(t, tt.wantCPUQuota, p.CPUQuota)
			assert.Equal(t, tt.wantPids, p.PidsLimit)
		})
	}
}

func TestPolicyHardensProduction(t *testing.T) {
	prod := Policy(Starter, "production")
	assert.True(t, prod.ReadOnlyRoot)
	assert.Equal(t, 180*time.Second, prod.StartupTimeout)

	staging := Policy(Starter, "staging")
	assert.False(t, staging.ReadOnlyRoot)
	assert.Equal(t, 60*time.Second, staging.StartupTimeout)
}

func TestPolicyAlwaysDropsPrivileges(t *testing.T) {
	p := Policy(Enterprise, "production")
	assert.True(t, p.NoNewPrivileges)
	assert.ElementsMatch(t, retainedCapabilities, p.Capabilities.Bounding)
}

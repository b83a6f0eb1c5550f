package quota

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLimitsWithin(t *testing.T) {
	limits := Limits{
		MaxConcurrentDeployments: 2,
		MaxDeploymentsPerMonth:   10,
		MaxEnvironmentsPerProject: 3,
		MaxPreviewEnvironments:    2,
		MaxServicesPerDeployment:  3,
	}

	tests := []struct {
		name       string
		usage      Usage
		wantOK     bool
		wantReason string
	}{
		{
			name:   "within every cap",
			usage:  Usage{ConcurrentDeployments: 1, DeploymentsThisMonth: 5, EnvironmentsCount: 1, PreviewEnvironments: 1, ServicesInDeployment: 2},
			wantOK: true,
		},
		{
			name:       "monthly cap reached",
			usage:      Usage{DeploymentsThisMonth: 10},
			wantOK:     false,
			wantReason: "monthly deployment limit exceeded",
		},
		{
			name:       "concurrent cap reached",
			usage:      Usage{ConcurrentDeployments: 2},
			wantOK:     false,
			wantReason: "concurrent deployment limit exceeded",
		},
		{
			name:       "environment cap reached",
			usage:      Usage{EnvironmentsCount: 3},
			wantOK:     false,
			wantReason: "environment limit exceeded",
		},
		{
			name:       "preview environment cap reached",
			usage:      Usage{PreviewEnvironments: 2},
			wantOK:     false,
			wantReason: "preview environment limit exceeded",
		},
		{
			name:       "services per deployment over cap",
			usage:      Usage{ServicesInDeployment: 4},
			wantOK:     false,
			wantReason: "services per deployment limit exceeded",
		},
		{
			name:   "services per deployment at cap is fine",
			usage:  Usage{ServicesInDeployment: 3},
			wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := limits.Within(tt.usage)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				assert.Equal(t, tt.wantReason, reason)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	d := defaults()
	assert.Equal(t, 1, d.MaxConcurrentDeployments)
	assert.Equal(t, unlimitedMonthly, d.MaxDeploymentsPerMonth)
	assert.Equal(t, 3, d.MaxEnvironmentsPerProject)
}

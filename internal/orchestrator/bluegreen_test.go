package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoutableHost(t *testing.T) {
	tests := []struct {
		name string
		job  Job
		want string
	}{
		{
			name: "domain and subdomain",
			job:  Job{ProjectID: "proj-1", Domain: "example.com", Subdomain: "api"},
			want: "api.example.com",
		},
		{
			name: "domain without subdomain",
			job:  Job{ProjectID: "proj-1", Domain: "example.com"},
			want: "example.com",
		},
		{
			name: "falls back to project subdomain",
			job:  Job{ProjectID: "proj-1"},
			want: "proj-1.obtura.dev",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, routableHost(tt.job))
		})
	}
}

func TestCleanupListAccumulatesInOrder(t *testing.T) {
	list := &cleanupList{}
	list.add(&ContainerRecord{ID: "c1", Name: "one"})
	list.add(&ContainerRecord{ID: "c2", Name: "two"})

	require := assert.New(t)
	require.Len(list.containers, 2)
	require.Equal("one", list.containers[0].Name)
	require.Equal("two", list.containers[1].Name)
}

// Package sandbox resolves the security and resource profile a deployed
// container runs under, scaled by subscription tier and hardened further in
// production environments.
package sandbox

import (
	"time"

	units "github.com/docker/go-units"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Profile is everything internal/runtime needs to create a container that
// respects the tenant's plan tier and the target environment's hardening
// requirements.
type Profile struct {
	CPUQuota     int64
	MemoryLimit  int64
	PidsLimit    int64
	StorageLimit int64

	NetworkMode  string
	NetworkName  string
	AllowedPorts []int
	DNSServers   []string

	NoNewPrivileges bool
	ReadOnlyRoot    bool
	MaskedPaths     []string
	ReadOnlyPaths   []string
	Capabilities    specs.LinuxCapabilities

	Environment    string
	HealthCheckURL string
	StartupTimeout time.Duration
}

// Tier is a subscription plan tier name. Unknown tiers fall back to Starter.
type Tier string

const (
	Starter    Tier = "starter"
	Team       Tier = "team"
	Business   Tier = "business"
	Enterprise Tier = "enterprise"
)

var droppedCapabilities = []string{
	"CAP_SYS_ADMIN", "CAP_NET_ADMIN", "CAP_SYS_MODULE", "CAP_SYS_PTRACE",
	"CAP_SYS_BOOT", "CAP_SYS_TIME", "CAP_MAC_ADMIN", "CAP_MAC_OVERRIDE",
}

var retainedCapabilities = []string{
	"CAP_CHOWN", "CAP_DAC_OVERRIDE", "CAP_SETUID", "CAP_SETGID", "CAP_NET_BIND_SERVICE",
}

var defaultMaskedPaths = []string{
	"/proc/asound",
	"/proc/acpi",
	"/proc/kcore",
	"/proc/keys",
	"/proc/latency_stats",
	"/proc/timer_list",
	"/proc/timer_stats",
	"/proc/sched_debug",
	"/proc/scsi",
	"/sys/firmware",
	"/sys/devices/virtual/powercap",
}

var defaultReadOnlyPaths = []string{
	"/proc/bus",
	"/proc/fs",
	"/proc/irq",
	"/proc/sys",
	"/proc/sysrq-trigger",
}

// Policy resolves the sandbox profile for the given plan tier and target
// environment. Production deployments get a longer startup grace period and
// a read-only root filesystem regardless of tier; non-production
// environments trade that hardening for faster iteration.
func Policy(tier Tier, environment string) Profile {
	p := Profile{
		NoNewPrivileges: true,
		ReadOnlyRoot:    true,
		NetworkMode:     "obtura_dev",
		NetworkName:     "obtura_dev",
		Environment:     environment,
		HealthCheckURL:  "/health",
		StartupTimeout:  120 * time.Second,
		DNSServers:      []string{"1.1.1.1", "1.0.0.1"},
		MaskedPaths:     defaultMaskedPaths,
		ReadOnlyPaths:   defaultReadOnlyPaths,
		Capabilities: specs.LinuxCapabilities{
			Bounding:    retainedCapabilities,
			Effective:   retainedCapabilities,
			Permitted:   retainedCapabilities,
			Inheritable: nil,
			Ambient:     nil,
		},
	}
	_ = droppedCapabilities // documents the vocabulary explicitly excluded above

	switch tier {
	case Team:
		p.CPUQuota = 200000
		p.MemoryLimit = 1073741824
		p.PidsLimit = 256
		p.StorageLimit = 20 * units.GiB
		p.AllowedPorts = []int{8080, 8443}
	case Business:
		p.CPUQuota = 400000
		p.MemoryLimit = 2147483648
		p.PidsLimit = 512
		p.StorageLimit = 50 * units.GiB
		p.AllowedPorts = []int{8080, 8443, 9090}
	case Enterprise:
		p.CPUQuota = 800000
		p.MemoryLimit = 4294967296
		p.PidsLimit = 1024
		p.StorageLimit = 100 * units.GiB
		p.AllowedPorts = []int{8080, 8443, 9090, 3000}
	default:
		p.CPUQuota = 100000
		p.MemoryLimit = 536870912
		p.PidsLimit = 128
		p.StorageLimit = 5 * units.GiB
		p.AllowedPorts = []int{8080}
	}

	if environment == "production" {
		p.ReadOnlyRoot = true
		p.StartupTimeout = 180 * time.Second
	} else {
		p.ReadOnlyRoot = false
		p.StartupTimeout = 60 * time.Second
	}

	return p
}

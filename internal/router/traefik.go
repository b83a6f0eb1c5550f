// Package router programs the file-based edge router: one YAML file per
// container declaring an HTTP router and a load-balanced service pointing
// at that container's host port.
package router

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type dynamicConfig struct {
	HTTP httpConfig `yaml:"http"`
}

type httpConfig struct {
	Routers  map[string]routerEntry  `yaml:"routers"`
	Services map[string]serviceEntry `yaml:"services"`
}

type routerEntry struct {
	Rule        string   `yaml:"rule"`
	Service     string   `yaml:"service"`
	EntryPoints []string `yaml:"entryPoints"`
	Priority    int      `yaml:"priority"`
}

type serviceEntry struct {
	LoadBalancer loadBalancer `yaml:"loadBalancer"`
}

type loadBalancer struct {
	Servers     []server    `yaml:"servers"`
	HealthCheck healthCheck `yaml:"healthCheck"`
}

type server struct {
	URL string `yaml:"url"`
}

type healthCheck struct {
	Path     string `yaml:"path"`
	Interval string `yaml:"interval"`
	Timeout  string `yaml:"timeout"`
}

// Route describes the routing rule a single container needs programmed.
type Route struct {
	ContainerName string
	Host          string // fully-qualified domain, e.g. "myapp.obtura.dev"
	TargetHost    string // docker host/alias the router reaches the container through
	Port          int
}

// Router writes and removes Traefik dynamic-config files under Dir.
type Router struct {
	Dir string
	log zerolog.Logger
}

func New(dir string, log zerolog.Logger) *Router {
	return &Router{Dir: dir, log: log}
}

// Program writes (or overwrites) the dynamic-config file for route. File
// names are unique per container, so concurrent writers for different
// containers never collide.
func (r *Router) Program(route Route) error {
	if err := os.MkdirAll(r.Dir, 0755); err != nil {
		return fmt.Errorf("creating router config directory: %w", err)
	}

	cfg := dynamicConfig{
		HTTP: httpConfig{
			Routers: map[string]routerEntry{
				route.ContainerName: {
					Rule:        fmt.Sprintf("Host(`%s`)", route.Host),
					Service:     route.ContainerName,
					EntryPoints: []string{"web"},
					Priority:    200,
				},
			},
			Services: map[string]serviceEntry{
				route.ContainerName: {
					LoadBalancer: loadBalancer{
						Servers: []server{{URL: fmt.Sprintf("http://%s:%d", route.TargetHost, route.Port)}},
						HealthCheck: healthCheck{
							Path:     "/",
							Interval: "10s",
							Timeout:  "3s",
						},
					},
				},
			},
		},
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling router config for %s: %w", route.ContainerName, err)
	}

	path := r.configPath(route.ContainerName)
	if err := os.WriteFile(path, out, 0644); err != nil {
		return fmt.Errorf("writing router config %s: %w", path, err)
	}

	r.log.Info().Str("container", route.ContainerName).Str("host", route.Host).Int("port", route.Port).Msg("programmed router rule")
	return nil
}

// Remove deletes a container's dynamic-config file. A missing file is not
// an error: removal is idempotent.
func (r *Router) Remove(containerName string) error {
	path := r.configPath(containerName)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing router config %s: %w", path, err)
	}
	return nil
}

func (r *Router) configPath(containerName string) string {
	return filepath.Join(r.Dir, fmt.Sprintf("%s.yml", containerName))
}

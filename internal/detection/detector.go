// Package detection infers a deployment's service dependencies (language
// framework, databases, message queues, web server, ports) from the build
// artifact's manifest files. The orchestrator never has local filesystem
// access to the customer's repository — it only has whatever internal/storage
// fetched from the build artifact bundle — so detection here works over an
// in-memory file set rather than a directory path.
package detection

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

type FrameworkType string

const (
	FrameworkNodeJS  FrameworkType = "nodejs"
	FrameworkPython  FrameworkType = "python"
	FrameworkGo      FrameworkType = "go"
	FrameworkJava    FrameworkType = "java"
	FrameworkPHP     FrameworkType = "php"
	FrameworkRuby    FrameworkType = "ruby"
	FrameworkDotNet  FrameworkType = "dotnet"
	FrameworkUnknown FrameworkType = "unknown"
)

type DatabaseType string

const (
	DatabasePostgreSQL DatabaseType = "postgresql"
	DatabaseMySQL      DatabaseType = "mysql"
	DatabaseMongoDB    DatabaseType = "mongodb"
	DatabaseRedis      DatabaseType = "redis"
	DatabaseSQLite     DatabaseType = "sqlite"
)

type MessageQueueType string

const (
	QueueRabbitMQ MessageQueueType = "rabbitmq"
	QueueKafka    MessageQueueType = "kafka"
	QueueRedis    MessageQueueType = "redis"
)

// ServiceDependencies is what the orchestrator persists to
// deployments.detected_dependencies.
type ServiceDependencies struct {
	Services  []Service  `json:"services"`
	Databases []Database `json:"databases"`
}

type Service struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Port int    `json:"port,omitempty"`
}

type Database struct {
	Type    string `json:"type"`
	Version string `json:"version,omitempty"`
}

// Manifest is the subset of a build artifact's files detection reads —
// keyed by file name (e.g. "package.json", "go.mod", ".env"), not a path.
type Manifest map[string][]byte

// Detector infers ServiceDependencies from a manifest.
type Detector struct{}

func NewDetector() *Detector {
	return &Detector{}
}

// Analyze inspects the manifest and returns the dependencies the
// orchestrator should record for the deployment.
func (d *Detector) Analyze(manifest Manifest) (*ServiceDependencies, error) {
	framework := d.detectFramework(manifest)
	databases := d.detectDatabases(manifest)
	queues := d.detectMessageQueues(manifest)
	hasWebServer := d.detectWebServer(manifest)
	ports := d.detectPorts(manifest)

	deps := &ServiceDependencies{}

	if framework != FrameworkUnknown || hasWebServer {
		svc := Service{Name: "app", Type: string(framework)}
		if len(ports) > 0 {
			svc.Port = ports[0]
		}
		deps.Services = append(deps.Services, svc)
	}
	for _, q := range queues {
		deps.Services = append(deps.Services, Service{Name: string(q), Type: "message_queue"})
	}
	for _, db := range databases {
		deps.Databases = append(deps.Databases, Database{Type: string(db)})
	}

	return deps, nil
}

func (d *Detector) detectFramework(m Manifest) FrameworkType {
	for name := range m {
		switch strings.ToLower(name) {
		case "package.json":
			return FrameworkNodeJS
		case "requirements.txt", "setup.py", "pyproject.toml":
			return FrameworkPython
		case "go.mod", "go.sum":
			return FrameworkGo
		case "pom.xml", "build.gradle":
			return FrameworkJava
		case "composer.json":
			return FrameworkPHP
		case "gemfile":
			return FrameworkRuby
		case ".csproj", "project.json":
			return FrameworkDotNet
		}
	}
	return FrameworkUnknown
}

var databasePatterns = map[DatabaseType][]string{
	DatabasePostgreSQL: {"pg", "postgres", "postgresql", "psycopg2", "pq", "npgsql", "org.postgresql", "libpq"},
	DatabaseMySQL:      {"mysql", "mysql2", "pymysql", "mysql-connector", "mysql.data", "com.mysql.jdbc", "mysqlclient"},
	DatabaseMongoDB:    {"mongodb", "mongoose", "pymongo", "mongodb.driver", "org.mongodb.driver", "mongo-go-driver"},
	DatabaseRedis:      {"redis", "ioredis", "redis-py", "stackexchange.redis", "jedis", "go-redis"},
	DatabaseSQLite:     {"sqlite", "sqlite3", "better-sqlite3", "system.data.sqlite"},
}

func (d *Detector) detectDatabases(m Manifest) []DatabaseType {
	var found []DatabaseType
	seen := map[DatabaseType]bool{}

	add := func(db DatabaseType) {
		if !seen[db] {
			seen[db] = true
			found = append(found, db)
		}
	}

	scanText := func(text string) {
		text = strings.ToLower(text)
		for db, patterns := range databasePatterns {
			for _, pattern := range patterns {
				if strings.Contains(text, pattern) {
					add(db)
				}
			}
		}
	}

	if pkg, ok := m["package.json"]; ok {
		var parsed struct {
			Dependencies    map[string]string `json:"dependencies"`
			DevDependencies map[string]string `json:"devDependencies"`
		}
		if json.Unmarshal(pkg, &parsed) == nil {
			for dep := range parsed.Dependencies {
				scanText(dep)
			}
			for dep := range parsed.DevDependencies {
				scanText(dep)
			}
		}
	}

	if req, ok := m["requirements.txt"]; ok {
		scanText(string(req))
	}

	if goMod, ok := m["go.mod"]; ok {
		scanText(string(goMod))
	}

	return found
}

var queuePatterns = map[MessageQueueType][]string{
	QueueRabbitMQ: {"amqp", "rabbitmq", "amqp091-go", "pika"},
	QueueKafka:    {"kafka", "confluent-kafka", "sarama", "kafka-python"},
	QueueRedis:    {"redis", "ioredis", "redis-py"},
}

func (d *Detector) detectMessageQueues(m Manifest) []MessageQueueType {
	var found []MessageQueueType
	seen := map[MessageQueueType]bool{}

	pkg, ok := m["package.json"]
	if !ok {
		return found
	}
	var parsed struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if json.Unmarshal(pkg, &parsed) != nil {
		return found
	}

	for queue, patterns := range queuePatterns {
		for _, pattern := range patterns {
			for dep := range parsed.Dependencies {
				if strings.Contains(strings.ToLower(dep), pattern) && !seen[queue] {
					seen[queue] = true
					found = append(found, queue)
				}
			}
		}
	}
	return found
}

var webServerPatterns = []string{
	"express", "koa", "fastify", "hapi",
	"flask", "django", "fastapi", "tornado",
	"gin", "echo", "fiber",
	"spring-boot", "jax-rs",
	"laravel", "symfony",
	"rails", "sinatra",
}

func (d *Detector) detectWebServer(m Manifest) bool {
	pkg, ok := m["package.json"]
	if !ok {
		return false
	}
	var parsed struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if json.Unmarshal(pkg, &parsed) != nil {
		return false
	}

	for _, pattern := range webServerPatterns {
		for dep := range parsed.Dependencies {
			if strings.Contains(strings.ToLower(dep), pattern) {
				return true
			}
		}
	}
	return false
}

var portRegex = regexp.MustCompile(`(?i)port[\s]*[:=][\s]*(\d+)`)

func (d *Detector) detectPorts(m Manifest) []int {
	var ports []int
	seen := map[int]bool{}

	for _, name := range []string{".env", ".env.example", "docker-compose.yml", "Dockerfile"} {
		content, ok := m[name]
		if !ok {
			continue
		}
		for _, match := range portRegex.FindAllStringSubmatch(string(content), -1) {
			if len(match) < 2 {
				continue
			}
			port, err := strconv.Atoi(match[1])
			if err != nil || port <= 0 || seen[port] {
				continue
			}
			seen[port] = true
			ports = append(ports, port)
		}
	}

	return ports
}

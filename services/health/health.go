// Package health reports the state of the service and the stores it depends on.
package health

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusCritical = "critical"

	dependencyUp       = "up"
	dependencyDown     = "down"
	dependencyDisabled = "disabled"

	defaultTimeout = 1500 * time.Millisecond
)

// ClientCounter is satisfied by the websocket hub.
type ClientCounter interface {
	GetClientCount() int
}

// Options describe the running deployment.
type Options struct {
	ServiceName    string
	Version        string
	Environment    string
	PaymentGateway string
	SkipMigrate    bool
}

type Service struct {
	opts      Options
	db        *gorm.DB
	redis     *redis.Client
	hub       ClientCounter
	startTime time.Time
	timeout   time.Duration
}

// Report is the JSON body of GET /health.
type Report struct {
	Status        string       `json:"status"`
	Service       string       `json:"service"`
	Version       string       `json:"version"`
	Environment   string       `json:"environment"`
	Time          time.Time    `json:"time"`
	UptimeSeconds float64      `json:"uptime_seconds"`
	UptimeHuman   string       `json:"uptime_human"`
	Dependencies  []Dependency `json:"dependencies"`
	Runtime       RuntimeInfo  `json:"runtime"`
}

// Dependency captures the health of a single external dependency.
type Dependency struct {
	Name      string                 `json:"name"`
	Status    string                 `json:"status"`
	LatencyMs int64                  `json:"latency_ms"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

type RuntimeInfo struct {
	GoVersion     string `json:"go_version"`
	Goroutines    int    `json:"goroutines"`
	HeapAlloc     uint64 `json:"heap_alloc_bytes"`
	LiveFeedUsers int    `json:"live_feed_clients"`
	SkipMigrate   bool   `json:"skip_migrate"`
}

func NewService(opts Options, db *gorm.DB, rdb *redis.Client, hub ClientCounter) *Service {
	if strings.TrimSpace(opts.ServiceName) == "" {
		opts.ServiceName = "School Registration API"
	}
	if strings.TrimSpace(opts.Version) == "" {
		opts.Version = "1.0.0"
	}
	if strings.TrimSpace(opts.Environment) == "" {
		opts.Environment = "unknown"
	}
	return &Service{opts: opts, db: db, redis: rdb, hub: hub, startTime: time.Now(), timeout: defaultTimeout}
}

// Report probes every dependency. MySQL down is critical; Redis down only degrades.
func (s *Service) Report(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	uptime := time.Since(s.startTime)
	report := Report{
		Status:        StatusOK,
		Service:       s.opts.ServiceName,
		Version:       s.opts.Version,
		Environment:   s.opts.Environment,
		Time:          time.Now().UTC(),
		UptimeSeconds: uptime.Seconds(),
		UptimeHuman:   humanizeDuration(uptime),
	}

	dbDep, dbStatus := s.checkDatabase(ctx)
	redisDep, redisStatus := s.checkRedis(ctx)
	report.Status = combineStatus(combineStatus(report.Status, dbStatus), redisStatus)
	report.Dependencies = []Dependency{dbDep, redisDep, {
		Name:    "payment_gateway",
		Status:  dependencyUp,
		Details: map[string]interface{}{"provider": s.opts.PaymentGateway},
	}}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	report.Runtime = RuntimeInfo{
		GoVersion:   runtime.Version(),
		Goroutines:  runtime.NumGoroutine(),
		HeapAlloc:   mem.HeapAlloc,
		SkipMigrate: s.opts.SkipMigrate,
	}
	if s.hub != nil {
		report.Runtime.LiveFeedUsers = s.hub.GetClientCount()
	}
	return report
}

// HTTPStatus maps an overall status to an HTTP status code.
func HTTPStatus(status string) int {
	if status == StatusCritical {
		return 503
	}
	return 200
}

func (s *Service) checkDatabase(ctx context.Context) (Dependency, string) {
	dep := Dependency{Name: "mysql"}
	if s.db == nil {
		dep.Status = dependencyDown
		dep.Error = "database connection not initialised"
		return dep, StatusCritical
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		dep.Status = dependencyDown
		dep.Error = fmt.Sprintf("sql DB handle error: %v", err)
		return dep, StatusCritical
	}

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	dep.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		dep.Status = dependencyDown
		dep.Error = err.Error()
		return dep, StatusCritical
	}

	stats := sqlDB.Stats()
	dep.Status = dependencyUp
	dep.Details = map[string]interface{}{
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"max_open_connections": stats.MaxOpenConnections,
	}
	return dep, StatusOK
}

func (s *Service) checkRedis(ctx context.Context) (Dependency, string) {
	dep := Dependency{Name: "redis"}
	if s.redis == nil {
		dep.Status = dependencyDisabled
		return dep, StatusDegraded
	}

	start := time.Now()
	err := s.redis.Ping(ctx).Err()
	dep.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		dep.Status = dependencyDown
		dep.Error = err.Error()
		return dep, StatusDegraded
	}
	dep.Status = dependencyUp
	dep.Details = map[string]interface{}{"address": s.redis.Options().Addr}
	return dep, StatusOK
}

func combineStatus(current, candidate string) string {
	order := map[string]int{StatusOK: 0, StatusDegraded: 1, StatusCritical: 2}
	if _, ok := order[current]; !ok {
		current = StatusOK
	}
	if v, ok := order[candidate]; ok && v > order[current] {
		return candidate
	}
	return current
}

func humanizeDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}

	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d %= 24 * time.Hour
	hours := d / time.Hour
	d %= time.Hour
	minutes := d / time.Minute
	d %= time.Minute
	seconds := d / time.Second

	parts := []string{}
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	return strings.Join(parts, " ")
}

package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status: состояние компонента или сервиса целиком.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	// StatusDegraded: упала необязательная зависимость, сервис продолжает принимать трафик.
	StatusDegraded Status = "degraded"
)

const (
	defaultCheckTimeout = 2 * time.Second
	maxParallelChecks   = 4
)

// Check: результат одной проверки.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	Optional   bool   `json:"optional,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response сериализуется в тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет один компонент сервиса.
type Checker interface {
	Check(ctx context.Context) Check
}

type registration struct {
	checker  Checker
	optional bool
}

// Handler агрегирует проверки для /healthz, /readyz и gRPC health.
type Handler struct {
	mu      sync.RWMutex
	checks  map[string]registration
	version string
	started time.Time
}

func NewHandler(version string) *Handler {
	return &Handler{
		checks:  make(map[string]registration),
		version: version,
		started: time.Now(),
	}
}

// RegisterChecker добавляет обязательную проверку: её отказ снимает readiness.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.register(name, registration{checker: checker})
}

// RegisterOptional добавляет проверку, отказ которой только переводит сервис в degraded.
func (h *Handler) RegisterOptional(name string, checker Checker) {
	h.register(name, registration{checker: checker, optional: true})
}

func (h *Handler) register(name string, reg registration) {
	h.mu.Lock()
	h.checks[name] = reg
	h.mu.Unlock()
}

// Evaluate выполняет проверки параллельно и сводит их в общий статус.
func (h *Handler) Evaluate(ctx context.Context) Response {
	h.mu.RLock()
	regs := make(map[string]registration, len(h.checks))
	for name, reg := range h.checks {
		regs[name] = reg
	}
	h.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make(map[string]Check, len(regs))
		g       errgroup.Group
	)
	g.SetLimit(maxParallelChecks)
	for name, reg := range regs {
		g.Go(func() error {
			check := reg.checker.Check(ctx)
			if reg.optional {
				check.Optional = true
				if check.Status == StatusUnhealthy {
					check.Status = StatusDegraded
				}
			}
			mu.Lock()
			results[name] = check
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return Response{
		Status:        overall(results),
		Timestamp:     time.Now().UTC(),
		Checks:        results,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
}

func overall(checks map[string]Check) Status {
	status := StatusHealthy
	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}

// Ready сообщает, что все обязательные проверки прошли.
func (h *Handler) Ready(ctx context.Context) bool {
	return h.Evaluate(ctx).Status != StatusUnhealthy
}

// ServeHTTP отдаёт подробный JSON со статусами компонентов.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.Evaluate(r.Context())

	code := http.StatusOK
	if response.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler всегда отвечает 200, пока процесс жив.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	writePlain(w, http.StatusOK, "ok")
}

// ReadinessHandler отвечает 503, пока хотя бы одна обязательная проверка не прошла.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !h.Ready(r.Context()) {
		writePlain(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	writePlain(w, http.StatusOK, "ready")
}

func writePlain(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(body))
}

// PingChecker вызывает функцию проверки с ограничением по времени.
type PingChecker struct {
	name    string
	timeout time.Duration
	ping    func(ctx context.Context) error
}

// NewPingChecker создаёт проверку; timeout<=0 заменяется значением по умолчанию.
func NewPingChecker(name string, timeout time.Duration, ping func(ctx context.Context) error) *PingChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &PingChecker{name: name, timeout: timeout, ping: ping}
}

func (c *PingChecker) Check(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	err := c.ping(ctx)
	check := Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}

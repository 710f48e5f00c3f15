package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	// scenarioStep агрегирует сценарий целиком, остальные шаги соответствуют вызовам API.
	scenarioStep  = "scenario"
	codeTransport = "transport_error"
)

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type stepReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time             `json:"started_at"`
	DurationSeconds   float64               `json:"duration_seconds"`
	TotalScenarios    int64                 `json:"total_scenarios"`
	SuccessScenarios  int64                 `json:"success_scenarios"`
	FailedScenarios   int64                 `json:"failed_scenarios"`
	ErrorRate         float64               `json:"error_rate"`
	RPS               float64               `json:"rps"`
	ScenarioLatencyMs latencySummary        `json:"scenario_latency_ms"`
	Steps             map[string]stepReport `json:"steps"`
}

type stepSamples struct {
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []time.Duration
}

// recorder собирает результаты шагов от всех воркеров.
type recorder struct {
	mu    sync.Mutex
	steps map[string]*stepSamples
}

func newRecorder() *recorder {
	return &recorder{steps: make(map[string]*stepSamples)}
}

func (r *recorder) observe(step string, latency time.Duration, code string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.steps[step]
	if s == nil {
		s = &stepSamples{codes: make(map[string]int64)}
		r.steps[step] = s
	}
	if ok {
		s.success++
	} else {
		s.failed++
	}
	s.codes[code]++
	s.latencies = append(s.latencies, latency)
}

func (r *recorder) report(startedAt time.Time, elapsed time.Duration) report {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Steps:           make(map[string]stepReport, len(r.steps)),
	}
	for name, s := range r.steps {
		calls := s.success + s.failed
		out.Steps[name] = stepReport{
			Calls:     calls,
			Success:   s.success,
			Failed:    s.failed,
			ErrorRate: share(s.failed, calls),
			Codes:     maps.Clone(s.codes),
			LatencyMs: summarize(s.latencies),
		}
	}

	if scenario, ok := out.Steps[scenarioStep]; ok {
		out.TotalScenarios = scenario.Calls
		out.SuccessScenarios = scenario.Success
		out.FailedScenarios = scenario.Failed
		out.ErrorRate = scenario.ErrorRate
		out.ScenarioLatencyMs = scenario.LatencyMs
		delete(out.Steps, scenarioStep)
	}
	if elapsed > 0 {
		out.RPS = float64(out.TotalScenarios) / elapsed.Seconds()
	}
	return out
}

// summarize считает перцентили с линейной интерполяцией между соседними значениями.
func summarize(latencies []time.Duration) latencySummary {
	if len(latencies) == 0 {
		return latencySummary{}
	}

	ms := make([]float64, len(latencies))
	var sum float64
	for i, d := range latencies {
		ms[i] = float64(d.Microseconds()) / 1000
		sum += ms[i]
	}
	slices.Sort(ms)

	return latencySummary{
		Min: ms[0],
		Max: ms[len(ms)-1],
		Avg: sum / float64(len(ms)),
		P50: quantile(ms, 0.50),
		P95: quantile(ms, 0.95),
		P99: quantile(ms, 0.99),
	}
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo, hi := int(math.Floor(pos)), int(math.Ceil(pos))
	return sorted[lo] + (sorted[hi]-sorted[lo])*(pos-float64(lo))
}

func share(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}

func printReport(w io.Writer, r report, cfg config) {
	lat := r.ScenarioLatencyMs
	_, _ = fmt.Fprintf(w, "Load test summary\nmode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode, cfg.target(), r.TotalScenarios, r.SuccessScenarios, r.FailedScenarios, r.ErrorRate)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", r.DurationSeconds, r.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		lat.Min, lat.Avg, lat.P50, lat.P95, lat.P99, lat.Max)

	for _, name := range slices.Sorted(maps.Keys(r.Steps)) {
		s := r.Steps[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d success=%d failed=%d error_rate=%.4f p95=%.2fms\n",
			name, s.Calls, s.Success, s.Failed, s.ErrorRate, s.LatencyMs.P95)
	}
}

// writeReport пишет JSON-отчёт; путь должен оставаться внутри рабочего каталога.
func writeReport(path string, r report) error {
	clean := filepath.Clean(path)
	switch {
	case clean == "." || clean == string(filepath.Separator):
		return errors.New("output path must point to a file")
	case filepath.IsAbs(clean), clean == "..", strings.HasPrefix(clean, ".."+string(filepath.Separator)):
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return os.WriteFile(clean, append(raw, '\n'), 0o600)
}

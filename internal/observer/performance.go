package observer

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sketchsync/sketchsync/internal/eventbus"
)

// BreachRecorder counts threshold breaches per category; implemented
// by the metrics registry.
type BreachRecorder interface {
	ObserveBreach(category string)
}

// Breach is one recorded system warning or error.
type Breach struct {
	Category string         `json:"category"`
	Severity string         `json:"severity"`
	Payload  map[string]any `json:"payload"`
	At       time.Time      `json:"at"`
}

// Performance watches system.warning and system.error events and keeps
// per-category breach counts for the ops surface.
type Performance struct {
	log      *slog.Logger
	recorder BreachRecorder

	mu       sync.RWMutex
	counts   map[string]int
	recent   []Breach
	capacity int
}

func NewPerformance(log *slog.Logger, recorder BreachRecorder) *Performance {
	if log == nil {
		log = slog.Default()
	}
	return &Performance{
		log:      log,
		recorder: recorder,
		counts:   make(map[string]int),
		capacity: 1000,
	}
}

func (p *Performance) Name() string { return "performance" }

func (p *Performance) ShouldHandle(e eventbus.Event) bool {
	return e.Type == "system.warning" || e.Type == "system.error"
}

func (p *Performance) Handle(e eventbus.Event) error {
	category := breachCategory(e)
	severity := strings.TrimPrefix(e.Type, "system.")

	p.mu.Lock()
	p.counts[category]++
	p.recent = append(p.recent, Breach{
		Category: category,
		Severity: severity,
		Payload:  e.Payload,
		At:       e.Timestamp,
	})
	if len(p.recent) > p.capacity {
		p.recent = p.recent[len(p.recent)-p.capacity:]
	}
	p.mu.Unlock()

	if p.recorder != nil {
		p.recorder.ObserveBreach(category)
	}

	if e.Type == "system.error" {
		p.log.Error("system threshold breached",
			slog.String("category", category),
			slog.Any("payload", e.Payload),
		)
	}
	return nil
}

func breachCategory(e eventbus.Event) string {
	if c, ok := e.Payload["category"].(string); ok && c != "" {
		return c
	}
	if _, ok := e.Payload["response_time_ms"]; ok {
		return "response_time"
	}
	if _, ok := e.Payload["memory_mb"]; ok {
		return "memory"
	}
	if _, ok := e.Payload["error_rate"]; ok {
		return "error_rate"
	}
	return "general"
}

// Breaches reports per-category counts.
func (p *Performance) Breaches() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]int, len(p.counts))
	for k, v := range p.counts {
		out[k] = v
	}
	return out
}

// Recent returns up to limit latest breaches, newest last.
func (p *Performance) Recent(limit int) []Breach {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := len(p.recent)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Breach, limit)
	copy(out, p.recent[n-limit:])
	return out
}

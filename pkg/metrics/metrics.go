package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Registry accumulates per-endpoint latency stats and admission outcomes.
// Everything is in-process; a scrape endpoint serializes snapshots.
type Registry struct {
	mu        sync.RWMutex
	endpoint  map[string]*EndpointStat
	admission map[string]int64
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type Snapshot struct {
	GeneratedAt string                  `json:"generated_at"`
	Endpoints   map[string]EndpointStat `json:"endpoints"`
	Admissions  map[string]int64        `json:"admissions"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:  map[string]*EndpointStat{},
		admission: map[string]int64{},
	}
}

func (r *Registry) Observe(path string, status int, d time.Duration) {
	millis := d.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[path]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[path] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += millis
	if millis > stat.MaxMillis {
		stat.MaxMillis = millis
	}
	stat.LastStatusCode = status
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
}

// IncAdmission counts one admission outcome, keyed by the wire error code
// ("OK" for admitted requests that reached the handler).
func (r *Registry) IncAdmission(code string) {
	code = strings.TrimSpace(code)
	if code == "" {
		return
	}
	r.mu.Lock()
	r.admission[code]++
	r.mu.Unlock()
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	endpoints := make(map[string]EndpointStat, len(r.endpoint))
	for k, v := range r.endpoint {
		endpoints[k] = *v
	}
	admissions := make(map[string]int64, len(r.admission))
	for k, v := range r.admission {
		admissions[k] = v
	}
	return Snapshot{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Endpoints:   endpoints,
		Admissions:  admissions,
	}
}

// PrometheusText renders the snapshot in exposition format for scrapers.
func (r *Registry) PrometheusText() string {
	snap := r.Snapshot()
	var b strings.Builder
	b.WriteString("# TYPE dashboard_http_requests_total counter\n")
	for _, path := range sortedKeys(snap.Endpoints) {
		stat := snap.Endpoints[path]
		fmt.Fprintf(&b, "dashboard_http_requests_total{path=%s} %d\n", strconv.Quote(path), stat.Count)
		fmt.Fprintf(&b, "dashboard_http_request_errors_total{path=%s} %d\n", strconv.Quote(path), stat.ErrorCount)
		fmt.Fprintf(&b, "dashboard_http_request_duration_ms_max{path=%s} %d\n", strconv.Quote(path), stat.MaxMillis)
	}
	b.WriteString("# TYPE dashboard_admissions_total counter\n")
	admissionCodes := make([]string, 0, len(snap.Admissions))
	for code := range snap.Admissions {
		admissionCodes = append(admissionCodes, code)
	}
	sort.Strings(admissionCodes)
	for _, code := range admissionCodes {
		fmt.Fprintf(&b, "dashboard_admissions_total{code=%s} %d\n", strconv.Quote(code), snap.Admissions[code])
	}
	return b.String()
}

func sortedKeys(m map[string]EndpointStat) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

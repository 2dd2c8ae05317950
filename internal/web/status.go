package web

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"hoverhold/internal/station"
)

// Status holds what the status page reports besides the loop itself:
// process uptime, static run settings, and named collaborator views such as
// link counters or bench sensor health.
type Status struct {
	startUnixNano int64
	transport     atomic.Value // string
	configPath    atomic.Value // string

	mu      sync.RWMutex
	sources map[string]func() any
}

func NewStatus() *Status {
	s := &Status{sources: map[string]func() any{}}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.transport.Store("")
	s.configPath.Store("")
	return s
}

func (s *Status) SetStatic(transport, configPath string) {
	s.transport.Store(transport)
	s.configPath.Store(configPath)
}

// AddSource registers fn to be sampled into every snapshot under name.
func (s *Status) AddSource(name string, fn func() any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[name] = fn
}

type StatusSnapshot struct {
	Service    string         `json:"service"`
	NowUTC     string         `json:"now_utc"`
	UptimeSec  int64          `json:"uptime_sec"`
	Transport  string         `json:"transport"`
	ConfigPath string         `json:"config_path,omitempty"`
	Loop       station.Status `json:"loop"`
	Sources    map[string]any `json:"sources,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time, loop station.Status) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	snap := StatusSnapshot{
		Service:    "hoverhold",
		NowUTC:     nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:  int64(nowUTC.Sub(start).Seconds()),
		Transport:  s.transport.Load().(string),
		ConfigPath: s.configPath.Load().(string),
		Loop:       loop,
	}

	s.mu.RLock()
	names := make([]string, 0, len(s.sources))
	for name := range s.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) > 0 {
		snap.Sources = make(map[string]any, len(names))
		for _, name := range names {
			snap.Sources[name] = s.sources[name]()
		}
	}
	s.mu.RUnlock()
	return snap
}

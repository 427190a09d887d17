package call

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/orderdial/orderdial/pkg/core/script"
	"github.com/orderdial/orderdial/pkg/core/tasks"
)

var (
	// ErrCapacity is returned when the registry is at its concurrency ceiling.
	ErrCapacity = errors.New("call: session capacity exceeded")
	// ErrUnknown is returned for call ids with no live or lingering session.
	ErrUnknown = errors.New("call: unknown session")
)

// Report is the terminal outcome sent to the reporting sink exactly once per
// call.
type Report struct {
	CallID   string          `json:"call_id"`
	OrderID  string          `json:"order_id,omitempty"`
	Type     script.CallType `json:"call_type"`
	Status   script.Status   `json:"status"`
	Answers  Answers         `json:"answers"`
	Duration time.Duration   `json:"duration"`
}

// ReportSink receives terminal reports. Implemented by the fire-and-forget
// reporter in pkg/collab.
type ReportSink interface {
	Report(ctx context.Context, rep Report) error
}

// RegistryConfig tunes the registry.
type RegistryConfig struct {
	// MaxSessions is the concurrency ceiling. Default: 100.
	MaxSessions int

	// RemoveAfter is how long a terminal session lingers so late duplicate
	// vendor callbacks still resolve to a known session. Default: 60s.
	RemoveAfter time.Duration
}

// DefaultRegistryConfig returns the standard limits.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		MaxSessions: 100,
		RemoveAfter: 60 * time.Second,
	}
}

const registryShards = 16

type registryShard struct {
	mu       sync.Mutex
	sessions map[string]*Session
	timers   map[string]*time.Timer
}

// Registry maps live call ids to sessions. It is sharded so unrelated calls
// never contend on one lock. The registry is an injected dependency with an
// explicit lifetime, owned by whoever wires the process together.
type Registry struct {
	cfg    RegistryConfig
	sink   ReportSink
	sup    *tasks.Supervisor
	logger *slog.Logger

	shards [registryShards]*registryShard
	live   int64
	liveMu sync.Mutex
}

// NewRegistry creates a registry reporting terminal calls to sink via sup.
func NewRegistry(cfg RegistryConfig, sink ReportSink, sup *tasks.Supervisor, logger *slog.Logger) *Registry {
	def := DefaultRegistryConfig()
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = def.MaxSessions
	}
	if cfg.RemoveAfter <= 0 {
		cfg.RemoveAfter = def.RemoveAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{cfg: cfg, sink: sink, sup: sup, logger: logger}
	for i := range r.shards {
		r.shards[i] = &registryShard{
			sessions: make(map[string]*Session),
			timers:   make(map[string]*time.Timer),
		}
	}
	return r
}

func (r *Registry) shard(callID string) *registryShard {
	h := fnv.New32a()
	h.Write([]byte(callID))
	return r.shards[h.Sum32()%registryShards]
}

// Create registers a session for callID. The first writer wins: a concurrent
// duplicate create returns the existing session with created=false. Unknown
// call types and capacity overruns are rejected.
func (r *Registry) Create(callID string, typ script.CallType, opts script.Options, lang script.Lang, voice, from, to string, cctx Context) (*Session, bool, error) {
	m, err := script.New(typ, opts)
	if err != nil {
		return nil, false, err
	}

	sh := r.shard(callID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if existing, ok := sh.sessions[callID]; ok {
		return existing, false, nil
	}

	r.liveMu.Lock()
	if r.live >= int64(r.cfg.MaxSessions) {
		r.liveMu.Unlock()
		return nil, false, ErrCapacity
	}
	r.live++
	r.liveMu.Unlock()

	s := NewSession(callID, m, lang, voice, from, to, cctx)
	sh.sessions[callID] = s
	return s, true, nil
}

// Get returns the session for callID, including terminal sessions still in
// their linger window.
func (r *Registry) Get(callID string) (*Session, bool) {
	sh := r.shard(callID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	s, ok := sh.sessions[callID]
	return s, ok
}

// End marks the session terminal, emits its report exactly once, and
// schedules delayed removal. statusOverride replaces the session status when
// non-empty (vendor busy/failed callbacks). Ending an unknown call id
// returns ErrUnknown.
func (r *Registry) End(ctx context.Context, callID string, statusOverride script.Status) error {
	s, ok := r.Get(callID)
	if !ok {
		return ErrUnknown
	}

	s.markEnded(statusOverride)
	r.report(ctx, s)
	r.scheduleRemoval(callID)
	return nil
}

// report emits the terminal report once per session through a supervised
// task.
func (r *Registry) report(ctx context.Context, s *Session) {
	if !s.markReported() {
		return
	}
	rep := Report{
		CallID:   s.CallID,
		OrderID:  s.Context.OrderID,
		Type:     s.Type,
		Status:   s.Status(),
		Answers:  s.Answers(),
		Duration: s.Duration(),
	}
	if r.sink == nil {
		return
	}
	deliver := func(c context.Context) error {
		return r.sink.Report(c, rep)
	}
	if r.sup != nil {
		if err := r.sup.Go(ctx, "report-termination", deliver); err == nil {
			return
		}
	}
	// Supervisor draining: deliver inline so the report is not lost.
	if err := deliver(ctx); err != nil {
		r.logger.Warn("termination report failed", "call_id", s.CallID, "error", err)
	}
}

func (r *Registry) scheduleRemoval(callID string) {
	sh := r.shard(callID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.sessions[callID]; !ok {
		return
	}
	if _, ok := sh.timers[callID]; ok {
		return
	}
	sh.timers[callID] = time.AfterFunc(r.cfg.RemoveAfter, func() {
		r.remove(callID)
	})
}

func (r *Registry) remove(callID string) {
	sh := r.shard(callID)
	sh.mu.Lock()
	_, ok := sh.sessions[callID]
	delete(sh.sessions, callID)
	delete(sh.timers, callID)
	sh.mu.Unlock()

	if ok {
		r.liveMu.Lock()
		r.live--
		r.liveMu.Unlock()
	}
}

// Len returns the number of registered sessions, including lingering
// terminal ones.
func (r *Registry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}

// Range calls fn for every registered session until fn returns false.
func (r *Registry) Range(fn func(*Session) bool) {
	for _, sh := range r.shards {
		sh.mu.Lock()
		sessions := make([]*Session, 0, len(sh.sessions))
		for _, s := range sh.sessions {
			sessions = append(sessions, s)
		}
		sh.mu.Unlock()
		for _, s := range sessions {
			if !fn(s) {
				return
			}
		}
	}
}

// Close stops removal timers and drops all sessions. Reports for still-live
// sessions are emitted with the failed status so nothing ends unreported.
func (r *Registry) Close(ctx context.Context) {
	r.Range(func(s *Session) bool {
		if !s.State().IsTerminal() {
			s.markEnded(script.StatusFailed)
		}
		r.report(ctx, s)
		return true
	})
	for _, sh := range r.shards {
		sh.mu.Lock()
		for id, t := range sh.timers {
			t.Stop()
			delete(sh.timers, id)
		}
		sh.sessions = make(map[string]*Session)
		sh.mu.Unlock()
	}
	r.liveMu.Lock()
	r.live = 0
	r.liveMu.Unlock()
}

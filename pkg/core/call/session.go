// Package call owns per-call session state and the registry that maps live
// vendor call ids to sessions.
package call

import (
	"sync"
	"time"

	"github.com/orderdial/orderdial/pkg/core/script"
)

// Context is the opaque payload supplied at call initiation. It rides the
// vendor's custom field so a session can also be rebuilt from the first
// inbound stream event.
type Context struct {
	OrderID string `json:"order_id,omitempty"`
	Amount  string `json:"amount,omitempty"`
	Items   string `json:"items,omitempty"`

	// GreetingKey and AcceptedKey address pre-warmed prompts in the
	// synthesis cache so the first audio after answer is a cache hit.
	GreetingKey string `json:"greeting_key,omitempty"`
	AcceptedKey string `json:"accepted_key,omitempty"`

	Extra map[string]string `json:"extra,omitempty"`
}

// Answers are the values collected from the callee.
type Answers struct {
	PrepMinutes int                    `json:"prep_minutes,omitempty"`
	Reason      script.RejectionReason `json:"rejection_reason,omitempty"`
	Digits      string                 `json:"digits,omitempty"`
	Transcript  string                 `json:"transcript,omitempty"`
}

// Session is the mutable state of one live call. All mutation goes through
// methods holding the session lock; the stream actor is the only writer
// during a call, but webhook callbacks may race with it.
type Session struct {
	CallID  string
	Type    script.CallType
	Lang    script.Lang
	Voice   string
	From    string
	To      string
	Context Context

	machine *script.Machine

	mu           sync.Mutex
	streamID     string
	state        script.State
	status       script.Status
	answers      Answers
	createdAt    time.Time
	answeredAt   time.Time
	lastActivity time.Time
	reported     bool
	ended        bool
}

// NewSession builds a session for a validated call type.
func NewSession(callID string, m *script.Machine, lang script.Lang, voice, from, to string, cctx Context) *Session {
	now := time.Now()
	return &Session{
		CallID:       callID,
		Type:         m.Type(),
		Lang:         lang,
		Voice:        voice,
		From:         from,
		To:           to,
		Context:      cctx,
		machine:      m,
		state:        m.Initial(),
		status:       script.StatusInitiated,
		createdAt:    now,
		lastActivity: now,
	}
}

// Machine returns the script driver for this session's call type.
func (s *Session) Machine() *script.Machine { return s.machine }

// State returns the current conversation state.
func (s *Session) State() script.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the current reportable status.
func (s *Session) Status() script.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Answers returns a copy of the collected answers.
func (s *Session) Answers() Answers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.answers
}

// Apply advances the conversation by one event and records any collected
// answers. States move monotonically: once terminal, every later event
// comes back marked ignored.
func (s *Session) Apply(ev script.Event) script.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.machine.Transition(s.state, ev)
	s.state = res.Next
	s.lastActivity = time.Now()

	if ev.Kind == script.EventDTMF && ev.Digits != "" {
		s.answers.Digits += ev.Digits
	}
	if res.Status != "" {
		s.status = res.Status
	}
	if res.PrepMinutes > 0 {
		s.answers.PrepMinutes = res.PrepMinutes
	}
	if res.Reason != "" {
		s.answers.Reason = res.Reason
	}
	return res
}

// Fail moves the session to the terminal failed state. Used when every
// backend a transition needed was down.
func (s *Session) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return
	}
	s.state = script.StateFailed
	s.status = script.StatusFailed
	s.lastActivity = time.Now()
}

// SetStreamID records the vendor stream identifier from the start event.
func (s *Session) SetStreamID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamID = id
}

// StreamID returns the vendor stream identifier, empty before the start event.
func (s *Session) StreamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamID
}

// MarkAnswered records the answer time and status once.
func (s *Session) MarkAnswered() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.answeredAt.IsZero() {
		s.answeredAt = time.Now()
		if s.status == script.StatusInitiated || s.status == script.StatusRinging {
			s.status = script.StatusAnswered
		}
	}
	s.lastActivity = time.Now()
}

// Touch refreshes the inactivity clock.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// IdleFor returns how long the session has been without activity.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

// Duration returns the session lifetime so far.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.createdAt)
}

// AppendTranscript records transcribed caller speech for reporting and
// training export.
func (s *Session) AppendTranscript(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.answers.Transcript != "" {
		s.answers.Transcript += " "
	}
	s.answers.Transcript += text
}

// markReported flips the reported flag, returning true only for the first
// caller. Duplicate terminal callbacks report nothing.
func (s *Session) markReported() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reported {
		return false
	}
	s.reported = true
	return true
}

// markEnded records explicit termination, returning true only once.
func (s *Session) markEnded(status script.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.ended = true
	if !s.state.IsTerminal() {
		s.state = script.StateFailed
	}
	if status != "" {
		s.status = status
	}
	return true
}

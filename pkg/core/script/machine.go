package script

import (
	"fmt"
	"strconv"
)

// Result is the outcome of one transition.
type Result struct {
	// Next is the state after the event.
	Next State

	// Prompt to speak, empty when nothing should be said.
	Prompt PhraseKey

	// Terminal is true once Next absorbs all further input.
	Terminal bool

	// Status set by this transition, empty when unchanged.
	Status Status

	// PrepMinutes is non-zero when a preparation time was collected.
	PrepMinutes int

	// Reason is non-empty when a rejection reason was collected.
	Reason RejectionReason

	// Ignored marks input that arrived after a terminal state. It is
	// acknowledged but changes nothing.
	Ignored bool
}

// Options tune a machine without changing its shape.
type Options struct {
	// CollectRejectionReason inserts a reason menu after a rejection
	// instead of ending the call immediately.
	CollectRejectionReason bool

	// PrepTimeMenu maps a menu digit to preparation minutes.
	PrepTimeMenu map[string]int

	// DefaultPrepMinutes is used for out-of-range or missing prep input.
	DefaultPrepMinutes int
}

// DefaultOptions returns the standard menu configuration.
func DefaultOptions() Options {
	return Options{
		PrepTimeMenu:       map[string]int{"1": 15, "2": 30, "3": 45},
		DefaultPrepMinutes: 30,
	}
}

// Machine is the deterministic script driver for one call type.
// Transition is a pure function; the machine itself holds no per-call state.
type Machine struct {
	typ  CallType
	opts Options
}

// New builds a machine for the given call type, rejecting unknown types.
func New(typ CallType, opts Options) (*Machine, error) {
	if _, err := ParseCallType(string(typ)); err != nil {
		return nil, err
	}
	if opts.PrepTimeMenu == nil {
		opts.PrepTimeMenu = DefaultOptions().PrepTimeMenu
	}
	if opts.DefaultPrepMinutes <= 0 {
		opts.DefaultPrepMinutes = DefaultOptions().DefaultPrepMinutes
	}
	return &Machine{typ: typ, opts: opts}, nil
}

// MustNew is New for statically known call types.
func MustNew(typ CallType, opts Options) *Machine {
	m, err := New(typ, opts)
	if err != nil {
		panic(fmt.Sprintf("script: %v", err))
	}
	return m
}

// Type returns the machine's call type.
func (m *Machine) Type() CallType { return m.typ }

// Initial returns the entry state for every call type.
func (m *Machine) Initial() State { return StateGreeting }

// GreetingPrompt returns the opening phrase key for this call type.
func (m *Machine) GreetingPrompt() PhraseKey { return GreetingKey(m.typ) }

// Transition applies one event to the current state. Terminal states absorb
// all input: the result repeats the state and marks the event ignored.
func (m *Machine) Transition(state State, ev Event) Result {
	if state.IsTerminal() {
		return Result{Next: state, Terminal: true, Ignored: true}
	}

	digits, ok := m.normalize(ev)
	if !ok && ev.Kind != EventTimeout {
		return Result{Next: state, Prompt: PhraseInvalidInput}
	}

	switch m.typ {
	case CallTypeVendorOrderConfirmation:
		return m.vendorOrderConfirmation(state, ev, digits)
	case CallTypeVendorPrepTime:
		return m.vendorPrepTime(state, ev, digits)
	case CallTypeRiderAssignment:
		return m.riderAssignment(state, ev, digits)
	case CallTypeRiderPickupReady:
		return m.riderPickupReady(state, ev, digits)
	}
	// Unreachable: New rejects unknown call types.
	return Result{Next: state, Prompt: PhraseInvalidInput}
}

// normalize reduces an event to menu digits. Intent tokens from the
// reasoning collaborator ride the same tables as keypad input.
func (m *Machine) normalize(ev Event) (string, bool) {
	switch ev.Kind {
	case EventDTMF:
		return ev.Digits, ev.Digits != ""
	case EventIntent:
		d, ok := IntentToDigits[ev.Intent]
		return d, ok
	case EventTimeout:
		return "", true
	}
	return "", false
}

func (m *Machine) vendorOrderConfirmation(state State, ev Event, digits string) Result {
	switch state {
	case StateGreeting:
		if ev.Kind == EventTimeout {
			return noResponse()
		}
		switch digits {
		case "1":
			return Result{Next: StatePrepTimeCollection, Prompt: PhrasePrepTimeQuery, Status: StatusAccepted}
		case "0":
			if m.opts.CollectRejectionReason {
				return Result{Next: StateReasonCollection, Prompt: PhraseReasonQuery, Status: StatusRejected}
			}
			return Result{Next: StateCompleted, Prompt: PhraseRejected, Terminal: true, Status: StatusRejected}
		default:
			return Result{Next: StateGreeting, Prompt: PhraseInvalidInput}
		}

	case StatePrepTimeCollection:
		return m.collectPrepTime(digits)

	case StateReasonCollection:
		return m.collectReason(ev, digits)
	}
	return Result{Next: state, Prompt: PhraseInvalidInput}
}

func (m *Machine) vendorPrepTime(state State, ev Event, digits string) Result {
	if state != StateGreeting {
		return Result{Next: state, Prompt: PhraseInvalidInput}
	}
	if ev.Kind == EventTimeout {
		return noResponse()
	}
	return m.collectPrepTime(digits)
}

func (m *Machine) riderAssignment(state State, ev Event, digits string) Result {
	if state != StateGreeting {
		return Result{Next: state, Prompt: PhraseInvalidInput}
	}
	if ev.Kind == EventTimeout {
		return noResponse()
	}
	switch digits {
	case "1":
		return Result{Next: StateCompleted, Prompt: PhraseAccepted, Terminal: true, Status: StatusAccepted}
	case "0":
		return Result{Next: StateCompleted, Prompt: PhraseRejected, Terminal: true, Status: StatusRejected}
	default:
		return Result{Next: StateGreeting, Prompt: PhraseInvalidInput}
	}
}

func (m *Machine) riderPickupReady(state State, ev Event, digits string) Result {
	if state != StateGreeting {
		return Result{Next: state, Prompt: PhraseInvalidInput}
	}
	if ev.Kind == EventTimeout {
		return noResponse()
	}
	switch digits {
	case "1":
		return Result{Next: StateCompleted, Prompt: PhraseGoodbye, Terminal: true, Status: StatusCompleted}
	case "0":
		return Result{Next: StateCompleted, Prompt: PhraseGoodbye, Terminal: true, Status: StatusRetryRequested}
	default:
		return Result{Next: StateGreeting, Prompt: PhraseInvalidInput}
	}
}

// collectPrepTime maps a menu digit to minutes. Out-of-range digits and
// timeouts take the configured default instead of re-prompting forever.
func (m *Machine) collectPrepTime(digits string) Result {
	minutes, ok := m.opts.PrepTimeMenu[digits]
	if !ok {
		if n, err := strconv.Atoi(digits); err == nil && n >= 5 && n <= 120 && len(digits) > 1 {
			// Multi-digit input is taken as literal minutes.
			minutes = n
		} else {
			minutes = m.opts.DefaultPrepMinutes
		}
	}
	return Result{
		Next:        StateCompleted,
		Prompt:      PhrasePrepTimeSet,
		Terminal:    true,
		Status:      StatusPrepTimeSet,
		PrepMinutes: minutes,
	}
}

func (m *Machine) collectReason(ev Event, digits string) Result {
	reason := ReasonOther
	if ev.Kind != EventTimeout {
		switch digits {
		case "1":
			reason = ReasonItemUnavailable
		case "2":
			reason = ReasonTooBusy
		case "3":
			reason = ReasonShopClosed
		}
	}
	return Result{
		Next:     StateCompleted,
		Prompt:   PhraseGoodbye,
		Terminal: true,
		Status:   StatusRejected,
		Reason:   reason,
	}
}

func noResponse() Result {
	return Result{Next: StateNoResponse, Terminal: true, Status: StatusNoResponse}
}

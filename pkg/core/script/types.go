package script

import (
	"fmt"
)

// CallType identifies the scripted flow a call follows.
type CallType string

const (
	// CallTypeVendorOrderConfirmation asks a vendor to accept or reject an order.
	CallTypeVendorOrderConfirmation CallType = "vendor_order_confirmation"
	// CallTypeVendorPrepTime asks a vendor only for a preparation time.
	CallTypeVendorPrepTime CallType = "vendor_prep_time"
	// CallTypeRiderAssignment offers a delivery to a rider.
	CallTypeRiderAssignment CallType = "rider_assignment"
	// CallTypeRiderPickupReady tells a rider the order is ready for pickup.
	CallTypeRiderPickupReady CallType = "rider_pickup_ready"
)

// ParseCallType validates a call type string. Unknown types are rejected
// at session creation rather than defaulted.
func ParseCallType(s string) (CallType, error) {
	switch CallType(s) {
	case CallTypeVendorOrderConfirmation, CallTypeVendorPrepTime,
		CallTypeRiderAssignment, CallTypeRiderPickupReady:
		return CallType(s), nil
	}
	return "", fmt.Errorf("unknown call type %q", s)
}

// Status is the reportable outcome of a call.
type Status string

const (
	StatusInitiated      Status = "initiated"
	StatusRinging        Status = "ringing"
	StatusAnswered       Status = "answered"
	StatusAccepted       Status = "accepted"
	StatusRejected       Status = "rejected"
	StatusPrepTimeSet    Status = "prep_time_set"
	StatusNoResponse     Status = "no_response"
	StatusFailed         Status = "failed"
	StatusBusy           Status = "busy"
	StatusCompleted      Status = "completed"
	StatusRetryRequested Status = "retry_requested"
)

// State is a node in a call type's conversation graph.
type State string

const (
	// StateGreeting plays the opening prompt and gathers the first input.
	StateGreeting State = "greeting"
	// StatePrepTimeCollection gathers a preparation-time menu digit.
	StatePrepTimeCollection State = "prep_time_collection"
	// StateReasonCollection gathers a rejection-reason menu digit.
	StateReasonCollection State = "reason_collection"
	// StateCompleted is terminal: the script finished normally.
	StateCompleted State = "completed"
	// StateNoResponse is terminal: the callee never gave usable input.
	StateNoResponse State = "no_response"
	// StateFailed is terminal: every backend the script needed was down.
	StateFailed State = "failed"
)

// IsTerminal reports whether no further input can move the state.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateNoResponse, StateFailed:
		return true
	}
	return false
}

// RejectionReason is collected after a vendor rejects an order.
type RejectionReason string

const (
	ReasonItemUnavailable RejectionReason = "item_unavailable"
	ReasonTooBusy         RejectionReason = "too_busy"
	ReasonShopClosed      RejectionReason = "shop_closed"
	ReasonOther           RejectionReason = "other"
)

// EventKind distinguishes inputs to the state machine.
type EventKind string

const (
	// EventDTMF carries keypad digits.
	EventDTMF EventKind = "dtmf"
	// EventIntent carries a normalized token derived from free speech.
	EventIntent EventKind = "intent"
	// EventTimeout is emitted when no input arrived within the gather window.
	EventTimeout EventKind = "timeout"
)

// Event is one input to Transition.
type Event struct {
	Kind   EventKind
	Digits string
	Intent string
}

// DTMF builds a digit event.
func DTMF(digits string) Event { return Event{Kind: EventDTMF, Digits: digits} }

// Intent builds a normalized-intent event.
func Intent(token string) Event { return Event{Kind: EventIntent, Intent: token} }

// Timeout builds a no-input event.
func Timeout() Event { return Event{Kind: EventTimeout} }

// IntentToDigits feeds speech-derived intents through the same transition
// tables as keypad input.
var IntentToDigits = map[string]string{
	"accept":  "1",
	"yes":     "1",
	"confirm": "1",
	"reject":  "0",
	"no":      "0",
	"decline": "0",
}

// Package protocol encodes and decodes the telephony vendor's duplex
// streaming envelopes: connected, start, media, dtmf, mark, stop, clear.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/orderdial/orderdial/pkg/core/audio"
)

const (
	// FrameUnit is one 20ms slice of 8kHz/16-bit/mono PCM.
	FrameUnit = 320
	// MinMediaBytes is the smallest outbound media payload (~100ms).
	MinMediaBytes = 3200
	// MaxMediaBytes is the largest media payload per message (~100KB).
	MaxMediaBytes = 102400
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// Kind names an envelope type.
type Kind string

const (
	KindConnected Kind = "connected"
	KindStart     Kind = "start"
	KindMedia     Kind = "media"
	KindDTMF      Kind = "dtmf"
	KindMark      Kind = "mark"
	KindStop      Kind = "stop"
	KindClear     Kind = "clear"
)

// Message is a decoded inbound envelope.
type Message interface {
	Kind() Kind
}

// Connected is the vendor's first event after the socket opens.
type Connected struct{}

func (Connected) Kind() Kind { return KindConnected }

// MediaFormat describes the stream's audio shape.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	BitRate    string `json:"bit_rate,omitempty"`
}

// Start opens a stream and carries call identity plus the custom context
// blob set at call initiation.
type Start struct {
	StreamSID        string            `json:"stream_sid"`
	CallSID          string            `json:"call_sid"`
	AccountSID       string            `json:"account_sid,omitempty"`
	From             string            `json:"from,omitempty"`
	To               string            `json:"to,omitempty"`
	CustomParameters map[string]string `json:"custom_parameters,omitempty"`
	MediaFormat      MediaFormat       `json:"media_format"`
	Sequence         uint64            `json:"-"`
}

func (Start) Kind() Kind { return KindStart }

// Media carries one inbound audio payload, already base64-decoded.
type Media struct {
	StreamSID string
	Sequence  uint64
	Chunk     int
	Timestamp string
	Payload   []byte
}

func (Media) Kind() Kind { return KindMedia }

// DTMF carries one keypad digit.
type DTMF struct {
	StreamSID string
	Sequence  uint64
	Digit     string
}

func (DTMF) Kind() Kind { return KindDTMF }

// Mark is the peer's acknowledgment that queued audio up to the named mark
// has been played.
type Mark struct {
	StreamSID string
	Name      string
}

func (Mark) Kind() Kind { return KindMark }

// Stop closes a stream.
type Stop struct {
	StreamSID string
	CallSID   string
	Reason    string
}

func (Stop) Kind() Kind { return KindStop }

// Clear instructs the receiver to drop queued, unplayed audio.
type Clear struct {
	StreamSID string
}

func (Clear) Kind() Kind { return KindClear }

// envelope is the raw wire shape shared by all events.
type envelope struct {
	Event          string `json:"event"`
	SequenceNumber string `json:"sequence_number,omitempty"`
	StreamSID      string `json:"stream_sid,omitempty"`

	Start *struct {
		StreamSID        string            `json:"stream_sid"`
		CallSID          string            `json:"call_sid"`
		AccountSID       string            `json:"account_sid"`
		From             string            `json:"from"`
		To               string            `json:"to"`
		CustomParameters map[string]string `json:"custom_parameters"`
		MediaFormat      MediaFormat       `json:"media_format"`
	} `json:"start,omitempty"`

	Media *struct {
		Chunk     string `json:"chunk,omitempty"`
		Timestamp string `json:"timestamp,omitempty"`
		Payload   string `json:"payload"`
	} `json:"media,omitempty"`

	DTMF *struct {
		Digit string `json:"digit"`
	} `json:"dtmf,omitempty"`

	Mark *struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`

	Stop *struct {
		CallSID string `json:"call_sid"`
		Reason  string `json:"reason"`
	} `json:"stop,omitempty"`
}

// Decoder validates inbound envelopes for one stream: media alignment and
// per-direction monotonic sequence numbers. Decode errors are non-fatal; the
// caller drops the frame and keeps the call alive.
type Decoder struct {
	unit    int
	lastSeq uint64
}

// NewDecoder creates a decoder for the given audio format.
func NewDecoder(cfg audio.Config) *Decoder {
	unit := cfg.FrameUnit()
	if unit <= 0 {
		unit = FrameUnit
	}
	return &Decoder{unit: unit}
}

// Decode parses one raw message into a typed envelope.
func (d *Decoder) Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, badRequest("malformed JSON envelope", "")
	}

	seq, err := d.sequence(env.SequenceNumber)
	if err != nil {
		return nil, err
	}

	switch Kind(env.Event) {
	case KindConnected:
		return Connected{}, nil

	case KindStart:
		if env.Start == nil {
			return nil, badRequest("start event missing start block", "start")
		}
		streamSID := env.Start.StreamSID
		if streamSID == "" {
			streamSID = env.StreamSID
		}
		if streamSID == "" {
			return nil, badRequest("start event missing stream_sid", "start.stream_sid")
		}
		if env.Start.CallSID == "" {
			return nil, badRequest("start event missing call_sid", "start.call_sid")
		}
		return Start{
			StreamSID:        streamSID,
			CallSID:          env.Start.CallSID,
			AccountSID:       env.Start.AccountSID,
			From:             env.Start.From,
			To:               env.Start.To,
			CustomParameters: env.Start.CustomParameters,
			MediaFormat:      env.Start.MediaFormat,
			Sequence:         seq,
		}, nil

	case KindMedia:
		if env.Media == nil {
			return nil, badRequest("media event missing media block", "media")
		}
		payload, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			return nil, badRequest("media payload is not valid base64", "media.payload")
		}
		if len(payload) == 0 {
			return nil, badRequest("media payload is empty", "media.payload")
		}
		if len(payload)%d.unit != 0 {
			return nil, badRequest(
				fmt.Sprintf("media payload length %d is not a multiple of %d", len(payload), d.unit),
				"media.payload")
		}
		chunk, _ := strconv.Atoi(env.Media.Chunk)
		return Media{
			StreamSID: env.StreamSID,
			Sequence:  seq,
			Chunk:     chunk,
			Timestamp: env.Media.Timestamp,
			Payload:   payload,
		}, nil

	case KindDTMF:
		if env.DTMF == nil || env.DTMF.Digit == "" {
			return nil, badRequest("dtmf event missing digit", "dtmf.digit")
		}
		if !validDigit(env.DTMF.Digit) {
			return nil, badRequest("dtmf digit must be 0-9, * or #", "dtmf.digit")
		}
		return DTMF{StreamSID: env.StreamSID, Sequence: seq, Digit: env.DTMF.Digit}, nil

	case KindMark:
		if env.Mark == nil || env.Mark.Name == "" {
			return nil, badRequest("mark event missing name", "mark.name")
		}
		return Mark{StreamSID: env.StreamSID, Name: env.Mark.Name}, nil

	case KindStop:
		stop := Stop{StreamSID: env.StreamSID}
		if env.Stop != nil {
			stop.CallSID = env.Stop.CallSID
			stop.Reason = env.Stop.Reason
		}
		return stop, nil

	case KindClear:
		return Clear{StreamSID: env.StreamSID}, nil

	case "":
		return nil, badRequest("envelope missing event type", "event")

	default:
		return nil, unsupported(fmt.Sprintf("unknown event type %q", env.Event), "event")
	}
}

// sequence parses and enforces per-direction monotonicity. Events without a
// sequence number pass through unchecked.
func (d *Decoder) sequence(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, badRequest("sequence_number is not numeric", "sequence_number")
	}
	if seq <= d.lastSeq {
		return 0, badRequest(
			fmt.Sprintf("sequence_number %d not after %d", seq, d.lastSeq),
			"sequence_number")
	}
	d.lastSeq = seq
	return seq, nil
}

func validDigit(s string) bool {
	if len(s) != 1 {
		return false
	}
	c := s[0]
	return (c >= '0' && c <= '9') || c == '*' || c == '#'
}

// Encoder builds outbound envelopes for one stream with monotonic sequence
// numbers.
type Encoder struct {
	streamSID string
	unit      int
	seq       uint64
}

// NewEncoder creates an encoder for streamSID using the given audio format.
func NewEncoder(streamSID string, cfg audio.Config) *Encoder {
	unit := cfg.FrameUnit()
	if unit <= 0 {
		unit = FrameUnit
	}
	return &Encoder{streamSID: streamSID, unit: unit}
}

// SetStreamSID records the stream id once the start event arrives. The
// encoder is created with the connection, before the stream is known.
func (e *Encoder) SetStreamSID(sid string) {
	e.streamSID = sid
}

type outboundMedia struct {
	Event          string `json:"event"`
	StreamSID      string `json:"stream_sid"`
	SequenceNumber string `json:"sequence_number"`
	Media          struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// Media frames pcm into one or more wire messages. Short payloads are padded
// with silence to the minimum bound and to frame alignment; oversized ones
// are split at the maximum bound.
func (e *Encoder) Media(pcm []byte) ([][]byte, error) {
	if len(pcm) == 0 {
		return nil, badRequest("empty media payload", "media.payload")
	}
	pcm = audio.AlignPCM(pcm, e.unit)
	if len(pcm) < MinMediaBytes {
		padded := make([]byte, MinMediaBytes)
		copy(padded, pcm)
		pcm = padded
	}

	var out [][]byte
	for _, chunk := range audio.SplitChunks(pcm, e.unit, MaxMediaBytes) {
		msg := outboundMedia{
			Event:          string(KindMedia),
			StreamSID:      e.streamSID,
			SequenceNumber: e.nextSeq(),
		}
		msg.Media.Payload = base64.StdEncoding.EncodeToString(chunk)
		raw, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("encode media: %w", err)
		}
		out = append(out, raw)
	}
	return out, nil
}

type outboundMark struct {
	Event          string `json:"event"`
	StreamSID      string `json:"stream_sid"`
	SequenceNumber string `json:"sequence_number"`
	Mark           struct {
		Name string `json:"name"`
	} `json:"mark"`
}

// Mark builds a mark envelope carrying name.
func (e *Encoder) Mark(name string) []byte {
	msg := outboundMark{
		Event:          string(KindMark),
		StreamSID:      e.streamSID,
		SequenceNumber: e.nextSeq(),
	}
	msg.Mark.Name = name
	raw, _ := json.Marshal(msg)
	return raw
}

// Clear builds a clear envelope. Sent on barge-in so the peer drops any
// queued, unplayed audio.
func (e *Encoder) Clear() []byte {
	raw, _ := json.Marshal(struct {
		Event          string `json:"event"`
		StreamSID      string `json:"stream_sid"`
		SequenceNumber string `json:"sequence_number"`
	}{
		Event:          string(KindClear),
		StreamSID:      e.streamSID,
		SequenceNumber: e.nextSeq(),
	})
	return raw
}

func (e *Encoder) nextSeq() string {
	e.seq++
	return strconv.FormatUint(e.seq, 10)
}

package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/orderdial/orderdial/pkg/core/audio"
)

func newDecoder() *Decoder {
	return NewDecoder(audio.DefaultConfig())
}

func TestDecode_Start(t *testing.T) {
	raw := []byte(`{
		"event":"start",
		"sequence_number":"1",
		"stream_sid":"stream-1",
		"start":{
			"stream_sid":"stream-1",
			"call_sid":"call-1",
			"account_sid":"acct-1",
			"from":"+919900112233",
			"to":"+918800112233",
			"custom_parameters":{"call_type":"vendor_order_confirmation","order_id":"ORD-9"},
			"media_format":{"encoding":"raw","sample_rate":8000}
		}
	}`)

	msg, err := newDecoder().Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	start, ok := msg.(Start)
	if !ok {
		t.Fatalf("decoded type = %T, want Start", msg)
	}
	if start.CallSID != "call-1" || start.StreamSID != "stream-1" {
		t.Errorf("start = %+v", start)
	}
	if start.CustomParameters["call_type"] != "vendor_order_confirmation" {
		t.Errorf("custom_parameters = %v", start.CustomParameters)
	}
	if start.MediaFormat.SampleRate != 8000 {
		t.Errorf("sample_rate = %d", start.MediaFormat.SampleRate)
	}
}

func TestDecode_StartMissingCallSID(t *testing.T) {
	raw := []byte(`{"event":"start","start":{"stream_sid":"s1"}}`)
	_, err := newDecoder().Decode(raw)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want DecodeError", err)
	}
	if de.Param != "start.call_sid" {
		t.Errorf("Param = %q", de.Param)
	}
}

func TestDecode_Media(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString(make([]byte, 640))
	raw := []byte(`{
		"event":"media","sequence_number":"3","stream_sid":"stream-1",
		"media":{"chunk":"2","timestamp":"1711" ,"payload":"` + payload + `"}
	}`)

	msg, err := newDecoder().Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	media := msg.(Media)
	if len(media.Payload) != 640 {
		t.Errorf("payload = %d bytes", len(media.Payload))
	}
	if media.Chunk != 2 || media.Sequence != 3 {
		t.Errorf("media = %+v", media)
	}
}

func TestDecode_MediaMisaligned(t *testing.T) {
	// 500 bytes is not a multiple of the 320-byte frame unit.
	payload := base64.StdEncoding.EncodeToString(make([]byte, 500))
	raw := []byte(`{"event":"media","media":{"payload":"` + payload + `"}}`)

	_, err := newDecoder().Decode(raw)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want DecodeError", err)
	}
	if de.Code != "bad_request" || de.Param != "media.payload" {
		t.Errorf("DecodeError = %+v", de)
	}
}

func TestDecode_MediaBadBase64(t *testing.T) {
	raw := []byte(`{"event":"media","media":{"payload":"%%%not-base64%%%"}}`)
	if _, err := newDecoder().Decode(raw); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestDecode_DTMF(t *testing.T) {
	msg, err := newDecoder().Decode([]byte(`{"event":"dtmf","stream_sid":"s1","dtmf":{"digit":"1"}}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if d := msg.(DTMF); d.Digit != "1" {
		t.Errorf("digit = %q", d.Digit)
	}

	for _, digit := range []string{"*", "#", "7"} {
		raw := []byte(`{"event":"dtmf","dtmf":{"digit":"` + digit + `"}}`)
		if _, err := newDecoder().Decode(raw); err != nil {
			t.Errorf("digit %q rejected: %v", digit, err)
		}
	}

	for _, digit := range []string{"12", "a", ""} {
		raw := []byte(`{"event":"dtmf","dtmf":{"digit":"` + digit + `"}}`)
		if _, err := newDecoder().Decode(raw); err == nil {
			t.Errorf("digit %q accepted, want error", digit)
		}
	}
}

func TestDecode_MarkStopClearConnected(t *testing.T) {
	d := newDecoder()

	msg, err := d.Decode([]byte(`{"event":"connected"}`))
	if err != nil || msg.Kind() != KindConnected {
		t.Errorf("connected: %T %v", msg, err)
	}

	msg, err = d.Decode([]byte(`{"event":"mark","stream_sid":"s1","mark":{"name":"m-42"}}`))
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if m := msg.(Mark); m.Name != "m-42" {
		t.Errorf("mark name = %q", m.Name)
	}

	msg, err = d.Decode([]byte(`{"event":"stop","stream_sid":"s1","stop":{"call_sid":"call-1","reason":"callended"}}`))
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s := msg.(Stop); s.Reason != "callended" || s.CallSID != "call-1" {
		t.Errorf("stop = %+v", s)
	}

	msg, err = d.Decode([]byte(`{"event":"clear","stream_sid":"s1"}`))
	if err != nil || msg.Kind() != KindClear {
		t.Errorf("clear: %T %v", msg, err)
	}
}

func TestDecode_UnknownEvent(t *testing.T) {
	_, err := newDecoder().Decode([]byte(`{"event":"telemetry"}`))
	var de *DecodeError
	if !errors.As(err, &de) || de.Code != "unsupported" {
		t.Errorf("err = %v, want unsupported DecodeError", err)
	}
}

func TestDecode_SequenceMonotonic(t *testing.T) {
	d := newDecoder()
	payload := base64.StdEncoding.EncodeToString(make([]byte, 320))
	mediaRaw := func(seq string) []byte {
		return []byte(`{"event":"media","sequence_number":"` + seq + `","media":{"payload":"` + payload + `"}}`)
	}

	if _, err := d.Decode(mediaRaw("1")); err != nil {
		t.Fatalf("seq 1: %v", err)
	}
	if _, err := d.Decode(mediaRaw("2")); err != nil {
		t.Fatalf("seq 2: %v", err)
	}
	// Replayed and regressed sequence numbers are rejected.
	if _, err := d.Decode(mediaRaw("2")); err == nil {
		t.Error("replayed sequence accepted")
	}
	if _, err := d.Decode(mediaRaw("1")); err == nil {
		t.Error("regressed sequence accepted")
	}
	// Gaps are fine; monotonicity is the only requirement.
	if _, err := d.Decode(mediaRaw("10")); err != nil {
		t.Errorf("gapped sequence rejected: %v", err)
	}
}

func TestEncoder_MediaPadsToMinimum(t *testing.T) {
	e := NewEncoder("stream-1", audio.DefaultConfig())

	msgs, err := e.Media(make([]byte, 320))
	if err != nil {
		t.Fatalf("Media() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(msgs))
	}

	var env struct {
		Event     string `json:"event"`
		StreamSID string `json:"stream_sid"`
		Media     struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	if err := json.Unmarshal(msgs[0], &env); err != nil {
		t.Fatal(err)
	}
	payload, _ := base64.StdEncoding.DecodeString(env.Media.Payload)
	if len(payload) != MinMediaBytes {
		t.Errorf("payload = %d bytes, want padded to %d", len(payload), MinMediaBytes)
	}
	if env.StreamSID != "stream-1" || env.Event != "media" {
		t.Errorf("envelope = %+v", env)
	}
}

func TestEncoder_MediaSplitsAndAligns(t *testing.T) {
	e := NewEncoder("stream-1", audio.DefaultConfig())

	// Oversized, ragged input: split at the max bound, every chunk aligned.
	msgs, err := e.Media(make([]byte, MaxMediaBytes+5000))
	if err != nil {
		t.Fatalf("Media() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}

	var total int
	for i, raw := range msgs {
		var env struct {
			Media struct {
				Payload string `json:"payload"`
			} `json:"media"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatal(err)
		}
		payload, _ := base64.StdEncoding.DecodeString(env.Media.Payload)
		if len(payload)%FrameUnit != 0 {
			t.Errorf("chunk %d: %d bytes, not a multiple of %d", i, len(payload), FrameUnit)
		}
		if len(payload) > MaxMediaBytes {
			t.Errorf("chunk %d: %d bytes exceeds max", i, len(payload))
		}
		total += len(payload)
	}
	if total < MaxMediaBytes+5000 {
		t.Errorf("total = %d, audio was lost in the split", total)
	}
}

func TestEncoder_SequencesIncrease(t *testing.T) {
	e := NewEncoder("stream-1", audio.DefaultConfig())

	var seqs []string
	msgs, _ := e.Media(make([]byte, MinMediaBytes))
	for _, raw := range msgs {
		var env struct {
			SequenceNumber string `json:"sequence_number"`
		}
		json.Unmarshal(raw, &env)
		seqs = append(seqs, env.SequenceNumber)
	}
	var markEnv struct {
		SequenceNumber string `json:"sequence_number"`
		Mark           struct {
			Name string `json:"name"`
		} `json:"mark"`
	}
	json.Unmarshal(e.Mark("m-1"), &markEnv)
	seqs = append(seqs, markEnv.SequenceNumber)

	var clearEnv struct {
		Event          string `json:"event"`
		SequenceNumber string `json:"sequence_number"`
	}
	json.Unmarshal(e.Clear(), &clearEnv)
	seqs = append(seqs, clearEnv.SequenceNumber)

	want := []string{"1", "2", "3"}
	for i := range want {
		if seqs[i] != want[i] {
			t.Fatalf("sequence numbers = %v, want %v", seqs, want)
		}
	}
	if markEnv.Mark.Name != "m-1" {
		t.Errorf("mark name = %q", markEnv.Mark.Name)
	}
	if clearEnv.Event != "clear" {
		t.Errorf("clear event = %q", clearEnv.Event)
	}
}

func TestEncoder_EmptyMedia(t *testing.T) {
	e := NewEncoder("stream-1", audio.DefaultConfig())
	if _, err := e.Media(nil); err == nil {
		t.Fatal("empty payload must be rejected")
	}
}

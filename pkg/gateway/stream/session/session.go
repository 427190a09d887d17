// Package session runs one duplex telephony stream: an actor per connection
// that decodes inbound envelopes, drives turn-taking and the conversation
// script, and paces synthesized audio back onto the wire.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/orderdial/orderdial/pkg/collab"
	"github.com/orderdial/orderdial/pkg/core/audio"
	"github.com/orderdial/orderdial/pkg/core/call"
	"github.com/orderdial/orderdial/pkg/core/script"
	"github.com/orderdial/orderdial/pkg/core/synth"
	"github.com/orderdial/orderdial/pkg/core/turn"
	"github.com/orderdial/orderdial/pkg/gateway/stream/protocol"
)

// Config tunes one live stream.
type Config struct {
	// Audio is the telephony PCM format.
	Audio audio.Config

	// Turn configures the turn-taking engine.
	Turn turn.Config

	// Voice is the synthesis voice for prompts.
	Voice string

	// PacingInterval is the fixed delay between outbound media frames.
	// Default: 10ms.
	PacingInterval time.Duration

	// GatherTimeout is how long to wait for input after a prompt finishes
	// playing before emitting a timeout event. Default: 10s.
	GatherTimeout time.Duration

	// SessionTimeout force-terminates an inactive stream. Default: 300s.
	SessionTimeout time.Duration

	// SpeakTimeout bounds prompt resolution (cache miss synthesis).
	// Default: 5s.
	SpeakTimeout time.Duration

	WriteTimeout time.Duration
	PingInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Audio.SampleRate == 0 {
		c.Audio = audio.DefaultConfig()
	}
	if c.PacingInterval <= 0 {
		c.PacingInterval = 10 * time.Millisecond
	}
	if c.GatherTimeout <= 0 {
		c.GatherTimeout = 10 * time.Second
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 300 * time.Second
	}
	if c.SpeakTimeout <= 0 {
		c.SpeakTimeout = 5 * time.Second
	}
	if c.Voice == "" {
		c.Voice = "female"
	}
	return c
}

type wsConn interface {
	wsWriter
	ReadMessage() (messageType int, p []byte, err error)
}

// UtteranceExporter receives caller utterances with their transcripts for
// training export. Implementations must not block; the actor calls this on
// its own goroutine.
type UtteranceExporter interface {
	ExportUtterance(callID string, seq int64, pcm []byte, transcript string)
}

// Dependencies wires a live stream. Conn, Registry, Cache, Transcriber and
// VAD are required; Reasoner and Exporter are optional.
type Dependencies struct {
	Conn        wsConn
	Registry    *call.Registry
	Cache       *synth.Cache
	Transcriber collab.Transcriber
	Reasoner    collab.Reasoner
	VAD         collab.VAD
	Exporter    UtteranceExporter
	Logger      *slog.Logger
	Config      Config
}

// speakResult reports an utterance delivery back into the actor loop.
type speakResult struct {
	mark string
	err  error
}

// LiveSession is the per-connection actor. All session logic runs on the
// Run goroutine; the reader, writer, and speak deliveries are the only
// helpers, and they communicate exclusively through channels.
type LiveSession struct {
	deps   Dependencies
	cfg    Config
	logger *slog.Logger

	sess   *call.Session
	engine *turn.Engine
	sched  *scheduler

	normalCh   chan outboundFrame
	priorityCh chan outboundFrame
	speakCh    chan speakResult
	hangupCh   chan string

	// currentMark is the mark name of the utterance being played;
	// closeOnMark ends the stream once that mark is acknowledged.
	currentMark string
	closeOnMark bool

	utteranceSeq int64

	// Timer controls installed by Run.
	stopGather  func()
	resetGather func()
}

// New validates dependencies and builds a stream actor.
func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, errors.New("session: conn is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("session: registry is required")
	}
	if deps.Cache == nil {
		return nil, errors.New("session: synthesis cache is required")
	}
	if deps.Transcriber == nil {
		return nil, errors.New("session: transcriber is required")
	}
	if deps.VAD == nil {
		return nil, errors.New("session: vad is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cfg := deps.Config.withDefaults()

	return &LiveSession{
		deps:       deps,
		cfg:        cfg,
		logger:     deps.Logger,
		normalCh:   make(chan outboundFrame, 64),
		priorityCh: make(chan outboundFrame, 8),
		speakCh:    make(chan speakResult, 4),
		hangupCh:   make(chan string, 1),
	}, nil
}

// Hangup asks the actor to end the call and report it. Used by the drain
// tracker on shutdown; safe to call from any goroutine, extra calls are
// dropped.
func (ls *LiveSession) Hangup(reason string) {
	select {
	case ls.hangupCh <- reason:
	default:
	}
}

// Run drives the stream until the peer stops it, the session terminates, or
// ctx is canceled.
func (ls *LiveSession) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dec := protocol.NewDecoder(ls.cfg.Audio)
	enc := protocol.NewEncoder("", ls.cfg.Audio)
	ls.sched = newScheduler(ctx, enc, ls.normalCh, ls.priorityCh, ls.cfg.PacingInterval)

	writer := &outboundWriter{
		ws:         ls.deps.Conn,
		ctx:        ctx,
		cfg:        ls.cfg,
		priority:   ls.priorityCh,
		normal:     ls.normalCh,
		isCanceled: ls.sched.canceled,
	}
	writerErrCh := make(chan error, 1)
	go func() { writerErrCh <- writer.Run() }()

	readCh := make(chan protocol.Message, 32)
	readErrCh := make(chan error, 1)
	go func() {
		for {
			_, raw, err := ls.deps.Conn.ReadMessage()
			if err != nil {
				readErrCh <- err
				return
			}
			msg, derr := dec.Decode(raw)
			if derr != nil {
				// Malformed frames are dropped; the call continues.
				ls.logger.Warn("dropping malformed frame", "error", derr)
				continue
			}
			select {
			case readCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	gatherTimer := time.NewTimer(ls.cfg.GatherTimeout)
	gatherTimer.Stop()
	ls.stopGather = func() {
		if !gatherTimer.Stop() {
			select {
			case <-gatherTimer.C:
			default:
			}
		}
	}
	ls.resetGather = func() {
		ls.stopGather()
		gatherTimer.Reset(ls.cfg.GatherTimeout)
	}

	idleTimer := time.NewTimer(ls.cfg.SessionTimeout)
	defer idleTimer.Stop()
	resetIdle := func() {
		if !idleTimer.Stop() {
			select {
			case <-idleTimer.C:
			default:
			}
		}
		idleTimer.Reset(ls.cfg.SessionTimeout)
	}

	for {
		select {
		case msg := <-readCh:
			resetIdle()
			done, err := ls.handleMessage(ctx, msg)
			if err != nil {
				return err
			}
			if done {
				return nil
			}

		case res := <-ls.speakCh:
			if res.err != nil && !errors.Is(res.err, context.Canceled) {
				ls.logger.Warn("utterance delivery failed", "mark", res.mark, "error", res.err)
			}

		case <-gatherTimer.C:
			if done := ls.handleGatherTimeout(ctx); done {
				return nil
			}

		case reason := <-ls.hangupCh:
			ls.logger.Info("hangup requested", "reason", reason)
			ls.endSession(ctx, "")
			return nil

		case <-idleTimer.C:
			ls.logger.Warn("session inactive, force terminating")
			ls.endSession(ctx, script.StatusFailed)
			return nil

		case err := <-readErrCh:
			// Peer closed or the socket died; end and report.
			ls.endSession(ctx, "")
			if isExpectedClose(err) {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)

		case err := <-writerErrCh:
			ls.endSession(ctx, "")
			if err != nil {
				return fmt.Errorf("write stream: %w", err)
			}
			return nil

		case <-ctx.Done():
			ls.endSession(context.WithoutCancel(ctx), "")
			return ctx.Err()
		}
	}
}

// handleMessage dispatches one decoded envelope. It returns done=true when
// the stream should close.
func (ls *LiveSession) handleMessage(ctx context.Context, msg protocol.Message) (bool, error) {
	switch m := msg.(type) {
	case protocol.Connected:
		ls.logger.Debug("vendor connected")
		return false, nil

	case protocol.Start:
		return ls.handleStart(ctx, m)

	case protocol.Media:
		if ls.sess == nil {
			return false, nil
		}
		ls.sess.Touch()
		ls.processInboundAudio(ctx, m.Payload)
		return false, nil

	case protocol.DTMF:
		if ls.sess == nil {
			return false, nil
		}
		ls.stopGather()
		// Keypad input supersedes whatever is still playing.
		if ls.engine.Playing() {
			ls.engine.SetPlaying(false)
			ls.sched.interrupt()
		}
		ls.logger.Info("dtmf received", "digit", m.Digit)
		return ls.applyResult(ctx, ls.sess.Apply(script.DTMF(m.Digit))), nil

	case protocol.Mark:
		ls.handleMarkAck(m.Name)
		if ls.closeOnMark && m.Name == ls.currentMark {
			ls.endSession(ctx, "")
			return true, nil
		}
		return false, nil

	case protocol.Stop:
		ls.logger.Info("stream stopped by vendor", "reason", m.Reason)
		ls.endSession(ctx, "")
		return true, nil

	case protocol.Clear:
		// Peer-initiated clear: drop our queued audio.
		ls.sched.interrupt()
		return false, nil
	}
	return false, nil
}

// handleStart resolves or creates the session from the start event's custom
// parameters and speaks the greeting. An unknown call gets a generic closing
// prompt instead of an error.
func (ls *LiveSession) handleStart(ctx context.Context, m protocol.Start) (bool, error) {
	ls.sched.setStreamSID(m.StreamSID)
	ls.logger = ls.logger.With("call_id", m.CallSID, "stream_id", m.StreamSID)

	sess, err := ls.resolveSession(m)
	if err != nil {
		ls.logger.Warn("unknown call, playing closing prompt", "error", err)
		lang := script.ParseLang(m.CustomParameters["language"])
		ls.speakText(ctx, script.Phrase(lang, script.PhraseUnknownCall), string(lang), true)
		return false, nil
	}

	ls.sess = sess
	sess.SetStreamID(m.StreamSID)
	sess.MarkAnswered()

	ls.engine = turn.NewEngine(sess.CallID, ls.deps.VAD, ls.cfg.Turn, ls.logger)
	ls.engine.SetCallback(func(ev turn.Event) { ls.handleTurnEvent(ctx, ev) })

	if sess.State().IsTerminal() {
		// Late duplicate start for a finished call: acknowledge politely.
		ls.speakText(ctx, script.Phrase(sess.Lang, script.PhraseUnknownCall), string(sess.Lang), true)
		return false, nil
	}

	ls.logger.Info("stream started", "call_type", sess.Type, "language", sess.Lang)
	greeting := script.Render(sess.Lang, sess.Machine().GreetingPrompt(), ls.promptVars())
	ls.speakText(ctx, greeting, string(sess.Lang), false)
	return false, nil
}

// resolveSession finds the session created at initiation time, or rebuilds
// one from the inline custom parameters for streams that arrive first.
func (ls *LiveSession) resolveSession(m protocol.Start) (*call.Session, error) {
	if s, ok := ls.deps.Registry.Get(m.CallSID); ok {
		return s, nil
	}

	rawType := m.CustomParameters["call_type"]
	typ, err := script.ParseCallType(rawType)
	if err != nil {
		return nil, err
	}
	cctx := call.Context{
		OrderID:     m.CustomParameters["order_id"],
		Amount:      m.CustomParameters["amount"],
		Items:       m.CustomParameters["items"],
		GreetingKey: m.CustomParameters["greeting_key"],
		AcceptedKey: m.CustomParameters["accepted_key"],
	}
	s, _, err := ls.deps.Registry.Create(m.CallSID, typ, script.DefaultOptions(),
		script.ParseLang(m.CustomParameters["language"]), ls.cfg.Voice, m.From, m.To, cctx)
	return s, err
}

// processInboundAudio runs 20ms slices through the turn engine in arrival
// order.
func (ls *LiveSession) processInboundAudio(ctx context.Context, payload []byte) {
	if ls.engine == nil {
		return
	}
	unit := ls.cfg.Audio.FrameUnit()
	for off := 0; off+unit <= len(payload); off += unit {
		ls.engine.ProcessFrame(ctx, payload[off:off+unit])
	}
}

// handleTurnEvent reacts to the turn engine. It runs on the actor goroutine,
// synchronously from processInboundAudio.
func (ls *LiveSession) handleTurnEvent(ctx context.Context, ev turn.Event) {
	switch ev.Kind {
	case turn.EventInterrupted:
		ls.logger.Info("caller barge-in, clearing playback")
		ls.sched.interrupt()

	case turn.EventSpeechStart:
		ls.logger.Debug("speech started")

	case turn.EventSpeechEnd:
		ls.handleUtterance(ctx, ev.Utterance)
	}
}

// handleUtterance transcribes caller speech and feeds the normalized intent
// through the script. Every external dependency failure falls back to a
// re-prompt rather than killing the call.
func (ls *LiveSession) handleUtterance(ctx context.Context, pcm []byte) {
	if ls.sess == nil || len(pcm) == 0 {
		return
	}

	tr, err := ls.deps.Transcriber.Transcribe(ctx, pcm, string(ls.sess.Lang))
	if err != nil {
		ls.logger.Warn("transcription failed, re-prompting", "error", err)
		ls.speakPrompt(ctx, script.PhraseInvalidInput, false)
		return
	}
	text := strings.TrimSpace(tr.Text)
	if text == "" {
		return
	}
	ls.sess.AppendTranscript(text)
	ls.logger.Info("utterance transcribed", "text", text, "confidence", tr.Confidence)

	if ls.deps.Exporter != nil {
		ls.utteranceSeq++
		ls.deps.Exporter.ExportUtterance(ls.sess.CallID, ls.utteranceSeq, pcm, text)
	}

	intent := ls.normalizeIntent(ctx, text)
	_ = ls.applyResult(ctx, ls.sess.Apply(script.Intent(intent)))
}

// normalizeIntent maps free text to an intent token, consulting the
// reasoning collaborator when configured and falling back to keyword
// matching when it is down.
func (ls *LiveSession) normalizeIntent(ctx context.Context, text string) string {
	if ls.deps.Reasoner != nil {
		reply, err := ls.deps.Reasoner.Reply(ctx, text, ls.sess.CallID, map[string]string{
			"call_type": string(ls.sess.Type),
			"order_id":  ls.sess.Context.OrderID,
		})
		if err == nil && reply.Intent != "" {
			return reply.Intent
		}
		if err != nil {
			ls.logger.Warn("reasoner failed, using keyword intent", "error", err)
		}
	}
	return keywordIntent(text)
}

// keywordIntent is the zero-dependency intent fallback.
func keywordIntent(text string) string {
	lower := strings.ToLower(text)
	for _, w := range []string{"yes", "haan", "ha", "accept", "ok", "theek"} {
		if strings.Contains(lower, w) {
			return "accept"
		}
	}
	for _, w := range []string{"no", "nahi", "reject", "cancel", "mana"} {
		if strings.Contains(lower, w) {
			return "reject"
		}
	}
	return "unknown"
}

// handleGatherTimeout feeds the no-input event through the script. Returns
// true when the stream should close immediately.
func (ls *LiveSession) handleGatherTimeout(ctx context.Context) bool {
	if ls.sess == nil {
		return false
	}
	ls.logger.Info("gather window expired")
	return ls.applyResult(ctx, ls.sess.Apply(script.Timeout()))
}

// applyResult speaks the transition's prompt and wires terminal handling.
// Terminal transitions with a prompt close on that prompt's mark; terminal
// transitions without one close immediately, which applyResult signals by
// returning true.
func (ls *LiveSession) applyResult(ctx context.Context, res script.Result) bool {
	if res.Ignored {
		ls.logger.Debug("input ignored, session already terminal")
		return false
	}
	if res.Terminal {
		ls.endSession(ctx, "")
	}
	if res.Prompt != "" {
		vars := ls.promptVars()
		if res.PrepMinutes > 0 {
			vars["prep_minutes"] = fmt.Sprintf("%d", res.PrepMinutes)
		}
		text := script.Render(ls.sess.Lang, res.Prompt, vars)
		ls.speakText(ctx, text, string(ls.sess.Lang), res.Terminal)
		return false
	}
	return res.Terminal
}

func (ls *LiveSession) promptVars() script.Vars {
	vars := script.Vars{}
	if ls.sess != nil {
		vars["order_id"] = ls.sess.Context.OrderID
		vars["amount"] = ls.sess.Context.Amount
		vars["items"] = ls.sess.Context.Items
	}
	return vars
}

// speakPrompt renders and speaks one phrase for the current session.
func (ls *LiveSession) speakPrompt(ctx context.Context, key script.PhraseKey, closeAfter bool) {
	text := script.Render(ls.sess.Lang, key, ls.promptVars())
	ls.speakText(ctx, text, string(ls.sess.Lang), closeAfter)
}

// speakText resolves audio (cache, synthesis chain, or a silence substitute)
// and paces it out, ending with a mark. closeAfter ends the stream once that
// mark comes back.
func (ls *LiveSession) speakText(ctx context.Context, text, lang string, closeAfter bool) {
	if text == "" {
		return
	}
	// A new utterance supersedes the current one.
	if ls.engine != nil {
		if ls.engine.Playing() {
			ls.sched.interrupt()
		}
		ls.engine.Reset()
		ls.engine.SetPlaying(true)
	}

	mark := "m-" + uuid.NewString()
	ls.currentMark = mark
	ls.closeOnMark = closeAfter

	// Snapshot the generation now: a barge-in while synthesis is in flight
	// retires it, and the superseded audio must never follow the clear frame.
	gen := ls.sched.generation()

	go func() {
		rctx, cancel := context.WithTimeout(ctx, ls.cfg.SpeakTimeout)
		pcm, err := ls.deps.Cache.GetOrSynthesize(rctx, text, lang, ls.cfg.Voice)
		cancel()
		if err != nil {
			// The channel must never be left starved: play a short
			// silence so the mark still flows and the call advances.
			ls.logger.Warn("synthesis failed, substituting silence", "error", err)
			pcm = audio.Silence(ls.cfg.Audio, 200)
		}
		err = ls.sched.enqueue(ctx, gen, pcm, mark)
		select {
		case ls.speakCh <- speakResult{mark: mark, err: err}:
		case <-ctx.Done():
		}
	}()
}

// handleMarkAck updates playback bookkeeping. When the acknowledged mark is
// the current utterance's, playback is over and the gather window opens.
func (ls *LiveSession) handleMarkAck(name string) {
	ls.logger.Debug("mark acknowledged", "mark", name)
	if name != ls.currentMark {
		return
	}
	if ls.engine != nil {
		ls.engine.SetPlaying(false)
	}
	if !ls.closeOnMark && ls.sess != nil && !ls.sess.State().IsTerminal() {
		ls.resetGather()
	}
}

// endSession reports and releases the registry entry; safe to call more
// than once.
func (ls *LiveSession) endSession(ctx context.Context, override script.Status) {
	if ls.sess == nil {
		return
	}
	if override == "" && !ls.sess.State().IsTerminal() {
		// The callee hung up or the stream died before the script
		// finished; report it as unanswered.
		override = script.StatusNoResponse
	}
	if err := ls.deps.Registry.End(ctx, ls.sess.CallID, override); err != nil && !errors.Is(err, call.ErrUnknown) {
		ls.logger.Warn("session end failed", "error", err)
	}
}

func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection") ||
		errors.Is(err, context.Canceled)
}

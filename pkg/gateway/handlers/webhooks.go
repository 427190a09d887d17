package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/orderdial/orderdial/pkg/core"
	"github.com/orderdial/orderdial/pkg/core/call"
	"github.com/orderdial/orderdial/pkg/core/script"
	"github.com/orderdial/orderdial/pkg/gateway/config"
)

// gatherPrompt is one prompt slot in a gather response. Exactly one of Text
// and AudioURL is set; the vendor applet synthesizes Text with its own TTS
// and plays AudioURL verbatim.
type gatherPrompt struct {
	Text     string `json:"text,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
}

// gatherResponse is the JSON contract of the vendor's programmable gather
// applet. MaxInputDigits zero means play the prompt and end the call.
type gatherResponse struct {
	GatherPrompt       gatherPrompt  `json:"gather_prompt"`
	MaxInputDigits     int           `json:"max_input_digits"`
	FinishOnKey        string        `json:"finish_on_key"`
	InputTimeout       int           `json:"input_timeout"`
	RepeatMenu         int           `json:"repeat_menu,omitempty"`
	RepeatGatherPrompt *gatherPrompt `json:"repeat_gather_prompt,omitempty"`
}

// GatherWebhookHandler drives the keypad-only IVR flow. The vendor applet
// calls it once per turn: without digits for the opening prompt, then with
// the digits the callee pressed. The same script tables that drive the audio
// stream decide every transition, so both transports stay in lockstep.
type GatherWebhookHandler struct {
	Config   config.Config
	Registry *call.Registry
	Logger   *slog.Logger
}

func (h GatherWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, core.NewInvalidRequestError("malformed form payload"))
		return
	}
	callID := strings.TrimSpace(r.Form.Get("CallSid"))
	if callID == "" {
		writeError(w, r, http.StatusBadRequest, core.NewInvalidRequestErrorWithParam("CallSid is required", "CallSid"))
		return
	}
	// Some applet versions send "digits", others "Digits", quoted.
	digits := strings.Trim(strings.TrimSpace(firstOf(r.Form.Get("digits"), r.Form.Get("Digits"))), `"`)

	logger := h.Logger.With("call_id", callID)

	sess, ok := h.Registry.Get(callID)
	if !ok {
		var err error
		sess, err = h.createFromCustomField(callID, r.Form.Get("CustomField"))
		if err != nil {
			if errors.Is(err, call.ErrCapacity) {
				writeError(w, r, http.StatusServiceUnavailable, core.NewCapacityError("session capacity exceeded"))
				return
			}
			// The callee is already on the line, so an unknown call gets a
			// polite closing prompt rather than an error the applet cannot
			// render.
			logger.Warn("gather for unknown call, closing", "error", err)
			lang := script.ParseLang(r.Form.Get("language"))
			writeJSON(w, http.StatusOK, gatherFinal(script.Phrase(lang, script.PhraseUnknownCall)))
			return
		}
	}
	sess.MarkAnswered()

	if digits == "" {
		if sess.State().IsTerminal() {
			writeJSON(w, http.StatusOK, gatherFinal(script.Phrase(sess.Lang, script.PhraseGoodbye)))
			return
		}
		greeting := script.Render(sess.Lang, sess.Machine().GreetingPrompt(), webhookVars(sess, 0))
		logger.Info("gather opening prompt", "call_type", sess.Type, "language", sess.Lang)
		writeJSON(w, http.StatusOK, h.gatherMenu(sess.Lang, greeting))
		return
	}

	logger.Info("gather digits received", "digits", digits, "state", sess.State())
	res := sess.Apply(script.DTMF(digits))
	if res.Ignored {
		writeJSON(w, http.StatusOK, gatherFinal(script.Phrase(sess.Lang, script.PhraseGoodbye)))
		return
	}

	prompt := res.Prompt
	if prompt == "" {
		prompt = script.PhraseGoodbye
	}
	text := script.Render(sess.Lang, prompt, webhookVars(sess, res.PrepMinutes))

	if res.Terminal {
		if err := h.Registry.End(r.Context(), callID, ""); err != nil && !errors.Is(err, call.ErrUnknown) {
			logger.Warn("ending session failed", "error", err)
		}
		writeJSON(w, http.StatusOK, gatherFinal(text))
		return
	}
	writeJSON(w, http.StatusOK, h.gatherMenu(sess.Lang, text))
}

// createFromCustomField rebuilds a session from the context that rode the
// vendor custom field, for gather callbacks that beat the initiation path or
// outlive a restart.
func (h GatherWebhookHandler) createFromCustomField(callID, raw string) (*call.Session, error) {
	cf := map[string]string{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &cf); err != nil {
			h.Logger.Warn("unparseable custom field", "call_id", callID, "error", err)
		}
	}
	typ, err := script.ParseCallType(cf["call_type"])
	if err != nil {
		return nil, err
	}
	cctx := call.Context{
		OrderID:     cf["order_id"],
		Amount:      cf["amount"],
		Items:       cf["items"],
		GreetingKey: cf["greeting_key"],
		AcceptedKey: cf["accepted_key"],
	}
	sess, _, err := h.Registry.Create(callID, typ, script.DefaultOptions(),
		script.ParseLang(cf["language"]), h.Config.DefaultVoice, h.Config.TelephonyCallerID, "", cctx)
	return sess, err
}

// gatherMenu asks for one digit and repeats the menu once on silence.
func (h GatherWebhookHandler) gatherMenu(lang script.Lang, text string) gatherResponse {
	timeout := int(h.Config.GatherTimeout.Seconds())
	if timeout <= 0 {
		timeout = 15
	}
	repeat := script.Phrase(lang, script.PhraseNoInput) + " " + text
	return gatherResponse{
		GatherPrompt:       gatherPrompt{Text: text},
		MaxInputDigits:     1,
		InputTimeout:       timeout,
		RepeatMenu:         2,
		RepeatGatherPrompt: &gatherPrompt{Text: repeat},
	}
}

// gatherFinal plays text and hangs up: no digits gathered.
func gatherFinal(text string) gatherResponse {
	return gatherResponse{
		GatherPrompt:   gatherPrompt{Text: text},
		MaxInputDigits: 0,
		InputTimeout:   1,
	}
}

func webhookVars(s *call.Session, prepMinutes int) script.Vars {
	vars := script.Vars{
		"order_id": s.Context.OrderID,
		"amount":   s.Context.Amount,
		"items":    s.Context.Items,
	}
	if prepMinutes > 0 {
		vars["prep_minutes"] = strconv.Itoa(prepMinutes)
	}
	return vars
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// StatusWebhookHandler absorbs the vendor's call status callbacks. Only
// terminal statuses end the session; a completed call keeps whatever outcome
// the conversation already produced, while busy, failed, and no-answer
// override it. Duplicates land on lingering terminal sessions and are
// acknowledged without re-reporting.
type StatusWebhookHandler struct {
	Registry *call.Registry
	Logger   *slog.Logger
}

func (h StatusWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, r, http.StatusBadRequest, core.NewInvalidRequestError("malformed form payload"))
		return
	}
	callID := strings.TrimSpace(r.Form.Get("CallSid"))
	if callID == "" {
		writeError(w, r, http.StatusBadRequest, core.NewInvalidRequestErrorWithParam("CallSid is required", "CallSid"))
		return
	}
	status := strings.ToLower(strings.TrimSpace(firstOf(r.Form.Get("CallStatus"), r.Form.Get("Status"))))

	override, terminal := statusOverride(status)
	if !terminal {
		// Ringing and in-progress notifications carry nothing the session
		// does not already know.
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	err := h.Registry.End(r.Context(), callID, override)
	switch {
	case errors.Is(err, call.ErrUnknown):
		h.Logger.Warn("status callback for unknown call", "call_id", callID, "call_status", status)
	case err != nil:
		h.Logger.Warn("ending session failed", "call_id", callID, "error", err)
	default:
		h.Logger.Info("vendor status applied", "call_id", callID, "call_status", status)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// statusOverride maps a vendor call status to a session status override.
// Empty override with terminal=true ends the session on its own outcome.
func statusOverride(status string) (script.Status, bool) {
	switch status {
	case "completed":
		return "", true
	case "no-answer":
		return script.StatusNoResponse, true
	case "busy":
		return script.StatusBusy, true
	case "failed", "canceled":
		return script.StatusFailed, true
	}
	return "", false
}

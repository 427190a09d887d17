package collab

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/orderdial/orderdial/pkg/core/audio"
)

// httpDo posts a JSON body and decodes a JSON response, with non-2xx mapped
// to an error carrying the backend's message.
func httpDo(ctx context.Context, client *http.Client, url string, req, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return fmt.Errorf("post %s: status %d: %s", url, httpResp.StatusCode, bytes.TrimSpace(msg))
	}
	if resp == nil {
		return nil
	}
	if err := json.NewDecoder(httpResp.Body).Decode(resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// HTTPTranscriber is a JSON client for an on-prem speech-to-text server.
type HTTPTranscriber struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPTranscriber creates a transcriber client with the given request
// timeout.
func NewHTTPTranscriber(baseURL string, timeout time.Duration) *HTTPTranscriber {
	return &HTTPTranscriber{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: timeout},
	}
}

// Transcribe posts base64 PCM and a language hint to /transcribe.
func (t *HTTPTranscriber) Transcribe(ctx context.Context, pcm []byte, lang string) (Transcription, error) {
	req := struct {
		Audio    string `json:"audio"`
		Language string `json:"language"`
	}{
		Audio:    base64.StdEncoding.EncodeToString(pcm),
		Language: lang,
	}
	var resp Transcription
	if err := httpDo(ctx, t.Client, t.BaseURL+"/transcribe", req, &resp); err != nil {
		return Transcription{}, err
	}
	return resp, nil
}

// HTTPSynthesizer is a JSON client for an on-prem text-to-speech server.
// Responses at a non-telephony sample rate are resampled to 8kHz before
// being returned, so every caller sees frame-alignable audio.
type HTTPSynthesizer struct {
	BaseURL string
	Client  *http.Client
	Audio   audio.Config
}

// NewHTTPSynthesizer creates a synthesizer client with the given request
// timeout.
func NewHTTPSynthesizer(baseURL string, timeout time.Duration) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: timeout},
		Audio:   audio.DefaultConfig(),
	}
}

// Synthesize posts prompt text to /synthesize and returns telephony-rate PCM.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text, lang, voice string) ([]byte, error) {
	req := struct {
		Text     string `json:"text"`
		Language string `json:"language"`
		Voice    string `json:"voice"`
	}{Text: text, Language: lang, Voice: voice}

	var resp struct {
		Audio      string `json:"audio"`
		SampleRate int    `json:"sample_rate"`
	}
	if err := httpDo(ctx, s.Client, s.BaseURL+"/synthesize", req, &resp); err != nil {
		return nil, err
	}
	pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	if resp.SampleRate != 0 && resp.SampleRate != s.Audio.SampleRate {
		pcm = audio.Resample(pcm, resp.SampleRate, s.Audio.SampleRate)
	}
	return audio.AlignPCM(pcm, s.Audio.FrameUnit()), nil
}

// HTTPVAD is a JSON client for an on-prem voice-activity server.
type HTTPVAD struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPVAD creates a VAD client with the given request timeout.
func NewHTTPVAD(baseURL string, timeout time.Duration) *HTTPVAD {
	return &HTTPVAD{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: timeout},
	}
}

// Probability posts one base64 PCM frame to /vad.
func (v *HTTPVAD) Probability(ctx context.Context, frame []byte) (float64, error) {
	req := struct {
		Audio string `json:"audio"`
	}{Audio: base64.StdEncoding.EncodeToString(frame)}

	var resp struct {
		Probability float64 `json:"probability"`
	}
	if err := httpDo(ctx, v.Client, v.BaseURL+"/vad", req, &resp); err != nil {
		return 0, err
	}
	return resp.Probability, nil
}

// EnergyVAD is the zero-dependency fallback when no VAD server is
// configured: RMS energy against a threshold, mapped to a coarse
// probability.
type EnergyVAD struct {
	// Threshold is the RMS level above which a frame counts as speech.
	// Default: 0.02.
	Threshold float64
}

// Probability implements VAD.
func (v *EnergyVAD) Probability(_ context.Context, frame []byte) (float64, error) {
	threshold := v.Threshold
	if threshold <= 0 {
		threshold = 0.02
	}
	if audio.CalculateRMSEnergy(frame) >= threshold {
		return 1.0, nil
	}
	return 0.0, nil
}

// HTTPReasoner is a JSON client for an on-prem reasoning/NLU server.
type HTTPReasoner struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPReasoner creates a reasoner client with the given request timeout.
func NewHTTPReasoner(baseURL string, timeout time.Duration) *HTTPReasoner {
	return &HTTPReasoner{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: timeout},
	}
}

// Reply posts an utterance and call context to /reason.
func (r *HTTPReasoner) Reply(ctx context.Context, utterance, sessionID string, callCtx map[string]string) (Reply, error) {
	req := struct {
		Utterance string            `json:"utterance"`
		SessionID string            `json:"session_id"`
		Context   map[string]string `json:"context,omitempty"`
	}{Utterance: utterance, SessionID: sessionID, Context: callCtx}

	var resp Reply
	if err := httpDo(ctx, r.Client, r.BaseURL+"/reason", req, &resp); err != nil {
		return Reply{}, err
	}
	return resp, nil
}

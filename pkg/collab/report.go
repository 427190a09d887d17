package collab

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/orderdial/orderdial/pkg/core/call"
)

// HTTPReporter delivers terminal call reports to the order-management
// backend. Delivery is fire-and-forget: the registry runs it on a supervised
// task and a failure is logged, never retried into the call path.
type HTTPReporter struct {
	URL    string
	Client *http.Client
	Logger *slog.Logger
}

// NewHTTPReporter creates a reporter posting to url.
func NewHTTPReporter(url string, timeout time.Duration, logger *slog.Logger) *HTTPReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPReporter{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
		Logger: logger,
	}
}

// Report implements call.ReportSink.
func (r *HTTPReporter) Report(ctx context.Context, rep call.Report) error {
	if r.URL == "" {
		r.Logger.Info("call finished",
			"call_id", rep.CallID, "call_type", rep.Type, "status", rep.Status)
		return nil
	}

	payload := struct {
		CallID      string `json:"call_id"`
		CallType    string `json:"call_type"`
		Status      string `json:"status"`
		PrepMinutes int    `json:"prep_minutes,omitempty"`
		Reason      string `json:"rejection_reason,omitempty"`
		Digits      string `json:"digits,omitempty"`
		Transcript  string `json:"transcript,omitempty"`
		DurationMs  int64  `json:"duration_ms"`
	}{
		CallID:      rep.CallID,
		CallType:    string(rep.Type),
		Status:      string(rep.Status),
		PrepMinutes: rep.Answers.PrepMinutes,
		Reason:      string(rep.Answers.Reason),
		Digits:      rep.Answers.Digits,
		Transcript:  rep.Answers.Transcript,
		DurationMs:  rep.Duration.Milliseconds(),
	}
	if err := httpDo(ctx, r.Client, r.URL, payload, nil); err != nil {
		return err
	}
	r.Logger.Info("call report delivered",
		"call_id", rep.CallID, "status", rep.Status)
	return nil
}

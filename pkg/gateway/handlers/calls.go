package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orderdial/orderdial/pkg/core"
	"github.com/orderdial/orderdial/pkg/core/call"
	"github.com/orderdial/orderdial/pkg/core/script"
	"github.com/orderdial/orderdial/pkg/core/synth"
	"github.com/orderdial/orderdial/pkg/gateway/config"
)

// CallPlacer is the telephony client surface the initiation handlers need.
// A nil placer runs the API in dry-run mode: sessions are created with
// locally generated ids and no call leg is placed.
type CallPlacer interface {
	Place(ctx context.Context, to string, customField any) (string, error)
}

// CallsDeps is shared by the initiation and lookup handlers.
type CallsDeps struct {
	Config   config.Config
	Registry *call.Registry
	Cache    *synth.Cache
	Placer   CallPlacer
	Logger   *slog.Logger
}

type orderItem struct {
	Name     string      `json:"name"`
	Quantity int         `json:"quantity"`
	Price    json.Number `json:"price,omitempty"`
}

type vendorCallRequest struct {
	OrderID       json.Number `json:"order_id"`
	VendorPhone   string      `json:"vendor_phone"`
	VendorName    string      `json:"vendor_name"`
	OrderItems    []orderItem `json:"order_items"`
	OrderAmount   json.Number `json:"order_amount"`
	PaymentMethod string      `json:"payment_method"`
	Language      string      `json:"language"`
	CallType      string      `json:"call_type"`
	CollectReason bool        `json:"collect_rejection_reason"`
}

type riderCallRequest struct {
	OrderID        json.Number `json:"order_id"`
	RiderPhone     string      `json:"rider_phone"`
	RiderName      string      `json:"rider_name"`
	RestaurantName string      `json:"restaurant_name"`
	PickupMinutes  int         `json:"pickup_time_minutes"`
	Language       string      `json:"language"`
	CallType       string      `json:"call_type"`
}

type callCreatedResponse struct {
	CallID string `json:"call_id"`
	Status string `json:"status"`
}

// VendorCallHandler places vendor-facing calls: order confirmation and
// prep-time queries.
type VendorCallHandler struct {
	CallsDeps
}

func (h VendorCallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req vendorCallRequest
	if err := readJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, core.NewInvalidRequestError(err.Error()))
		return
	}
	if req.OrderID.String() == "" {
		writeError(w, r, http.StatusBadRequest, core.NewInvalidRequestErrorWithParam("order_id is required", "order_id"))
		return
	}
	if req.VendorPhone == "" {
		writeError(w, r, http.StatusBadRequest, core.NewInvalidRequestErrorWithParam("vendor_phone is required", "vendor_phone"))
		return
	}

	typ := script.CallTypeVendorOrderConfirmation
	if req.CallType != "" {
		parsed, err := script.ParseCallType(req.CallType)
		if err != nil || (parsed != script.CallTypeVendorOrderConfirmation && parsed != script.CallTypeVendorPrepTime) {
			writeError(w, r, http.StatusBadRequest, core.NewInvalidRequestErrorWithParam("call_type must be a vendor call type", "call_type"))
			return
		}
		typ = parsed
	}

	opts := script.DefaultOptions()
	opts.CollectRejectionReason = req.CollectReason

	h.initiate(w, r, typ, opts, req.VendorPhone, req.Language, call.Context{
		OrderID: req.OrderID.String(),
		Amount:  req.OrderAmount.String(),
		Items:   itemsSummary(req.OrderItems),
	})
}

// RiderCallHandler places rider-facing calls: delivery assignment and
// pickup-ready notification.
type RiderCallHandler struct {
	CallsDeps
}

func (h RiderCallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req riderCallRequest
	if err := readJSON(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, core.NewInvalidRequestError(err.Error()))
		return
	}
	if req.OrderID.String() == "" {
		writeError(w, r, http.StatusBadRequest, core.NewInvalidRequestErrorWithParam("order_id is required", "order_id"))
		return
	}
	if req.RiderPhone == "" {
		writeError(w, r, http.StatusBadRequest, core.NewInvalidRequestErrorWithParam("rider_phone is required", "rider_phone"))
		return
	}

	typ := script.CallTypeRiderAssignment
	if req.CallType != "" {
		parsed, err := script.ParseCallType(req.CallType)
		if err != nil || (parsed != script.CallTypeRiderAssignment && parsed != script.CallTypeRiderPickupReady) {
			writeError(w, r, http.StatusBadRequest, core.NewInvalidRequestErrorWithParam("call_type must be a rider call type", "call_type"))
			return
		}
		typ = parsed
	}

	h.initiate(w, r, typ, script.DefaultOptions(), req.RiderPhone, req.Language, call.Context{
		OrderID: req.OrderID.String(),
		Items:   req.RestaurantName,
	})
}

// initiate pre-warms the prompts this call will need, places the leg, and
// registers the session under the vendor-assigned call id.
func (d CallsDeps) initiate(w http.ResponseWriter, r *http.Request, typ script.CallType, opts script.Options, to, language string, cctx call.Context) {
	lang := script.ParseLang(language)
	if language == "" {
		lang = script.ParseLang(d.Config.DefaultLanguage)
	}
	voice := d.Config.DefaultVoice

	vars := script.Vars{
		"order_id": cctx.OrderID,
		"amount":   cctx.Amount,
		"items":    cctx.Items,
	}
	greeting := script.Render(lang, script.GreetingKey(typ), vars)
	cctx.GreetingKey = synth.Key(greeting, string(lang), voice)
	warm := []string{greeting}
	if typ == script.CallTypeVendorOrderConfirmation {
		accepted := script.Render(lang, script.PhrasePrepTimeQuery, vars)
		cctx.AcceptedKey = synth.Key(accepted, string(lang), voice)
		warm = append(warm, accepted)
	}

	// The prompts must be in cache before the leg is placed so the first
	// prompt on answer is a hit. The wait is bounded: past the deadline the
	// call proceeds and a missed prompt synthesizes on demand.
	warmCtx, cancel := context.WithTimeout(r.Context(), d.warmTimeout())
	wait := d.Cache.Warm(warmCtx, warm, string(lang), voice)
	wait()
	cancel()

	customField := map[string]string{
		"call_type":    string(typ),
		"order_id":     cctx.OrderID,
		"amount":       cctx.Amount,
		"items":        cctx.Items,
		"language":     string(lang),
		"greeting_key": cctx.GreetingKey,
		"accepted_key": cctx.AcceptedKey,
	}

	callID := "call_" + uuid.NewString()
	if d.Placer != nil {
		placed, err := d.Placer.Place(r.Context(), to, customField)
		if err != nil {
			d.Logger.Error("call placement failed", "to", to, "error", err)
			writeError(w, r, http.StatusBadGateway, core.NewCollaboratorError("telephony", err))
			return
		}
		callID = placed
	}

	_, created, err := d.Registry.Create(callID, typ, opts, lang, voice, d.Config.TelephonyCallerID, to, cctx)
	if err != nil {
		if errors.Is(err, call.ErrCapacity) {
			writeError(w, r, http.StatusServiceUnavailable, core.NewCapacityError("session capacity exceeded"))
			return
		}
		writeError(w, r, http.StatusBadRequest, core.NewInvalidRequestError(err.Error()))
		return
	}
	if !created {
		d.Logger.Warn("duplicate call id from vendor", "call_id", callID)
	}

	d.Logger.Info("call initiated", "call_id", callID, "call_type", typ, "to", to)
	writeJSON(w, http.StatusCreated, callCreatedResponse{CallID: callID, Status: "initiated"})
}

// warmTimeout bounds the pre-placement prompt warm: enough for the synthesis
// chain to fall back once, well inside the ring window.
func (d CallsDeps) warmTimeout() time.Duration {
	if d.Config.CollaboratorTimeout > 0 {
		return 2 * d.Config.CollaboratorTimeout
	}
	return 10 * time.Second
}

// CallGetHandler exposes live and recently terminal sessions for polling.
type CallGetHandler struct {
	Registry *call.Registry
}

func (h CallGetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	callID := r.PathValue("id")
	s, ok := h.Registry.Get(callID)
	if !ok {
		writeError(w, r, http.StatusNotFound, core.NewNotFoundError(fmt.Sprintf("unknown call %q", callID)))
		return
	}

	ans := s.Answers()
	writeJSON(w, http.StatusOK, map[string]any{
		"call_id":   s.CallID,
		"call_type": s.Type,
		"status":    s.Status(),
		"state":     s.State(),
		"order_id":  s.Context.OrderID,
		"answers":   ans,
		"duration":  s.Duration().Round(time.Millisecond).String(),
	})
}

func itemsSummary(items []orderItem) string {
	if len(items) == 0 {
		return ""
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		if it.Quantity > 1 {
			parts = append(parts, fmt.Sprintf("%d %s", it.Quantity, it.Name))
			continue
		}
		parts = append(parts, it.Name)
	}
	return strings.Join(parts, ", ")
}

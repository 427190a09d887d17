package mw

import (
	"net/http"
	"strings"

	"github.com/orderdial/orderdial/pkg/core"
)

const (
	apiVersionHeader    = "X-OrderDial-Version"
	supportedAPIVersion = "1"
)

// APIVersion rejects requests that pin an API version this build does not
// speak. A request without the header passes: telephony vendor callbacks
// cannot attach custom headers, and unversioned clients get current behavior.
func APIVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipVersionCheck(r) {
			next.ServeHTTP(w, r)
			return
		}

		for _, value := range r.Header.Values(apiVersionHeader) {
			for _, part := range strings.Split(value, ",") {
				version := strings.TrimSpace(part)
				if version == "" || version == supportedAPIVersion {
					continue
				}
				reqID, _ := RequestIDFrom(r.Context())
				writeJSONError(w, http.StatusBadRequest, &core.Error{
					Type:      core.ErrInvalidRequest,
					Message:   "unsupported API version",
					Param:     apiVersionHeader,
					Code:      "unsupported_version",
					RequestID: reqID,
				})
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func skipVersionCheck(r *http.Request) bool {
	if r.Method == http.MethodOptions || isWebSocketUpgrade(r) {
		return true
	}
	return r.URL.Path != "/v1" && !strings.HasPrefix(r.URL.Path, "/v1/")
}

func isWebSocketUpgrade(r *http.Request) bool {
	if !headerHasToken(r.Header, "Connection", "upgrade") {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket")
}

func headerHasToken(h http.Header, name, token string) bool {
	for _, value := range h.Values(name) {
		for _, part := range strings.Split(value, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

package handlers

import (
	"net/http"

	"github.com/orderdial/orderdial/pkg/core"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, core.NewNotFoundError("not found"))
}

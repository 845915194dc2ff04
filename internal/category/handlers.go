package category

import (
	"net/http"

	"github.com/noah-isme/backend-dompet/internal/common"
)

// Handler exposes the category endpoints.
type Handler struct {
	Service *Service
}

// List handles GET /api/categories.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.WriteError(w, r, common.Unauthorized("missing or invalid token"))
		return
	}
	rows, err := h.Service.List(r.Context(), userID)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.List(w, rows, len(rows))
}

// Create handles POST /api/categories.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.WriteError(w, r, common.Unauthorized("missing or invalid token"))
		return
	}
	var in CreateInput
	if err := common.DecodeJSON(r, &in); err != nil {
		common.WriteError(w, r, err)
		return
	}
	created, err := h.Service.Create(r.Context(), userID, in)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.Success(w, http.StatusCreated, "category created", created)
}

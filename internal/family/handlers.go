package family

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-dompet/internal/common"
)

const formMemory = 8 << 20

// Handler exposes the family endpoints.
type Handler struct {
	Service *Service
}

type createRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type joinRequest struct {
	InviteCode string `json:"inviteCode" validate:"required"`
}

func currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := common.UserID(r.Context())
	if !ok {
		common.WriteError(w, r, common.Unauthorized("missing or invalid token"))
	}
	return id, ok
}

// Create handles POST /api/families.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req createRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	fam, err := h.Service.Create(r.Context(), userID, req.Name)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.Success(w, http.StatusCreated, "family created", fam)
}

// Join handles POST /api/families/join.
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req joinRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	fam, err := h.Service.Join(r.Context(), userID, req.InviteCode)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.Success(w, http.StatusOK, "joined family", fam)
}

// Members handles GET /api/families/members.
func (h *Handler) Members(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	detail, err := h.Service.Members(r.Context(), userID)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.Success(w, http.StatusOK, "", detail)
}

// Update handles PUT /api/families (multipart: name, avatar).
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(formMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		common.WriteError(w, r, common.BadRequest("invalid form payload", err))
		return
	}
	in := UpdateInput{Name: r.FormValue("name")}
	file, _, err := r.FormFile("avatar")
	switch {
	case err == nil:
		defer file.Close()
		in.Avatar = file
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		common.WriteError(w, r, common.BadRequest("invalid avatar upload", err))
		return
	}
	fam, err := h.Service.Update(r.Context(), userID, in)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.Success(w, http.StatusOK, "family updated", fam)
}

// Kick handles DELETE /api/families/members/{memberID}.
func (h *Handler) Kick(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	memberID, err := common.PathInt64(chi.URLParam(r, "memberID"), "member id")
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	if err := h.Service.Kick(r.Context(), userID, memberID); err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.Success(w, http.StatusOK, "member removed", nil)
}

// Leave handles POST /api/families/leave.
func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.Service.Leave(r.Context(), userID); err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.Success(w, http.StatusOK, "left family", nil)
}

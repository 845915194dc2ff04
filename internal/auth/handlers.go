package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/noah-isme/backend-dompet/internal/common"
)

const profileFormMemory = 8 << 20

// Handler exposes HTTP handlers for authentication and account endpoints.
type Handler struct {
	Service *Service
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// sessionResponse repeats token and user at the top level; the login and
// register screens read them from the response body directly.
type sessionResponse struct {
	Status       string  `json:"status"`
	Message      string  `json:"message,omitempty"`
	Token        string  `json:"token"`
	RefreshToken string  `json:"refreshToken"`
	User         User    `json:"user"`
	Data         Session `json:"data"`
}

func writeSession(w http.ResponseWriter, status int, message string, s Session) {
	common.JSON(w, status, sessionResponse{
		Status:       "success",
		Message:      message,
		Token:        s.Token,
		RefreshToken: s.RefreshToken,
		User:         s.User,
		Data:         s,
	})
}

// Register handles POST /api/auth/register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	session, err := h.Service.Register(r.Context(), req.Name, req.Email, req.Password, r.UserAgent(), common.ClientIP(r))
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	writeSession(w, http.StatusCreated, "registered", session)
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	session, err := h.Service.Login(r.Context(), req.Email, req.Password, r.UserAgent(), common.ClientIP(r))
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	writeSession(w, http.StatusOK, "logged in", session)
}

// Refresh handles POST /api/auth/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, r, err)
		return
	}
	session, err := h.Service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	writeSession(w, http.StatusOK, "", session)
}

// Logout handles POST /api/auth/logout. The body is optional.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := h.Service.Logout(r.Context(), req.RefreshToken); err != nil {
		common.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/auth/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.WriteError(w, r, common.Unauthorized("missing or invalid token"))
		return
	}
	user, err := h.Service.Me(r.Context(), userID)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.Success(w, http.StatusOK, "", user)
}

// UpdateProfile handles PUT /api/auth/profile (multipart: name, avatar).
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.WriteError(w, r, common.Unauthorized("missing or invalid token"))
		return
	}
	if err := r.ParseMultipartForm(profileFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		common.WriteError(w, r, common.BadRequest("invalid form payload", err))
		return
	}
	in := ProfileUpdate{Name: r.FormValue("name")}
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
	user, err := h.Service.UpdateProfile(r.Context(), userID, in)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.Success(w, http.StatusOK, "profile updated", user)
}

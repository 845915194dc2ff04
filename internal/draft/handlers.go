package draft

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-dompet/internal/common"
	"github.com/noah-isme/backend-dompet/internal/composer"
)

const maxEditBody = 1 << 20

// Handler exposes draft sessions and the stateless compose endpoint.
type Handler struct {
	Service *Service
	// Images reads receipt uploads from a multipart request.
	Images func(*http.Request) ([][]byte, error)
}

func currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := common.UserID(r.Context())
	if !ok {
		common.WriteError(w, r, common.Unauthorized("missing or invalid token"))
	}
	return id, ok
}

func isMultipart(r *http.Request) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mediaType == "multipart/form-data"
}

// Middleware wraps a route.
type Middleware = func(http.Handler) http.Handler

// Routes builds the /drafts router. scanLimit guards every route that reaches
// the OCR provider: the scan endpoint and multipart creates. idempotent guards
// submit. Either may be nil.
func (h *Handler) Routes(scanLimit, idempotent Middleware) chi.Router {
	r := chi.NewRouter()
	r.With(whenMultipart(scanLimit)).Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Patch("/{id}", h.Apply)
	r.Delete("/{id}", h.Discard)
	r.With(orPass(scanLimit)).Post("/{id}/scan", h.Scan)
	r.With(orPass(idempotent)).Post("/{id}/submit", h.Submit)
	return r
}

func orPass(mw Middleware) Middleware {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}

// whenMultipart applies mw to uploads only; JSON creates never scan.
func whenMultipart(mw Middleware) Middleware {
	if mw == nil {
		return orPass(nil)
	}
	return func(next http.Handler) http.Handler {
		limited := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isMultipart(r) {
				limited.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handler) images(r *http.Request) ([][]byte, error) {
	if h.Images == nil {
		return nil, common.BadRequest("image upload is not supported", nil)
	}
	return h.Images(r)
}

// Create handles POST /api/drafts. A JSON body may name a transaction to
// edit; a multipart body with images starts from a scan.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var seed Seed
	if isMultipart(r) {
		images, err := h.images(r)
		if err != nil {
			common.WriteError(w, r, err)
			return
		}
		seed.Images = images
		seed.Type = r.FormValue("type")
	} else if r.ContentLength != 0 {
		if err := common.DecodeJSON(r, &seed); err != nil {
			common.WriteError(w, r, err)
			return
		}
	}
	v, err := h.Service.Create(r.Context(), userID, seed)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.Success(w, http.StatusCreated, "draft created", v)
}

// Get handles GET /api/drafts/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	v, err := h.Service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.Success(w, http.StatusOK, "draft", v)
}

// Apply handles PATCH /api/drafts/{id}. The body is one edit or an array of
// edits applied in order.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	edits, err := decodeEdits(w, r)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	v, err := h.Service.Apply(r.Context(), userID, chi.URLParam(r, "id"), edits...)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.Success(w, http.StatusOK, "draft updated", v)
}

func decodeEdits(w http.ResponseWriter, r *http.Request) ([]Edit, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEditBody))
	if err != nil {
		return nil, common.BodyError("invalid request payload", err)
	}
	raw = bytes.TrimSpace(raw)
	var edits []Edit
	if len(raw) > 0 && raw[0] == '[' {
		err = json.Unmarshal(raw, &edits)
	} else {
		var e Edit
		err = json.Unmarshal(raw, &e)
		edits = []Edit{e}
	}
	if err != nil {
		return nil, common.BadRequest("invalid request payload", err)
	}
	return edits, nil
}

// Scan handles POST /api/drafts/{id}/scan (multipart: images).
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	images, err := h.images(r)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	v, err := h.Service.Scan(r.Context(), userID, chi.URLParam(r, "id"), images)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.Success(w, http.StatusOK, "receipt merged", v)
}

// Submit handles POST /api/drafts/{id}/submit.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	t, created, err := h.Service.Submit(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	if created {
		common.Success(w, http.StatusCreated, "transaction created", t)
		return
	}
	common.Success(w, http.StatusOK, "transaction updated", t)
}

// Discard handles DELETE /api/drafts/{id}.
func (h *Handler) Discard(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	if err := h.Service.Discard(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.Success(w, http.StatusOK, "draft discarded", nil)
}

// Compose handles POST /api/compose: totals for a draft held by the client.
func (h *Handler) Compose(w http.ResponseWriter, r *http.Request) {
	var d composer.Draft
	if err := common.DecodeJSON(r, &d); err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.Success(w, http.StatusOK, "composed", Evaluate(d))
}

package transaction

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-dompet/internal/common"
)

const formMemory = 16 << 20

// Handler exposes the transaction endpoints.
type Handler struct {
	Service *Service
}

func currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := common.UserID(r.Context())
	if !ok {
		common.WriteError(w, r, common.Unauthorized("missing or invalid token"))
	}
	return id, ok
}

// decodeInput reads a JSON body or the multipart form the mobile client
// sends. The returned closer releases the uploaded image, if any.
func decodeInput(r *http.Request) (Input, io.Reader, func(), error) {
	noop := func() {}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var in Input
		if err := common.DecodeJSON(r, &in); err != nil {
			return Input{}, nil, noop, err
		}
		return in, nil, noop, nil
	}
	if err := r.ParseMultipartForm(formMemory); err != nil {
		return Input{}, nil, noop, common.BodyError("invalid form payload", err)
	}
	in, err := formFields(r.FormValue)
	if err != nil {
		return Input{}, nil, noop, err
	}
	file, _, err := r.FormFile("image")
	switch {
	case err == nil:
		return in, file, func() { file.Close() }, nil
	case errors.Is(err, http.ErrMissingFile):
		return in, nil, noop, nil
	default:
		return Input{}, nil, noop, common.BadRequest("invalid image upload", err)
	}
}

func pathID(r *http.Request) (int64, error) {
	return common.PathInt64(chi.URLParam(r, "id"), "transaction id")
}

// Create handles POST /api/transactions.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	in, image, release, err := decodeInput(r)
	defer release()
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	t, err := h.Service.Create(r.Context(), userID, in, image)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.Success(w, http.StatusCreated, "transaction created", t)
}

// Update handles PUT /api/transactions/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	in, image, release, err := decodeInput(r)
	defer release()
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	t, err := h.Service.Update(r.Context(), userID, id, in, image)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.Success(w, http.StatusOK, "transaction updated", t)
}

// Get handles GET /api/transactions/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	t, err := h.Service.Get(r.Context(), userID, id)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.Success(w, http.StatusOK, "", t)
}

// Delete handles DELETE /api/transactions/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	if err := h.Service.Delete(r.Context(), userID, id); err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.Success(w, http.StatusOK, "transaction deleted", nil)
}

// Recent handles GET /api/transactions/recent.
func (h *Handler) Recent(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	list, err := h.Service.Recent(r.Context(), userID)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.List(w, list, len(list))
}

// List handles GET /api/transactions.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	lq, err := listQuery(r)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	list, err := h.Service.List(r.Context(), userID, lq)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.List(w, list, len(list))
}

func listQuery(r *http.Request) (ListQuery, error) {
	start, err := common.QueryDate(r, "startDate")
	if err != nil {
		return ListQuery{}, err
	}
	end, err := common.QueryEndDate(r, "endDate")
	if err != nil {
		return ListQuery{}, err
	}
	category, err := common.QueryInt64(r, "categoryId")
	if err != nil {
		return ListQuery{}, err
	}
	member, err := common.QueryInt64(r, "filterUserId")
	if err != nil {
		return ListQuery{}, err
	}
	return ListQuery{
		Start:      start,
		End:        end,
		Limit:      common.QueryInt(r, "limit", defaultListLimit),
		Offset:     common.QueryInt(r, "offset", 0),
		Family:     common.QueryBool(r, "family"),
		ItemName:   r.URL.Query().Get("itemName"),
		CategoryID: category,
		MemberID:   member,
	}, nil
}

package ocr

import (
	"io"
	"mime/multipart"
	"net/http"

	"github.com/noah-isme/backend-dompet/internal/common"
)

const formMemory = 32 << 20

// Handler exposes the scan endpoint.
type Handler struct {
	Service       *Service
	MaxImageBytes int64
}

// Scan handles POST /api/ocr/scan (multipart: images).
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	userID, ok := common.UserID(r.Context())
	if !ok {
		common.WriteError(w, r, common.Unauthorized("missing or invalid token"))
		return
	}
	images, err := h.Images(r)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	res, err := h.Service.Scan(r.Context(), userID, images)
	if err != nil {
		common.WriteError(w, r, err)
		return
	}
	common.Success(w, http.StatusOK, "receipt scanned", res)
}

// Images reads the uploaded receipt images from a multipart request, in the
// order they were sent.
func (h *Handler) Images(r *http.Request) ([][]byte, error) {
	if err := r.ParseMultipartForm(formMemory); err != nil {
		return nil, common.BodyError("invalid form payload", err)
	}
	files := append(r.MultipartForm.File["images"], r.MultipartForm.File["images[]"]...)
	if len(files) > h.Service.MaxImages() {
		return nil, common.Unprocessable("too many images", map[string]string{"images": "too many files"})
	}
	images := make([][]byte, 0, len(files))
	for _, fh := range files {
		data, err := h.read(fh)
		if err != nil {
			return nil, err
		}
		images = append(images, data)
	}
	return images, nil
}

func (h *Handler) read(fh *multipart.FileHeader) ([]byte, error) {
	limit := h.MaxImageBytes
	if limit <= 0 {
		limit = 10 << 20
	}
	if fh.Size > limit {
		return nil, common.NewAppError("PAYLOAD_TOO_LARGE", fh.Filename+" is too large", http.StatusRequestEntityTooLarge, nil)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, common.BadRequest("invalid image upload", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, common.BadRequest("invalid image upload", err)
	}
	if int64(len(data)) > limit {
		return nil, common.NewAppError("PAYLOAD_TOO_LARGE", fh.Filename+" is too large", http.StatusRequestEntityTooLarge, nil)
	}
	return data, nil
}

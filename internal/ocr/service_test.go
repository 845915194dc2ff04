package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-dompet/internal/common"
	"github.com/noah-isme/backend-dompet/internal/repo"
	"github.com/noah-isme/backend-dompet/internal/resilience"
)

type fakeProvider struct {
	mu    sync.Mutex
	texts map[int]string
	err   error
	types []string
}

func (f *fakeProvider) ExtractText(_ context.Context, img []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = append(f.types, contentType)
	if f.err != nil {
		return "", f.err
	}
	return f.texts[len(img)], nil
}

type fakeCategories struct{}

func (fakeCategories) ListCategories(context.Context, int64) ([]repo.Category, error) {
	return []repo.Category{{ID: 1, Name: "Makanan"}, {ID: 3, Name: "Belanja"}}, nil
}

func pngBytes(t *testing.T, w int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, 2))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestScanJoinsImagesInOrder(t *testing.T) {
	first, second := pngBytes(t, 2), pngBytes(t, 40)
	require.NotEqual(t, len(first), len(second))
	provider := &fakeProvider{texts: map[int]string{
		len(first):  "WARUNG MAKMUR\nNasi Goreng 20.000",
		len(second): "Sabun Mandi 2 x 4.000\nTOTAL 28.000",
	}}
	svc, err := NewService(Config{Provider: provider, Categories: fakeCategories{}, MaxImages: 3})
	require.NoError(t, err)

	res, err := svc.Scan(context.Background(), 7, [][]byte{first, second})
	require.NoError(t, err)
	require.Equal(t, "WARUNG MAKMUR", *res.Title)
	require.Len(t, res.Items, 2)
	require.Equal(t, int64(1), *res.Items[0].CategoryID)
	require.Equal(t, "Makanan", res.Items[0].CategoryName)
	require.Equal(t, int64(3), *res.Items[1].CategoryID)
	require.Equal(t, "4000", res.Items[1].Price.String())
	require.Equal(t, "28000", res.Total.String())
	require.Equal(t, []string{"image/png", "image/png"}, provider.types)
}

func TestScanValidation(t *testing.T) {
	svc, err := NewService(Config{Provider: &fakeProvider{}, MaxImages: 1})
	require.NoError(t, err)
	ctx := context.Background()

	var appErr *common.AppError
	_, err = svc.Scan(ctx, 1, nil)
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusUnprocessableEntity, appErr.HTTPStatus)

	_, err = svc.Scan(ctx, 1, [][]byte{pngBytes(t, 1), pngBytes(t, 1)})
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusUnprocessableEntity, appErr.HTTPStatus)

	_, err = svc.Scan(ctx, 1, [][]byte{[]byte("GIF89a not really")})
	require.ErrorAs(t, err, &appErr)
	require.Contains(t, appErr.Details, "images[0]")
}

func TestScanProviderFailure(t *testing.T) {
	svc, err := NewService(Config{Provider: &fakeProvider{err: ErrProviderUnavailable}})
	require.NoError(t, err)

	_, err = svc.Scan(context.Background(), 1, [][]byte{pngBytes(t, 1)})
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusBadGateway, appErr.HTTPStatus)
	require.True(t, errors.Is(err, ErrProviderUnavailable))
}

func TestHTTPProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req extractRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Image == "" || r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(extractResponse{Text: "TOTAL 10.000"})
	}))
	defer srv.Close()

	p := &HTTPProvider{Endpoint: srv.URL, APIKey: "k", HTTP: &resilience.HTTPClient{Client: srv.Client(), MaxAttempts: 1}}
	text, err := p.ExtractText(context.Background(), []byte{1, 2, 3}, "image/png")
	require.NoError(t, err)
	require.Equal(t, "TOTAL 10.000", text)

	p.APIKey = "wrong"
	_, err = p.ExtractText(context.Background(), []byte{1}, "image/png")
	require.ErrorIs(t, err, ErrProviderUnavailable)

	_, err = (&HTTPProvider{}).ExtractText(context.Background(), nil, "")
	require.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestScanHandler(t *testing.T) {
	img := pngBytes(t, 3)
	provider := &fakeProvider{texts: map[int]string{len(img): "Roti Bakar 15.000"}}
	svc, err := NewService(Config{Provider: provider})
	require.NoError(t, err)
	h := &Handler{Service: svc}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("images", "receipt_0.jpg")
	require.NoError(t, err)
	_, err = part.Write(img)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/ocr/scan", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req = req.WithContext(common.WithUserID(req.Context(), 5))
	rec := httptest.NewRecorder()
	h.Scan(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data struct {
			Items []struct {
				Name  string  `json:"name"`
				Price float64 `json:"price"`
			} `json:"items"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Items, 1)
	require.Equal(t, "Roti Bakar", resp.Data.Items[0].Name)
	require.Equal(t, float64(15000), resp.Data.Items[0].Price)
}

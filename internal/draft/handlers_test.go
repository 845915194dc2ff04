package draft

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-dompet/internal/ratelimit"
)

func multipartUpload(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("images", "receipt.jpg")
	require.NoError(t, err)
	_, err = part.Write([]byte("jpeg"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestMultipartCreateCountsAgainstScanLimit(t *testing.T) {
	svc, _, scanner, mr := newTestService(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := ratelimit.NewSliding(client, "test:scan", "1-H")
	require.NoError(t, err)
	scanLimit := ratelimit.Handler{Limiter: limiter, Key: ratelimit.ByUser("scan")}
	h := &Handler{
		Service: svc,
		Images:  func(*http.Request) ([][]byte, error) { return [][]byte{[]byte("jpeg")}, nil },
	}
	router := routerFor(h, scanLimit.Middleware)

	upload := func() *httptest.ResponseRecorder {
		body, contentType := multipartUpload(t)
		req := httptest.NewRequest(http.MethodPost, "/drafts", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := upload()
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, 1, scanner.calls)

	rec = upload()
	require.Equal(t, http.StatusTooManyRequests, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), "RATE_LIMITED")
	require.Equal(t, 1, scanner.calls)

	// Blank drafts never reach the provider and stay unthrottled.
	for range 3 {
		rec = do(t, router, http.MethodPost, "/drafts", nil)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodPost, "/drafts/missing/scan", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code, rec.Body.String())
}

func TestApplyRejectsOversizedBody(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	router := newRouter(svc)

	rec := do(t, router, http.MethodPost, "/drafts", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	var created View
	require.NoError(t, json.Unmarshal(env.Data, &created))

	edit := `{"op":"set_note","value":"x"},`
	body := "[" + strings.Repeat(edit, maxEditBody/len(edit)+1) + `{"op":"set_note","value":"x"}]`
	req := httptest.NewRequest(http.MethodPatch, "/drafts/"+created.ID, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), "PAYLOAD_TOO_LARGE")
}

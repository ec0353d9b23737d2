package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petermazzocco/recipe-media/internal/auth"
	"github.com/petermazzocco/recipe-media/internal/monitor"
	"github.com/petermazzocco/recipe-media/internal/retention"
	"github.com/petermazzocco/recipe-media/internal/storage"
	"github.com/petermazzocco/recipe-media/internal/transcode"
	"github.com/petermazzocco/recipe-media/internal/upload"
)

type testServer struct {
	srv    *httptest.Server
	dir    string
	issuer *auth.Issuer
	mon    *monitor.Monitor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithLimits(t, upload.Limits{
		MaxSize:      10 * 1024 * 1024,
		AllowedTypes: []string{"image/jpeg", "image/png", "image/webp"},
	})
}

func newTestServerWithLimits(t *testing.T, limits upload.Limits) *testServer {
	t.Helper()
	dir := t.TempDir()
	store := storage.NewLocal(dir)
	issuer := auth.NewIssuer("test-secret", "recipe-media", time.Hour, 24*time.Hour)
	mon := monitor.New()
	mon.AddCheck("storage", store.Ping)

	ts := &testServer{dir: dir, issuer: issuer, mon: mon}
	r := chi.NewRouter()
	r.Use(mon.Middleware)
	ts.srv = httptest.NewServer(r)
	t.Cleanup(ts.srv.Close)

	svc := upload.NewService(nil, store, transcode.New(0), retention.NewSweeper(nil, store), upload.Options{
		Limits:  limits,
		BaseURL: ts.srv.URL + "/uploads",
	})
	Mount(r, Deps{Uploads: svc, Issuer: issuer, Monitor: mon, StaticDir: dir})
	return ts
}

func (ts *testServer) token(t *testing.T) string {
	t.Helper()
	pair, err := ts.issuer.Issue(auth.Principal{UserID: "42", Email: "cook@example.com"})
	require.NoError(t, err)
	return pair.AccessToken
}

func (ts *testServer) files(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(ts.dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func jpeg(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(w, h, color.NRGBA{R: 180, G: 90, B: 30, A: 255})
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

type apiResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (ts *testServer) do(t *testing.T, method, target, token, contentType string, body *bytes.Buffer) (int, apiResponse) {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req, err := http.NewRequest(method, ts.srv.URL+target, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var out apiResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res.StatusCode, out
}

func (ts *testServer) upload(t *testing.T, token string) uploadResponse {
	t.Helper()
	body, ct := multipartBody(t, "image", "pancakes.jpg", "image/jpeg", jpeg(t, 2000, 1000))
	status, res := ts.do(t, http.MethodPost, "/upload/image", token, ct, body)
	require.Equal(t, http.StatusOK, status, res.Message)
	var data uploadResponse
	require.NoError(t, json.Unmarshal(res.Data, &data))
	return data
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(v))
	return &buf
}

func TestUploadImage(t *testing.T) {
	ts := newTestServer(t)
	src := jpeg(t, 2000, 1000)
	body, ct := multipartBody(t, "image", "pancakes.jpg", "image/jpeg", src)

	status, res := ts.do(t, http.MethodPost, "/upload/image", ts.token(t), ct, body)
	require.Equal(t, http.StatusOK, status, res.Message)
	assert.True(t, res.Success)

	var data uploadResponse
	require.NoError(t, json.Unmarshal(res.Data, &data))
	assert.True(t, strings.HasPrefix(data.Filename, "42_"))
	assert.True(t, strings.HasSuffix(data.OriginalURL, "_original.webp"))
	assert.True(t, strings.HasSuffix(data.ThumbnailURL, "_thumb.webp"))
	assert.True(t, strings.HasSuffix(data.WebpURL, "_optimized.webp"))
	assert.Equal(t, data.WebpURL, data.URL)
	assert.Equal(t, int64(len(src)), data.Size)
	assert.Equal(t, "image/jpeg", data.MimeType)
	assert.Equal(t, upload.Metadata{Width: 2000, Height: 1000, Size: int64(len(src)), Format: "jpeg"}, data.Metadata)

	base := strings.TrimSuffix(data.Filename, "_optimized.webp")
	assert.ElementsMatch(t, []string{
		base + "_original.webp",
		base + "_thumb.webp",
		base + "_optimized.webp",
	}, ts.files(t))

	// Served back by the static route.
	res2, err := ts.srv.Client().Get(data.ThumbnailURL)
	require.NoError(t, err)
	defer res2.Body.Close()
	assert.Equal(t, http.StatusOK, res2.StatusCode)
	assert.Contains(t, res2.Header.Get("Cache-Control"), "immutable")

	assert.Equal(t, int64(1), ts.mon.Counters().UploadsOK)
}

func TestUploadAnonymous(t *testing.T) {
	ts := newTestServer(t)
	data := ts.upload(t, "")
	assert.True(t, strings.HasPrefix(data.Filename, "anonymous_"))
}

func TestUploadRejectsGIF(t *testing.T) {
	ts := newTestServer(t)
	body, ct := multipartBody(t, "image", "dance.gif", "image/gif", []byte("GIF89a...."))

	status, res := ts.do(t, http.MethodPost, "/upload/image", "", ct, body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, res.Success)
	assert.Equal(t, "Invalid file type", res.Error)
	assert.Contains(t, res.Message, "Invalid file type")
	assert.Empty(t, ts.files(t))
	assert.Equal(t, int64(1), ts.mon.Counters().UploadsBlocked)
}

func TestUploadMissingFile(t *testing.T) {
	ts := newTestServer(t)
	body, ct := multipartBody(t, "photo", "pancakes.jpg", "image/jpeg", jpeg(t, 10, 10))

	status, res := ts.do(t, http.MethodPost, "/upload/image", "", ct, body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Validation error", res.Error)
	assert.Equal(t, "No file uploaded", res.Message)
}

func TestUploadUndecodable(t *testing.T) {
	ts := newTestServer(t)
	body, ct := multipartBody(t, "image", "fake.jpg", "image/jpeg", []byte("this is not a jpeg at all"))

	status, res := ts.do(t, http.MethodPost, "/upload/image", "", ct, body)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "Processing error", res.Error)
	assert.Equal(t, "Unable to process the uploaded image", res.Message)
	assert.Empty(t, ts.files(t))
}

func TestUploadTooLarge(t *testing.T) {
	ts := newTestServerWithLimits(t, upload.Limits{MaxSize: 1024, AllowedTypes: []string{"image/jpeg"}})

	// Over MaxSize but inside the multipart allowance: rejected by validation.
	body, ct := multipartBody(t, "image", "big.jpg", "image/jpeg", bytes.Repeat([]byte{0xff}, 2048))
	status, res := ts.do(t, http.MethodPost, "/upload/image", "", ct, body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, res.Success)
	assert.Equal(t, "File too large", res.Error)
	assert.Equal(t, "File too large. Maximum size is 1024 bytes", res.Message)

	// Past the allowance: the body reader gives up before the part is parsed.
	body, ct = multipartBody(t, "image", "huge.jpg", "image/jpeg", bytes.Repeat([]byte{0xff}, 1024+multipartSlack+4096))
	status, res = ts.do(t, http.MethodPost, "/upload/image", "", ct, body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, res.Success)
	assert.Equal(t, "File too large", res.Error)
	assert.Equal(t, "File too large. Maximum size is 1024 bytes", res.Message)

	assert.Empty(t, ts.files(t))
	assert.Equal(t, int64(2), ts.mon.Counters().UploadsBlocked)
}

func TestUploadStorageFailureIsInternal(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	ts := newTestServer(t)
	require.NoError(t, os.Chmod(ts.dir, 0o555))
	t.Cleanup(func() { os.Chmod(ts.dir, 0o755) })

	body, ct := multipartBody(t, "image", "pancakes.jpg", "image/jpeg", jpeg(t, 400, 300))
	status, res := ts.do(t, http.MethodPost, "/upload/image", "", ct, body)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.False(t, res.Success)
	assert.Equal(t, "Internal server error", res.Error)
	assert.Equal(t, "An unexpected error occurred", res.Message)
	assert.Empty(t, ts.files(t))
	assert.Equal(t, int64(1), ts.mon.Counters().UploadsFailed)
}

func TestDeleteRequiresToken(t *testing.T) {
	ts := newTestServer(t)
	data := ts.upload(t, ts.token(t))

	status, res := ts.do(t, http.MethodDelete, "/upload/image", "", "application/json", jsonBody(t, map[string]string{"imageUrl": data.URL}))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Unauthorized", res.Error)
	assert.Len(t, ts.files(t), 3)

	status, _ = ts.do(t, http.MethodDelete, "/upload/image", "not-a-jwt", "application/json", jsonBody(t, map[string]string{"imageUrl": data.URL}))
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Len(t, ts.files(t), 3)
}

func TestDeleteImage(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t)
	data := ts.upload(t, token)

	status, res := ts.do(t, http.MethodDelete, "/upload/image", token, "application/json", jsonBody(t, map[string]string{"imageUrl": data.ThumbnailURL}))
	assert.Equal(t, http.StatusOK, status, res.Message)
	assert.Empty(t, ts.files(t))

	status, res = ts.do(t, http.MethodDelete, "/upload/image", token, "application/json", jsonBody(t, map[string]string{"imageUrl": data.ThumbnailURL}))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Not found", res.Error)

	status, res = ts.do(t, http.MethodDelete, "/upload/image", token, "application/json", jsonBody(t, map[string]string{}))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "imageUrl is required", res.Message)
}

func TestImageInfo(t *testing.T) {
	ts := newTestServer(t)
	data := ts.upload(t, "")

	status, res := ts.do(t, http.MethodGet, "/upload/image/info?imageUrl="+url.QueryEscape(data.ThumbnailURL), "", "", nil)
	require.Equal(t, http.StatusOK, status, res.Message)
	var info upload.Info
	require.NoError(t, json.Unmarshal(res.Data, &info))
	assert.True(t, info.Exists)
	assert.Equal(t, 300, info.Width)
	assert.Equal(t, 300, info.Height)
	assert.Equal(t, "webp", info.Format)
	assert.Equal(t, path.Base(data.ThumbnailURL), info.Filename)

	status, _ = ts.do(t, http.MethodGet, "/upload/image/info?imageUrl="+url.QueryEscape(data.WebpURL), "", "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, res = ts.do(t, http.MethodGet, "/upload/image/info?imageUrl=nobody_1_abc_original.webp", "", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Not found", res.Error)

	status, res = ts.do(t, http.MethodGet, "/upload/image/info", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "imageUrl is required", res.Message)
}

func TestStats(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t)

	status, _ := ts.do(t, http.MethodGet, "/upload/stats", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	ts.upload(t, token)
	status, res := ts.do(t, http.MethodGet, "/upload/stats", token, "", nil)
	require.Equal(t, http.StatusOK, status)
	var st upload.Stats
	require.NoError(t, json.Unmarshal(res.Data, &st))
	assert.Equal(t, 3, st.TotalFiles)
	assert.Equal(t, 1, st.Uploads)
	assert.Positive(t, st.TotalSize)
}

func TestCleanup(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t)

	status, res := ts.do(t, http.MethodPost, "/upload/cleanup", token, "application/json", jsonBody(t, map[string]int{"olderThanDays": 0}))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Validation error", res.Error)
	assert.Equal(t, "olderThanDays must be at least 1", res.Message)

	status, _ = ts.do(t, http.MethodPost, "/upload/cleanup", "", "application/json", jsonBody(t, map[string]int{"olderThanDays": 7}))
	assert.Equal(t, http.StatusUnauthorized, status)

	data := ts.upload(t, token)
	old := time.Now().Add(-10 * 24 * time.Hour)
	base := strings.TrimSuffix(data.Filename, "_optimized.webp")
	for _, v := range storage.Variants() {
		p := filepath.Join(ts.dir, storage.FileName(base, v))
		require.NoError(t, os.Chtimes(p, old, old))
	}

	status, res = ts.do(t, http.MethodPost, "/upload/cleanup", token, "application/json", jsonBody(t, map[string]int{"olderThanDays": 30}))
	require.Equal(t, http.StatusOK, status)
	var out cleanupResponse
	require.NoError(t, json.Unmarshal(res.Data, &out))
	assert.Equal(t, cleanupResponse{DeletedCount: 0, OlderThanDays: 30}, out)

	status, res = ts.do(t, http.MethodPost, "/upload/cleanup", token, "application/json", jsonBody(t, map[string]int{"olderThanDays": 7}))
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(res.Data, &out))
	assert.Equal(t, 3, out.DeletedCount)
	assert.Empty(t, ts.files(t))
}

func TestCleanupEmptyBodyUsesDefault(t *testing.T) {
	ts := newTestServer(t)

	status, res := ts.do(t, http.MethodPost, "/upload/cleanup", ts.token(t), "", nil)
	require.Equal(t, http.StatusOK, status, res.Message)
	var out cleanupResponse
	require.NoError(t, json.Unmarshal(res.Data, &out))
	assert.Equal(t, retention.DefaultDays, out.OlderThanDays)
}

func TestRefreshAndMe(t *testing.T) {
	ts := newTestServer(t)
	pair, err := ts.issuer.Issue(auth.Principal{UserID: "42", Email: "cook@example.com"})
	require.NoError(t, err)

	status, res := ts.do(t, http.MethodPost, "/auth/refresh", "", "application/json", jsonBody(t, map[string]string{"refreshToken": pair.RefreshToken}))
	require.Equal(t, http.StatusOK, status, res.Message)
	var fresh auth.TokenPair
	require.NoError(t, json.Unmarshal(res.Data, &fresh))
	assert.NotEmpty(t, fresh.AccessToken)

	status, res = ts.do(t, http.MethodGet, "/auth/me", fresh.AccessToken, "", nil)
	require.Equal(t, http.StatusOK, status)
	var p auth.Principal
	require.NoError(t, json.Unmarshal(res.Data, &p))
	assert.Equal(t, auth.Principal{UserID: "42", Email: "cook@example.com"}, p)

	// An access token cannot be used as a refresh token.
	status, _ = ts.do(t, http.MethodPost, "/auth/refresh", "", "application/json", jsonBody(t, map[string]string{"refreshToken": pair.AccessToken}))
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	res, err := ts.srv.Client().Get(ts.srv.URL + "/health")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var rep monitor.Report
	require.NoError(t, json.NewDecoder(res.Body).Decode(&rep))
	assert.Equal(t, monitor.StatusUp, rep.Status)
	assert.Equal(t, monitor.StatusUp, rep.Checks["storage"].Status)
}

func TestHealthUnavailable(t *testing.T) {
	ts := newTestServer(t)
	ts.mon.AddCheck("database", func(context.Context) error { return errors.New("connection refused") })

	res, err := ts.srv.Client().Get(ts.srv.URL + "/health")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)

	var rep monitor.Report
	require.NoError(t, json.NewDecoder(res.Body).Decode(&rep))
	assert.Equal(t, monitor.StatusDown, rep.Status)
	assert.Equal(t, "unavailable", rep.Checks["database"].Message)
}

package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qurlsh/qurl"
	"github.com/qurlsh/qurl/filesystem"
	qurlhttp "github.com/qurlsh/qurl/http"
)

const testBaseURL = "http://share.test"

func newTestRouter(t *testing.T, config qurlhttp.HandlerConfig) http.Handler {
	t.Helper()

	root, err := os.OpenRoot(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = root.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	locks := qurl.NewLockTable()
	gate := qurl.NewGate(filesystem.NewStore(root), locks, qurl.DefaultRetentionLimits(), logger)
	vault := qurl.NewVault(filesystem.NewSecrets(root), locks, logger)

	if config.BaseURL == "" {
		config.BaseURL = testBaseURL
	}
	if config.MaxUploadSize == 0 {
		config.MaxUploadSize = 1 << 20
	}

	return qurlhttp.NewHandler(&config, gate, vault).Router()
}

var entryURLPattern = regexp.MustCompile(`download your file at \S+/([0-9a-f]+)/`)

func uploadFile(t *testing.T, router http.Handler, filename, content string, headers map[string]string) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodPut, "/"+url.PathEscape(filename), strings.NewReader(content))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	m := entryURLPattern.FindStringSubmatch(rec.Body.String())
	require.Len(t, m, 2, "upload response carries the download link")
	return m[1]
}

func errorCode(t *testing.T, body *bytes.Buffer) string {
	t.Helper()
	var resp qurlhttp.ErrorResponse
	require.NoError(t, json.Unmarshal(body.Bytes(), &resp))
	return resp.Error
}

func TestHandler_Index(t *testing.T) {
	router := newTestRouter(t, qurlhttp.HandlerConfig{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "curl -T")
	assert.Contains(t, rec.Body.String(), testBaseURL)
}

func TestHandler_UploadAndDownload(t *testing.T) {
	router := newTestRouter(t, qurlhttp.HandlerConfig{})

	id := uploadFile(t, router, "hello.txt", "hello world", nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+id+"/hello.txt", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello world", rec.Body.String())
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `attachment; filename="hello.txt"`)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")

	// The default budget is a single download.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+id+"/hello.txt", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec.Body))
}

func TestHandler_DownloadBudgetHeader(t *testing.T) {
	router := newTestRouter(t, qurlhttp.HandlerConfig{})

	id := uploadFile(t, router, "multi.txt", "data", map[string]string{"X-Downloads": "2"})

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+id+"/multi.txt", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+id+"/multi.txt", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_TTLHeader(t *testing.T) {
	router := newTestRouter(t, qurlhttp.HandlerConfig{})

	id := uploadFile(t, router, "brief.txt", "x", map[string]string{"X-TTL": "1s"})

	// Within the window the entry serves normally; the TTL itself is
	// covered by the policy tests, here only the header plumbing matters.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+id+"/brief.txt", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_PasswordProtection(t *testing.T) {
	router := newTestRouter(t, qurlhttp.HandlerConfig{})

	id := uploadFile(t, router, "gated.txt", "classified", map[string]string{"X-Password": "hunter2"})
	target := "/" + id + "/gated.txt"

	// No credential at all: the challenge.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "password_required", errorCode(t, rec.Body))

	// Wrong credential via header.
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("X-Password", "wrong")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_password", errorCode(t, rec.Body))

	// Correct credential via POST form.
	form := url.Values{"password": {"hunter2"}}
	req = httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "classified", rec.Body.String())
}

func TestHandler_Upload_MissingContentLength(t *testing.T) {
	router := newTestRouter(t, qurlhttp.HandlerConfig{})

	// A plain reader keeps httptest from inferring a length.
	body := io.NopCloser(strings.NewReader("data"))
	req := httptest.NewRequest(http.MethodPut, "/file.txt", struct{ io.Reader }{body})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusLengthRequired, rec.Code)
	assert.Equal(t, "length_required", errorCode(t, rec.Body))
}

func TestHandler_Upload_TooLarge(t *testing.T) {
	router := newTestRouter(t, qurlhttp.HandlerConfig{MaxUploadSize: 1024})

	req := httptest.NewRequest(http.MethodPut, "/file.txt", strings.NewReader("x"))
	req.ContentLength = 2048
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "too_large", errorCode(t, rec.Body))
}

func TestHandler_Upload_OverlongPassword(t *testing.T) {
	router := newTestRouter(t, qurlhttp.HandlerConfig{})

	req := httptest.NewRequest(http.MethodPut, "/file.txt", strings.NewReader("x"))
	req.Header.Set("X-Password", strings.Repeat("a", 100))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// bcrypt caps the password at 72 bytes; that is the client's error.
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", errorCode(t, rec.Body))
}

func TestHandler_Upload_InvalidFilename(t *testing.T) {
	router := newTestRouter(t, qurlhttp.HandlerConfig{})

	req := httptest.NewRequest(http.MethodPut, "/evil.meta", strings.NewReader("x"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_filename", errorCode(t, rec.Body))
}

func TestHandler_QRCode(t *testing.T) {
	router := newTestRouter(t, qurlhttp.HandlerConfig{})

	id := uploadFile(t, router, "hello.txt", "hi", nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/qr/"+id+"/hello.txt", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	// The QR view is not a download; the budget is untouched.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+id+"/hello.txt", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_QRCode_NotFound(t *testing.T) {
	router := newTestRouter(t, qurlhttp.HandlerConfig{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/qr/deadbeef/hello.txt", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func multipartBody(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHandler_PrettyPrint(t *testing.T) {
	router := newTestRouter(t, qurlhttp.HandlerConfig{})

	body, contentType := multipartBody(t, "config.json", `{"b":1,"a":2}`)
	req := httptest.NewRequest(http.MethodPost, "/pretty", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	m := regexp.MustCompile(`/pretty/([0-9a-f]+)/`).FindStringSubmatch(rec.Body.String())
	require.Len(t, m, 2)
	id := m[1]

	// The view is repeatable; it does not consume the entry.
	for i := 0; i < 2; i++ {
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pretty/"+id+"/config.json", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "    \"a\": 2")
	}
}

func TestHandler_PrettyUpload_UnsupportedFormat(t *testing.T) {
	router := newTestRouter(t, qurlhttp.HandlerConfig{})

	body, contentType := multipartBody(t, "notes.txt", "plain")
	req := httptest.NewRequest(http.MethodPost, "/pretty", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unsupported_format", errorCode(t, rec.Body))
}

func TestHandler_PrettyView_UnsupportedFormat(t *testing.T) {
	router := newTestRouter(t, qurlhttp.HandlerConfig{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pretty/deadbeef/file.txt", nil))
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestHandler_PrettyView_MalformedDocument(t *testing.T) {
	router := newTestRouter(t, qurlhttp.HandlerConfig{})

	body, contentType := multipartBody(t, "broken.json", `{"a":`)
	req := httptest.NewRequest(http.MethodPost, "/pretty", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	m := regexp.MustCompile(`/pretty/([0-9a-f]+)/`).FindStringSubmatch(rec.Body.String())
	require.Len(t, m, 2)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pretty/"+m[1]+"/broken.json", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "parse_error", errorCode(t, rec.Body))
}

var secretURLPattern = regexp.MustCompile(`/secret/([0-9a-f]+)/(\S+)`)

func TestHandler_SecretLifecycle(t *testing.T) {
	router := newTestRouter(t, qurlhttp.HandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/secret", strings.NewReader("the password is tiger"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	m := secretURLPattern.FindStringSubmatch(rec.Body.String())
	require.Len(t, m, 3, "secret response carries the reveal link")
	id, key := m[1], m[2]

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/secret/"+id+"/"+key, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "the password is tiger", rec.Body.String())

	// Burned: the same link is dead.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/secret/"+id+"/"+key, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_SecretWrongKeyBurns(t *testing.T) {
	router := newTestRouter(t, qurlhttp.HandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/secret", strings.NewReader("sealed"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	m := secretURLPattern.FindStringSubmatch(rec.Body.String())
	require.Len(t, m, 3)
	id, key := m[1], m[2]

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/secret/"+id+"/bogus-key", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_key", errorCode(t, rec.Body))

	// The failed attempt destroyed the secret; the right key is too late.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/secret/"+id+"/"+key, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Secret_EmptyBody(t *testing.T) {
	router := newTestRouter(t, qurlhttp.HandlerConfig{})

	req := httptest.NewRequest(http.MethodPost, "/secret", strings.NewReader(""))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_RateLimit(t *testing.T) {
	router := newTestRouter(t, qurlhttp.HandlerConfig{
		RateLimit: qurlhttp.RateLimitConfig{Enabled: true, PerMinute: 2},
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPut, "/file.txt", strings.NewReader("x"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodPut, "/file.txt", strings.NewReader("x"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Downloads stay outside the limit.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_ContextCancellation(t *testing.T) {
	router := newTestRouter(t, qurlhttp.HandlerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodPut, "/file.txt", strings.NewReader("x")).WithContext(ctx)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandler_ContentTypeByExtension(t *testing.T) {
	router := newTestRouter(t, qurlhttp.HandlerConfig{})

	id := uploadFile(t, router, "data.bin", "\x00\x01", map[string]string{"X-Downloads": "5"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/"+id+"/data.bin", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "2", rec.Header().Get("Content-Length"))
}

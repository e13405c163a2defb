// Package http exposes the sharing backend over a chi router: uploads,
// policy-gated downloads, QR codes, pretty-printed views and one-time
// secrets. Routing stays thin; every lifecycle decision lives in the
// core package.
package http

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/qurlsh/qurl"
	"github.com/qurlsh/qurl/pretty"
)

// CORSConfig mirrors the go-chi/cors options surfaced in configuration.
type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// RateLimitConfig bounds mutating requests per client IP.
type RateLimitConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	PerMinute int  `mapstructure:"per_minute"`
}

// HandlerConfig holds everything the handler needs beyond its services.
type HandlerConfig struct {
	BaseURL       string
	MaxUploadSize int64
	RateLimit     RateLimitConfig
	CORS          CORSConfig
}

// Handler provides the HTTP surface over the gate and the vault.
type Handler struct {
	config HandlerConfig
	gate   *qurl.Gate
	vault  *qurl.Vault
}

// NewHandler creates a Handler with the given configuration and services.
func NewHandler(config *HandlerConfig, gate *qurl.Gate, vault *qurl.Vault) *Handler {
	return &Handler{
		config: *config,
		gate:   gate,
		vault:  vault,
	}
}

// Router returns the configured http.Handler. Mutating endpoints sit
// behind the per-IP rate limit; reads are only bounded by retention.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if h.config.CORS.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.config.CORS.AllowedOrigins,
			AllowedMethods:   h.config.CORS.AllowedMethods,
			AllowedHeaders:   h.config.CORS.AllowedHeaders,
			ExposedHeaders:   h.config.CORS.ExposedHeaders,
			AllowCredentials: h.config.CORS.AllowCredentials,
			MaxAge:           h.config.CORS.MaxAge,
		}))
	}

	r.Get("/", h.handleIndex)
	r.Get("/qr/{id}/{filename}", h.handleQR)
	r.Get("/pretty/{id}/{filename}", h.handlePrettyView)
	r.Get("/secret/{id}/{key}", h.handleSecretReveal)
	r.Get("/{id}/{filename}", h.handleFetch)
	r.Post("/{id}/{filename}", h.handleFetch)

	r.Group(func(r chi.Router) {
		if h.config.RateLimit.Enabled {
			r.Use(httprate.LimitByIP(h.config.RateLimit.PerMinute, time.Minute))
		}
		r.Put("/{filename}", h.handleUpload)
		r.Post("/pretty", h.handlePrettyUpload)
		r.Post("/secret", h.handleSecretCreate)
	})

	return r
}

const indexText = `qurl - terminal friendly file sharing
=====================================

Upload:
  curl -T file.txt %[1]s

  # With password
  curl -T file.txt -H "X-Password: secret" %[1]s

  # TTL and download limits (max 7d and 100 downloads)
  curl -T file.txt -H "X-TTL: 1h" %[1]s
  curl -T file.txt -H "X-Downloads: 5" %[1]s

Download:
  curl -O %[1]s/<id>/file.txt

QR code (view on phone):
  %[1]s/qr/<id>/file.txt

Pretty print (JSON/YAML/XML):
  curl -F "file=@config.yaml" %[1]s/pretty

Encrypted secrets (burn after reading):
  echo "secret" | curl -d @- %[1]s/secret

Note: files auto-delete after the first download unless X-Downloads says
otherwise. Uploads are capped at %[2]d MB.
`

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, indexText, h.config.BaseURL, h.config.MaxUploadSize/(1<<20))
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if !qurl.IsValidName(filename) {
		WriteError(w, http.StatusBadRequest, "invalid_filename", "Invalid filename")
		return
	}

	if r.ContentLength < 0 {
		WriteError(w, http.StatusLengthRequired, "length_required", "Missing Content-Length header")
		return
	}
	if r.ContentLength > h.config.MaxUploadSize {
		WriteError(w, http.StatusRequestEntityTooLarge, "too_large",
			fmt.Sprintf("File too large. Max allowed size is %d MB", h.config.MaxUploadSize/(1<<20)))
		return
	}

	opts := qurl.UploadOptions{
		TTL:       qurl.ParseTTL(r.Header.Get("X-TTL")),
		Downloads: qurl.ParseDownloads(r.Header.Get("X-Downloads"), 1),
		Password:  r.Header.Get("X-Password"),
	}

	body := http.MaxBytesReader(w, r.Body, h.config.MaxUploadSize)
	id, err := h.gate.Upload(r.Context(), filename, body, opts)
	if err != nil {
		HandleError(w, err)
		return
	}

	escaped := url.PathEscape(filename)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "You can download your file at %s/%s/%s\nQR code: %s/qr/%s/%s\n",
		h.config.BaseURL, id, escaped, h.config.BaseURL, id, escaped)
}

func (h *Handler) handleFetch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	filename := chi.URLParam(r, "filename")

	password, passwordSet := submittedPassword(r)

	dl, err := h.gate.Open(r.Context(), id, filename, password, passwordSet)
	if err != nil {
		HandleError(w, err)
		return
	}
	// The consequence applies whether or not the client stayed for the
	// whole body; a mid-transfer disconnect still consumes the read.
	defer dl.Commit()

	w.Header().Set("Content-Type", contentTypeFor(filename))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")

	if _, err := io.Copy(w, dl.Content); err != nil {
		slog.Warn("serve interrupted", "id", id, "err", err)
	}
}

func (h *Handler) handleQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	filename := chi.URLParam(r, "filename")

	if !h.gate.Exists(r.Context(), id, filename) {
		WriteError(w, http.StatusNotFound, "not_found", "Not found")
		return
	}

	target := fmt.Sprintf("%s/%s/%s", h.config.BaseURL, id, url.PathEscape(filename))
	png, err := qrcode.Encode(target, qrcode.Medium, 256)
	if err != nil {
		HandleError(w, fmt.Errorf("encode qr: %w", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if _, err := w.Write(png); err != nil {
		slog.Warn("write qr response", "id", id, "err", err)
	}
}

func (h *Handler) handlePrettyUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.config.MaxUploadSize); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "No file uploaded")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "No file uploaded")
		return
	}
	defer func() { _ = file.Close() }()

	if header.Filename == "" || !qurl.IsValidName(header.Filename) {
		WriteError(w, http.StatusBadRequest, "invalid_filename", "Invalid filename")
		return
	}
	if !pretty.Supported(header.Filename) {
		WriteError(w, http.StatusBadRequest, "unsupported_format",
			"Only .json, .yaml, .yml, and .xml files are allowed")
		return
	}

	id, err := h.gate.Upload(r.Context(), header.Filename, file, qurl.UploadOptions{})
	if err != nil {
		HandleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "You can access your pretty-printed file at %s/pretty/%s/%s\n",
		h.config.BaseURL, id, url.PathEscape(header.Filename))
}

func (h *Handler) handlePrettyView(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	filename := chi.URLParam(r, "filename")

	if !pretty.Supported(filename) {
		WriteError(w, http.StatusUnsupportedMediaType, "unsupported_format", "Unsupported file format")
		return
	}

	data, err := h.gate.Peek(r.Context(), id, filename)
	if err != nil {
		HandleError(w, err)
		return
	}

	formatted, err := pretty.Format(filename, data)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "parse_error", "Error parsing file")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, formatted)
}

func (h *Handler) handleSecretCreate(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, h.config.MaxUploadSize)
	data, err := io.ReadAll(body)
	if err != nil {
		WriteError(w, http.StatusRequestEntityTooLarge, "too_large", "Secret too large")
		return
	}
	if len(data) == 0 {
		WriteError(w, http.StatusBadRequest, "invalid_request", "No content provided")
		return
	}

	id, key, err := h.vault.Store(r.Context(), data)
	if err != nil {
		HandleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Secret link (burn after reading): %s/secret/%s/%s\n", h.config.BaseURL, id, key)
}

func (h *Handler) handleSecretReveal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	key := chi.URLParam(r, "key")

	plaintext, err := h.vault.Retrieve(r.Context(), id, key)
	if err != nil {
		HandleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	if _, err := w.Write(plaintext); err != nil {
		slog.Warn("write secret response", "id", id, "err", err)
	}
}

// submittedPassword extracts the credential from a POST form field or the
// X-Password header. The second return distinguishes "no credential"
// (challenge) from "wrong credential" (authorization failure).
func submittedPassword(r *http.Request) (string, bool) {
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil {
			if vals, ok := r.PostForm["password"]; ok && len(vals) > 0 {
				return vals[0], true
			}
		}
	}
	if vals, ok := r.Header["X-Password"]; ok && len(vals) > 0 {
		return vals[0], true
	}
	return "", false
}

func contentTypeFor(name string) string {
	ext := filepath.Ext(name)
	contentType := mime.TypeByExtension(ext)

	if contentType == "" {
		return "application/octet-stream"
	}

	return contentType
}

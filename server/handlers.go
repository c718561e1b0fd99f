package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	contentdrop "github.com/wolfeidau/content-drop"
	"github.com/wolfeidau/content-drop/accesslog"
	"github.com/wolfeidau/content-drop/telemetry"
)

//go:embed index.html
var indexPage []byte

// cors adds the CORS header every response carries.
func cors(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
}

// plainError writes a short plain-text error body with CORS.
func plainError(w http.ResponseWriter, code int, msg string) {
	cors(w.Header())
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, msg)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	cors(w.Header())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexPage)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	plainError(w, http.StatusNotFound, "Invalid path")
}

// handleOptions answers CORS preflight requests for the given method.
func (s *Server) handleOptions(allowedMethod string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		cors(h)
		h.Set("Access-Control-Allow-Methods", allowedMethod)
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		h.Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusOK)
	}
}

// handlePost accepts an upload and replies with the generated key. The
// 201 is sent as soon as the record is installed in the cache; the disk
// write runs on the I/O pool and does not delay the response.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		plainError(w, http.StatusNotFound, "Invalid path")
		return
	}
	if len(body) == 0 {
		plainError(w, http.StatusBadRequest, "Missing content")
		return
	}

	ip := clientIP(r)
	if s.postLimiter.Check(ip) {
		telemetry.RecordRateLimited(r.Context(), s.postLimiter.Scope())
		plainError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	mediaType := r.Header.Get("Content-Type")
	if mediaType == "" {
		mediaType = contentdrop.DefaultMediaType
	}

	key := s.tokens.Generate()

	// A body the client already gzipped is stored as-is. Otherwise
	// compression happens eagerly only when the raw size is over the
	// limit, because the size check runs against the stored form;
	// everything else compresses later on the I/O worker.
	alreadyCompressed := r.Header.Get("Content-Encoding") == "gzip"
	compressLater := false
	if !alreadyCompressed {
		if int64(len(body)) > s.maxContentLength {
			body = contentdrop.Compress(body)
		} else {
			compressLater = true
		}
	}

	if int64(len(body)) > s.maxContentLength {
		plainError(w, http.StatusRequestEntityTooLarge, "Content too large")
		return
	}

	expiresAt := s.now().UnixMilli() + s.lifetime.Milliseconds()

	s.access.Post(accesslog.PostEntry{
		Key:                 key,
		MediaType:           mediaType,
		IP:                  ip,
		UserAgent:           r.UserAgent(),
		Size:                len(body),
		ContentHash:         contentdrop.HashBytes(body),
		CompressionDeferred: compressLater,
	})

	promise := s.cache.Put(key)
	s.ioPool.Submit(func() {
		s.store.Save(key, mediaType, body, expiresAt, compressLater, promise.Resolve)
	})

	h := w.Header()
	cors(h)
	h.Set("Location", key)
	h.Set("Expiry", formatExpiry(expiresAt))
	h.Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"key": key})
}

// handleGet serves stored content, from the cache when possible. A
// client that does not accept gzip gets the body decompressed in
// process.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")
	if strings.TrimSpace(key) == "" ||
		strings.Contains(key, ".") ||
		contentdrop.InvalidTokenPattern.MatchString(key) {
		plainError(w, http.StatusNotFound, "Invalid path")
		return
	}

	ip := clientIP(r)
	if s.readLimiter.Check(ip) {
		telemetry.RecordRateLimited(r.Context(), s.readLimiter.Scope())
		plainError(w, http.StatusTooManyRequests, "Rate limit exceeded")
		return
	}

	acceptsGzip := acceptsGzip(r.Header.Get("Accept-Encoding"))

	s.access.Read(accesslog.ReadEntry{
		Key:         key,
		IP:          ip,
		UserAgent:   r.UserAgent(),
		AcceptsGzip: acceptsGzip,
	})

	content, err := s.cache.Get(r.Context(), key)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("loading content", "key", key, "error", err)
		}
		plainError(w, http.StatusNotFound, "Invalid path")
		return
	}
	if content.IsEmpty() || len(content.Body) == 0 {
		plainError(w, http.StatusNotFound, "Invalid path")
		return
	}

	expires := formatExpiry(content.Expiry)

	if acceptsGzip {
		h := w.Header()
		cors(h)
		h.Set("Cache-Control", "public, max-age=86400")
		h.Set("Content-Encoding", "gzip")
		h.Set("Expires", expires)
		h.Set("Content-Type", content.MediaType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(content.Body)
		return
	}

	plain, err := contentdrop.Decompress(content.Body)
	if err != nil {
		plainError(w, http.StatusNotFound, "Unable to uncompress data")
		return
	}

	h := w.Header()
	cors(h)
	h.Set("Cache-Control", "public, max-age=86400")
	h.Set("Expires", expires)
	h.Set("Content-Type", content.MediaType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(plain)
}

// clientIP prefers the x-real-ip header (set by a trusted reverse
// proxy) over the socket address.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("x-real-ip"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// acceptsGzip reports whether the Accept-Encoding header lists gzip as
// an exact ", "-separated token.
func acceptsGzip(header string) bool {
	if header == "" {
		return false
	}
	for _, token := range strings.Split(header, ", ") {
		if token == "gzip" {
			return true
		}
	}
	return false
}

// formatExpiry renders a millisecond epoch instant as an RFC 1123 date.
func formatExpiry(expiryMillis int64) string {
	return time.UnixMilli(expiryMillis).UTC().Format(http.TimeFormat)
}

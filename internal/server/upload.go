// Package server implements the file upload endpoint: a stateless
// store-and-return-URL operation whose result travels through the relay as
// an opaque URL inside a file message.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// allowedUploadTypes is the MIME allow-list for uploads: common images and
// documents. Types are checked against the sniffed content, not the header
// the client sends.
var allowedUploadTypes = map[string]struct{}{
	"image/png":          {},
	"image/jpeg":         {},
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
}

type uploadError struct {
	Message string `json:"message"`
}

func writeUploadError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(uploadError{Message: message})
}

// EnsureUploadDir creates the configured upload directory if it is missing.
func EnsureUploadDir() error {
	cfg := currentConfig()
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return fmt.Errorf("create upload directory %s: %w", cfg.UploadDir, err)
	}
	return nil
}

// UploadHandler accepts a single multipart file, stores it under a
// collision-resistant name, and returns its public URL. Failures are
// reported synchronously to the uploader; nothing is ever relayed.
func UploadHandler(w http.ResponseWriter, r *http.Request) {
	applyCORS(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		writeUploadError(w, http.StatusMethodNotAllowed, "Upload endpoint only accepts POST requests")
		return
	}

	cfg := currentConfig()
	r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxUploadSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			writeUploadError(w, http.StatusRequestEntityTooLarge, "File exceeds the maximum upload size")
			return
		}
		writeUploadError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Printf("Error closing uploaded file: %v", err)
		}
	}()

	detected, err := mimetype.DetectReader(file)
	if err != nil {
		writeUploadError(w, http.StatusInternalServerError, "Upload failed")
		return
	}
	if _, ok := allowedUploadTypes[detected.String()]; !ok {
		writeUploadError(w, http.StatusUnsupportedMediaType, "File type not allowed")
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		writeUploadError(w, http.StatusInternalServerError, "Upload failed")
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	filename := fmt.Sprintf("%d-%s%s", time.Now().UnixMilli(), uuid.NewString(), ext)

	if err := storeUpload(cfg.UploadDir, filename, file); err != nil {
		log.Printf("Upload error: %v", err)
		writeUploadError(w, http.StatusInternalServerError, "Upload failed")
		return
	}

	incUploads()
	log.Printf("Stored upload %s (%s, %d bytes) from %s", filename, detected.String(), header.Size, r.RemoteAddr)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(UploadResult{
		URL:      publicURL(r, cfg, filename),
		Filename: filename,
	})
}

func storeUpload(dir, filename string, src io.Reader) error {
	dst, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(dst.Name())
		return fmt.Errorf("write upload file: %w", err)
	}
	return dst.Close()
}

// publicURL builds the fetchable URL for a stored file, preferring the
// configured base URL over the request's own host.
func publicURL(r *http.Request, cfg Config, filename string) string {
	base := cfg.PublicBaseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return strings.TrimSuffix(base, "/") + "/uploads/" + filename
}

// UploadsHandler serves previously stored files under /uploads/.
func UploadsHandler() http.Handler {
	return http.StripPrefix("/uploads/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		applyCORS(w, r)
		cfg := currentConfig()
		http.FileServer(http.Dir(cfg.UploadDir)).ServeHTTP(w, r)
	}))
}

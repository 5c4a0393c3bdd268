package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngBytes is a minimal valid PNG signature plus padding so content sniffing
// identifies the payload as image/png.
func pngBytes() []byte {
	sig := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	return append(sig, bytes.Repeat([]byte{0}, 64)...)
}

func configureUploads(t *testing.T, maxSize int64) string {
	t.Helper()
	dir := t.TempDir()
	cfg := NewConfig()
	cfg.UploadDir = dir
	if maxSize > 0 {
		cfg.MaxUploadSize = maxSize
	}
	SetConfig(cfg)
	t.Cleanup(func() { SetConfig(nil) })
	return dir
}

func multipartUpload(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	r := httptest.NewRequest(http.MethodPost, "/upload", &body)
	r.Header.Set("Content-Type", writer.FormDataContentType())
	return r
}

func TestUploadStoresFileAndReturnsURL(t *testing.T) {
	dir := configureUploads(t, 0)

	w := httptest.NewRecorder()
	UploadHandler(w, multipartUpload(t, "photo.PNG", pngBytes()))

	require.Equal(t, http.StatusOK, w.Code)

	var result UploadResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, strings.HasSuffix(result.Filename, ".png"), "extension lowercased: %s", result.Filename)
	assert.Contains(t, result.URL, "/uploads/"+result.Filename)

	stored, err := os.ReadFile(filepath.Join(dir, result.Filename))
	require.NoError(t, err)
	assert.Equal(t, pngBytes(), stored)
}

func TestUploadFilenamesAreCollisionResistant(t *testing.T) {
	configureUploads(t, 0)

	names := make(map[string]struct{})
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		UploadHandler(w, multipartUpload(t, "photo.png", pngBytes()))
		require.Equal(t, http.StatusOK, w.Code)

		var result UploadResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		names[result.Filename] = struct{}{}
	}
	assert.Len(t, names, 5)
}

func TestUploadRejectsDisallowedType(t *testing.T) {
	dir := configureUploads(t, 0)

	w := httptest.NewRecorder()
	UploadHandler(w, multipartUpload(t, "notes.txt", []byte("plain text, not an allowed type")))

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected upload must not be stored")
}

func TestUploadSniffsContentNotFilename(t *testing.T) {
	configureUploads(t, 0)

	// Executable content behind an innocent extension is still rejected.
	w := httptest.NewRecorder()
	UploadHandler(w, multipartUpload(t, "image.png", []byte("#!/bin/sh\necho hi\n")))

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	configureUploads(t, 128)

	w := httptest.NewRecorder()
	UploadHandler(w, multipartUpload(t, "big.png", append(pngBytes(), bytes.Repeat([]byte{1}, 4096)...)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestUploadRequiresFileField(t *testing.T) {
	configureUploads(t, 0)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("other", "value"))
	require.NoError(t, writer.Close())

	r := httptest.NewRequest(http.MethodPost, "/upload", &body)
	r.Header.Set("Content-Type", writer.FormDataContentType())

	w := httptest.NewRecorder()
	UploadHandler(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadRejectsNonPostMethods(t *testing.T) {
	configureUploads(t, 0)

	w := httptest.NewRecorder()
	UploadHandler(w, httptest.NewRequest(http.MethodGet, "/upload", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestUploadPreflightSucceeds(t *testing.T) {
	configureUploads(t, 0)

	w := httptest.NewRecorder()
	UploadHandler(w, httptest.NewRequest(http.MethodOptions, "/upload", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestUploadsHandlerServesStoredFile(t *testing.T) {
	dir := configureUploads(t, 0)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "123-abc.png"), pngBytes(), 0o644))

	r := httptest.NewRequest(http.MethodGet, "/uploads/123-abc.png", nil)
	w := httptest.NewRecorder()
	UploadsHandler().ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	stored, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Equal(t, pngBytes(), stored)
}

func TestPublicURLPrefersConfiguredBase(t *testing.T) {
	cfg := Config{PublicBaseURL: "https://chat.example/"}
	r := httptest.NewRequest(http.MethodPost, "/upload", nil)

	url := publicURL(r, cfg, "f.png")
	assert.Equal(t, "https://chat.example/uploads/f.png", url)
}

func TestPublicURLFallsBackToRequestHost(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "http://relay.local:8080/upload", nil)

	url := publicURL(r, Config{}, "f.png")
	assert.Equal(t, "http://relay.local:8080/uploads/f.png", url)
}

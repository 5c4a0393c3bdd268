package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"chat-relay/internal/server"
	"chat-relay/test/testhelpers"
)

func TestHealthEndpoint(t *testing.T) {
	ts := startRelay(t)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	if !strings.Contains(string(body), "running") {
		t.Errorf("Unexpected health body: %s", body)
	}
}

func TestMetricsEndpointExposesRelayMetrics(t *testing.T) {
	ts := startRelay(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	for _, metric := range []string{"chat_relay_connections", "chat_relay_rooms", "chat_relay_events_delivered_total"} {
		if !strings.Contains(string(body), metric) {
			t.Errorf("Metrics output missing %s", metric)
		}
	}
}

func TestUploadRoundTrip(t *testing.T) {
	ts := startRelay(t)

	pngSig := append([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, bytes.Repeat([]byte{0}, 64)...)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "photo.png")
	if err != nil {
		t.Fatalf("Failed to create form file: %v", err)
	}
	if _, err := part.Write(pngSig); err != nil {
		t.Fatalf("Failed to write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close writer: %v", err)
	}

	resp, err := http.Post(ts.URL+"/upload", writer.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("Upload request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)

	var result server.UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode upload response: %v", err)
	}

	// The returned URL must be fetchable and serve back the same bytes.
	fetched, err := http.Get(result.URL)
	if err != nil {
		t.Fatalf("Fetch of uploaded file failed: %v", err)
	}
	defer func() { _ = fetched.Body.Close() }()
	testhelpers.AssertStatusCode(t, fetched, http.StatusOK)

	stored, err := io.ReadAll(fetched.Body)
	if err != nil {
		t.Fatalf("Failed to read fetched file: %v", err)
	}
	if !bytes.Equal(stored, pngSig) {
		t.Error("Fetched file does not match uploaded bytes")
	}
}

func TestHubShutdownCompletes(t *testing.T) {
	h := server.NewHub()
	go h.Run()

	if err := h.Shutdown(time.Second); err != nil {
		t.Fatalf("Hub shutdown failed: %v", err)
	}
}

func TestHTTPServerGracefulShutdown(t *testing.T) {
	httpServer := server.CreateServer("127.0.0.1:0", server.SetupRoutes())

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.StartServer(httpServer)
	}()
	time.Sleep(50 * time.Millisecond)

	if err := server.ShutdownServer(httpServer, time.Second); err != nil {
		t.Fatalf("HTTP shutdown failed: %v", err)
	}

	select {
	case err := <-errCh:
		if err != http.ErrServerClosed {
			t.Fatalf("Expected ErrServerClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Server did not exit after shutdown")
	}
}

// Package testhelpers provides shared utilities for the relay's integration
// tests: dialing websocket clients, sending events, and asserting on the
// frames the server emits.
package testhelpers

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chat-relay/internal/server"
)

// DialWebSocket connects a websocket client to the test server's /ws
// endpoint using the given Origin header. The connection is closed when the
// test finishes.
func DialWebSocket(t *testing.T, serverURL, origin string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(serverURL, "http", "ws", 1) + "/ws"
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("Failed to dial %s: %v", wsURL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendEvent marshals and sends one event envelope on the connection.
func SendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("Failed to marshal %s payload: %v", event, err)
	}
	frame, err := json.Marshal(server.Envelope{Event: event, Data: raw})
	if err != nil {
		t.Fatalf("Failed to marshal %s envelope: %v", event, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("Failed to send %s: %v", event, err)
	}
}

// ReadEnvelope reads the next frame from the connection, failing the test if
// none arrives within the timeout.
func ReadEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) server.Envelope {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}

	var env server.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("Failed to decode frame %s: %v", raw, err)
	}
	return env
}

// ExpectCount reads the next frame and asserts it is a user_count_update
// carrying the expected member count.
func ExpectCount(t *testing.T, conn *websocket.Conn, expected int) {
	t.Helper()

	env := ReadEnvelope(t, conn, 2*time.Second)
	if env.Event != server.EventUserCountUpdate {
		t.Fatalf("Expected %s, got %s", server.EventUserCountUpdate, env.Event)
	}
	var count int
	if err := json.Unmarshal(env.Data, &count); err != nil {
		t.Fatalf("Failed to decode count: %v", err)
	}
	if count != expected {
		t.Fatalf("Expected member count %d, got %d", expected, count)
	}
}

// ExpectNoFrame asserts that no frame arrives on the connection within the
// timeout window.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no frame, but received %s", raw)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of frame: %v", err)
}

// AssertStatusCode fails the test unless the response carries the expected
// HTTP status.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// Package server coordinates connection sessions, room membership, and event
// fan-out for the relay via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// session is the per-connection record owned by the hub: the transport client
// and the room it currently occupies (empty until the first join_room). Room
// state is kept here rather than on the websocket connection object.
type session struct {
	client *Client
	room   string
}

// inboundEvent pairs a decoded frame with the client that sent it.
type inboundEvent struct {
	client *Client
	env    Envelope
}

// Hub owns the room registry and all connection sessions. Registration,
// disconnection, and every inbound event are funneled through one event loop,
// which is the single serialization point over the registry: concurrent joins
// and leaves on the same room can never race the member count.
type Hub struct {
	registry   *Registry
	sessions   map[string]*session
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundEvent
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a hub with an empty registry, ready to accept connections.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		registry:   NewRegistry(),
		sessions:   make(map[string]*session),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundEvent, 64),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

var hub = NewHub()

// GetHub returns the process-wide hub instance for wiring and shutdown.
func GetHub() *Hub {
	return hub
}

// GetRegisterChan returns the channel used to hand new clients to the hub.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used to report closed connections.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// MemberCount reports the live membership size of a room; 0 if the room does
// not exist. Safe to call from any goroutine.
func (h *Hub) MemberCount(room string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.registry.MemberCount(room)
}

// CurrentRoom reports the room the connection currently occupies, or "" if it
// has none or is unknown. Safe to call from any goroutine.
func (h *Hub) CurrentRoom(connID string) string {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if s, ok := h.sessions[connID]; ok {
		return s.room
	}
	return ""
}

// Run starts the hub's event loop. It should be called in its own goroutine;
// it returns only when Shutdown cancels the hub context.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Printf("Received nil client registration; skipping")
				continue
			}
			h.addSession(client)

		case client := <-h.unregister:
			h.dropSession(client)

		case ev := <-h.inbound:
			h.route(ev)
		}
	}
}

// addSession creates the session record for a freshly upgraded connection
// and launches its transport pumps.
func (h *Hub) addSession(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.sessions[client.id] = &session{client: client}
	total := len(h.sessions)
	h.mutex.Unlock()

	incConnections()
	log.Printf("Client %s connected from %s. Total clients: %d", client.id, client.addr, total)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// dropSession is the terminal transition for a connection: an implicit leave
// of its current room followed by removal of the session record. Events for
// the connection arriving after this point find no session and are ignored.
func (h *Hub) dropSession(client *Client) {
	h.mutex.Lock()
	s, ok := h.sessions[client.id]
	if !ok {
		h.mutex.Unlock()
		return
	}
	room := s.room
	if room != "" {
		h.registry.Leave(room, client.id)
	}
	delete(h.sessions, client.id)
	client.closed = true
	total := len(h.sessions)
	setRooms(h.registry.RoomCount())
	h.mutex.Unlock()

	close(client.send)
	decConnections()
	log.Printf("Client %s disconnected. Total clients: %d", client.id, total)

	if room != "" {
		h.broadcastCount(room)
	}
}

// route applies one inbound event against the registry and sessions and
// performs the resulting fan-out. Unknown events are logged and dropped.
func (h *Hub) route(ev inboundEvent) {
	switch ev.env.Event {
	case EventJoinRoom:
		if room, ok := decodeRoomName(ev); ok {
			h.handleJoin(ev.client, room)
		}
	case EventLeaveRoom:
		if room, ok := decodeRoomName(ev); ok {
			h.handleLeave(ev.client, room)
		}
	case EventSendMessage:
		h.handleMessage(ev.client, ev.env.Data)
	case EventTyping:
		h.handlePresence(ev.client, ev.env.Data, EventUserTyping)
	case EventStopTyping:
		h.handlePresence(ev.client, ev.env.Data, EventUserStoppedTyping)
	default:
		log.Printf("Unknown event %q from %s; dropping", ev.env.Event, ev.client.addr)
	}
}

func decodeRoomName(ev inboundEvent) (string, bool) {
	var room string
	if err := json.Unmarshal(ev.env.Data, &room); err != nil || room == "" {
		log.Printf("Invalid %s payload from %s", ev.env.Event, ev.client.addr)
		return "", false
	}
	return room, true
}

// handleJoin moves the connection into the named room. A connection occupies
// at most one room, so a current room is left strictly before the new join;
// the connection never transiently appears in both.
func (h *Hub) handleJoin(client *Client, room string) {
	h.mutex.Lock()
	s, ok := h.sessions[client.id]
	if !ok {
		h.mutex.Unlock()
		return
	}
	if s.room != "" {
		h.registry.Leave(s.room, client.id)
	}
	h.registry.Join(room, client.id)
	s.room = room
	setRooms(h.registry.RoomCount())
	h.mutex.Unlock()

	// Count is authoritative server state, so the joiner is included.
	h.broadcastCount(room)
}

// handleLeave removes the connection from the named room. The session's
// current room is cleared only when it matches, so leaving a room the
// connection is not in stays a silent no-op.
func (h *Hub) handleLeave(client *Client, room string) {
	h.mutex.Lock()
	s, ok := h.sessions[client.id]
	if !ok {
		h.mutex.Unlock()
		return
	}
	h.registry.Leave(room, client.id)
	if s.room == room {
		s.room = ""
	}
	setRooms(h.registry.RoomCount())
	h.mutex.Unlock()

	h.broadcastCount(room)
}

// handleMessage relays a chat message verbatim to every other member of the
// room named in the payload. The declared room is not cross-checked against
// the sender's session.
func (h *Hub) handleMessage(client *Client, data json.RawMessage) {
	var target struct {
		Room string `json:"room"`
	}
	if err := json.Unmarshal(data, &target); err != nil || target.Room == "" {
		log.Printf("Invalid send_message payload from %s", client.addr)
		return
	}

	frame, err := json.Marshal(Envelope{Event: EventReceiveMessage, Data: data})
	if err != nil {
		log.Printf("Error framing message from %s: %v", client.addr, err)
		return
	}
	h.emitToRoom(target.Room, client, frame)
}

// handlePresence relays a typing indicator to every other member of the named
// room, carrying only the sender's identity.
func (h *Hub) handlePresence(client *Client, data json.RawMessage, outEvent string) {
	var p Presence
	if err := json.Unmarshal(data, &p); err != nil || p.Room == "" {
		log.Printf("Invalid %s payload from %s", outEvent, client.addr)
		return
	}
	room := p.Room
	p.Room = ""
	h.emitToRoom(room, client, mustMarshalEnvelope(outEvent, p))
}

// broadcastCount sends the room's exact member count to every member,
// including whoever triggered the change. An empty room is a no-op.
func (h *Hub) broadcastCount(room string) {
	h.mutex.RLock()
	count := h.registry.MemberCount(room)
	h.mutex.RUnlock()
	if count == 0 {
		return
	}
	h.emitToRoom(room, nil, mustMarshalEnvelope(EventUserCountUpdate, count))
}

// emitToRoom delivers a frame to every member of the room except the sender.
// A nil sender means deliver to everyone. Members whose send buffers are full
// are dropped from the hub afterwards, like any other dead connection.
func (h *Hub) emitToRoom(room string, sender *Client, frame []byte) {
	h.mutex.RLock()
	ids := h.registry.Members(room)
	targets := make([]*Client, 0, len(ids))
	for _, id := range ids {
		s, ok := h.sessions[id]
		if !ok {
			continue
		}
		if sender != nil && s.client == sender {
			continue
		}
		targets = append(targets, s.client)
	}
	h.mutex.RUnlock()

	var stalled []*Client
	delivered := 0
	for _, client := range targets {
		if h.safeSend(client, frame) {
			delivered++
		} else {
			stalled = append(stalled, client)
		}
	}
	if delivered > 0 {
		addDelivered(delivered)
	}
	for _, client := range stalled {
		log.Printf("Client %s dropped due to full send buffer", client.id)
		h.dropSession(client)
	}
}

// safeSend enqueues a frame on the client's send channel without blocking.
// It returns false when the client is gone or its buffer is full.
func (h *Hub) safeSend(client *Client, frame []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	s, ok := h.sessions[client.id]
	if !ok || s.client.closed {
		return false
	}

	select {
	case client.send <- frame:
		return true
	default:
		return false
	}
}

// closeAllClients closes every active websocket connection during shutdown.
func (h *Hub) closeAllClients() {
	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.sessions))
	for _, s := range h.sessions {
		clients = append(clients, s.client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				log.Printf("Error closing client connection from %s: %v", client.addr, err)
			}
		}
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown stops the event loop, closes all connections, and waits for the
// per-connection goroutines to finish or the timeout to expire.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

package main

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRelayServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &Config{
		queueSize:      16,
		maxMessageSize: 4096,
		idleTimeout:    time.Minute,
	}

	errs := make(chan error, 64)
	server := httptest.NewServer(newServeMux(cfg, errs))
	t.Cleanup(server.Close)

	return server
}

func dialRelay(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func sendJoin(t *testing.T, conn *websocket.Conn, username string) {
	t.Helper()

	frame, err := newPresenceFrame(presenceJoin, username)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	return frame
}

func readPresence(t *testing.T, conn *websocket.Conn) PresencePayload {
	t.Helper()

	var envelope Envelope
	require.NoError(t, json.Unmarshal(readFrame(t, conn), &envelope))
	require.Equal(t, UserPresence, envelope.Type)

	var presence PresencePayload
	require.NoError(t, json.Unmarshal(envelope.Payload, &presence))

	return presence
}

// The scenario from the protocol contract: two clients join, one chats,
// the other disconnects.
func TestRelay_ChatScenario(t *testing.T) {
	server := newRelayServer(t)

	c1 := dialRelay(t, server)
	sendJoin(t, c1, "Alice")
	waitForJoined(t, server, 1)

	c2 := dialRelay(t, server)
	waitForConnections(t, server, 2)
	sendJoin(t, c2, "Bob")

	// C1 hears about Bob. C2 joined after Alice, so it hears nothing -
	// there is no history replay.
	presence := readPresence(t, c1)
	assert.Equal(t, presenceJoin, presence.Type)
	assert.Equal(t, "Bob", presence.Username)

	// C1's chat arrives at C2 byte-for-byte.
	chat := []byte(`{"type":"chat","payload":{"id":"1","username":"Alice","message":"hi","timestamp":1000}}`)
	require.NoError(t, c1.WriteMessage(websocket.TextMessage, chat))
	assert.Equal(t, chat, readFrame(t, c2))

	// C1 never receives an echo: its next inbound frame is Bob's reply,
	// not its own "hi".
	reply := []byte(`{"type":"chat","payload":{"id":"2","username":"Bob","message":"hey","timestamp":1001}}`)
	require.NoError(t, c2.WriteMessage(websocket.TextMessage, reply))
	assert.Equal(t, reply, readFrame(t, c1))

	// C2 disconnects; C1 observes exactly one leave event.
	require.NoError(t, c2.Close())
	presence = readPresence(t, c1)
	assert.Equal(t, presenceLeave, presence.Type)
	assert.Equal(t, "Bob", presence.Username)
}

func TestRelay_MalformedFrameKeepsConnectionOpen(t *testing.T) {
	server := newRelayServer(t)

	c1 := dialRelay(t, server)
	sendJoin(t, c1, "Alice")
	waitForJoined(t, server, 1)

	c2 := dialRelay(t, server)
	waitForConnections(t, server, 2)
	sendJoin(t, c2, "Bob")
	readPresence(t, c1) // Bob's join

	// Junk is dropped without closing the connection...
	require.NoError(t, c1.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat"}`)))
	require.NoError(t, c1.WriteMessage(websocket.TextMessage, []byte(`not json`)))

	// ...so a valid chat from the same connection still goes through.
	chat := []byte(`{"type":"chat","payload":{"id":"3","username":"Alice","message":"still here","timestamp":1002}}`)
	require.NoError(t, c1.WriteMessage(websocket.TextMessage, chat))
	assert.Equal(t, chat, readFrame(t, c2))
}

func TestRelay_RejectedJoinKeepsConnectionOpen(t *testing.T) {
	server := newRelayServer(t)

	c1 := dialRelay(t, server)
	sendJoin(t, c1, "Alice")

	c2 := dialRelay(t, server)
	waitForConnections(t, server, 2)
	sendJoin(t, c2, strings.Repeat("x", 21))

	// The oversized join was dropped with no presence broadcast, and the
	// connection stayed open for a second attempt.
	sendJoin(t, c2, "Bob")
	presence := readPresence(t, c1)
	assert.Equal(t, "Bob", presence.Username)
}

func TestRelay_AnonymousConnectionReceivesBroadcasts(t *testing.T) {
	server := newRelayServer(t)

	c1 := dialRelay(t, server)
	sendJoin(t, c1, "Alice")
	waitForJoined(t, server, 1)

	// Never joins.
	c2 := dialRelay(t, server)
	waitForConnections(t, server, 2)

	chat := []byte(`{"type":"chat","payload":{"id":"4","username":"Alice","message":"anyone there","timestamp":1003}}`)
	require.NoError(t, c1.WriteMessage(websocket.TextMessage, chat))
	assert.Equal(t, chat, readFrame(t, c2))
}

func TestRelay_AnonymousDisconnectIsSilent(t *testing.T) {
	server := newRelayServer(t)

	c1 := dialRelay(t, server)
	sendJoin(t, c1, "Alice")

	anon := dialRelay(t, server)
	waitForConnections(t, server, 2)
	require.NoError(t, anon.Close())
	waitForConnections(t, server, 1)

	c2 := dialRelay(t, server)
	sendJoin(t, c2, "Bob")

	// The first frame C1 sees is Bob's join - no leave was emitted for
	// the connection that never joined.
	presence := readPresence(t, c1)
	assert.Equal(t, presenceJoin, presence.Type)
	assert.Equal(t, "Bob", presence.Username)
}

/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// Router classifies inbound frames and decides the fan-out set. The wire
// protocol has no error or ack frames, so every invalid input is dropped
// silently and the connection stays open.
//
// Connections that have not yet joined still receive broadcasts, but
// their chat and game_state frames are dropped until a join succeeds.
type Router struct {
	cfg         *Config
	registry    *Registry
	broadcaster *Broadcaster
}

func newRouter(cfg *Config, registry *Registry, broadcaster *Broadcaster) *Router {
	return &Router{
		cfg:         cfg,
		registry:    registry,
		broadcaster: broadcaster,
	}
}

// handleInbound processes one raw frame from a connection. Frames are
// relayed byte-for-byte - the router only ever forwards or drops, never
// rewrites.
func (rt *Router) handleInbound(id string, frame []byte) {
	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		logf(rt.cfg, "RELAY: Dropped malformed frame from %s: %v", id, err)
		return
	}

	switch envelope.Type {
	case UserPresence:
		rt.handleJoin(id, envelope.Payload)
	case ChatMessage:
		rt.handleChat(id, frame, envelope.Payload)
	case GameState:
		rt.handleGameState(id, frame)
	default:
		logf(rt.cfg, "RELAY: Dropped frame with unknown type %q from %s", envelope.Type, id)
	}
}

// handleJoin processes inbound user_presence frames. Only "join" is
// accepted from clients; leave events are always server-generated, so a
// client cannot announce another user's departure.
func (rt *Router) handleJoin(id string, payload json.RawMessage) {
	var presence PresencePayload
	if err := json.Unmarshal(payload, &presence); err != nil || presence.Type != presenceJoin {
		logf(rt.cfg, "RELAY: Dropped presence frame from %s", id)
		return
	}

	if err := rt.registry.setUsername(id, presence.Username); err != nil {
		logf(rt.cfg, "RELAY: Rejected join from %s: %v", id, err)
		return
	}

	username, ok := rt.registry.username(id)
	if !ok {
		// Connection went away between the set and the lookup.
		return
	}

	frame, err := newPresenceFrame(presenceJoin, username)
	if err != nil {
		logf(rt.cfg, "RELAY: Failed to build join frame for %s: %v", id, err)
		return
	}

	logf(rt.cfg, "RELAY: %q joined as %s", username, id)

	// The sender already knows it joined; notify everyone else.
	rt.broadcaster.broadcast(rt.registry.listExcept(id), frame)
}

// handleChat validates a chat frame and relays it unmodified to every
// other connection. The sender renders its own message optimistically
// and must never receive an echo.
func (rt *Router) handleChat(id string, frame []byte, payload json.RawMessage) {
	if _, joined := rt.registry.username(id); !joined {
		logf(rt.cfg, "RELAY: Dropped chat from %s before join", id)
		return
	}

	var chat ChatPayload
	if err := json.Unmarshal(payload, &chat); err != nil {
		logf(rt.cfg, "RELAY: Dropped malformed chat from %s: %v", id, err)
		return
	}

	username := strings.TrimSpace(chat.Username)
	message := strings.TrimSpace(chat.Message)

	switch {
	case username == "" || utf8.RuneCountInString(username) > maxUsernameLength:
		logf(rt.cfg, "RELAY: Dropped chat with invalid username from %s", id)
		return
	case message == "" || utf8.RuneCountInString(message) > maxMessageLength:
		logf(rt.cfg, "RELAY: Dropped chat with invalid message from %s", id)
		return
	}

	rt.broadcaster.broadcast(rt.registry.listExcept(id), frame)
}

// handleGameState forwards game_state frames verbatim. No game uses the
// type yet; the payload is opaque to the relay and stays that way.
func (rt *Router) handleGameState(id string, frame []byte) {
	if _, joined := rt.registry.username(id); !joined {
		logf(rt.cfg, "RELAY: Dropped game state from %s before join", id)
		return
	}

	rt.broadcaster.broadcast(rt.registry.listExcept(id), frame)
}

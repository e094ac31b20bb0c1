/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
)

// Every frame on the wire is one envelope. Payloads are kept as raw JSON
// so relayed frames are forwarded byte-for-byte, never re-encoded.
type MessageType string

const (
	ChatMessage  MessageType = "chat"
	GameState    MessageType = "game_state"
	UserPresence MessageType = "user_presence"
)

type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ChatPayload is the payload of a "chat" envelope. The id is assigned by
// the producer and is only meaningful client-side (deduplication/keying),
// as is the timestamp (epoch millis).
type ChatPayload struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// PresencePayload is the payload of a "user_presence" envelope. Clients
// only ever send "join"; "leave" events are built server-side when a
// joined connection goes away.
type PresencePayload struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

const (
	presenceJoin  = "join"
	presenceLeave = "leave"

	maxUsernameLength = 20
	maxMessageLength  = 200
)

func newPresenceFrame(event, username string) ([]byte, error) {
	payload, err := json.Marshal(PresencePayload{
		Type:     event,
		Username: username,
	})
	if err != nil {
		return nil, err
	}

	return json.Marshal(Envelope{
		Type:    UserPresence,
		Payload: payload,
	})
}

// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeFindPartner   = "find_partner"
	TypeStopSearching = "stop_searching"
	TypeSendMessage   = "send_message"
	TypeTyping        = "typing"
	TypeStopTyping    = "stop_typing"
	TypeVideoOffer    = "video_offer"
	TypeVideoAnswer   = "video_answer"
	TypeIceCandidate  = "ice_candidate"
	TypeNextPartner   = "next_partner"
	TypeReportUser    = "report_user"
	TypeChangeMode    = "change_mode"
	TypeGetStats      = "get_stats"
	TypePing          = "ping"
)

// Server -> Client message types. Typing indicators and the video signaling
// types above are mirrored back to the partner under the same name.
const (
	TypeWaiting             = "waiting"
	TypeMatched             = "matched"
	TypeMessage             = "message"
	TypePartnerDisconnected = "partner_disconnected"
	TypeBanned              = "banned"
	TypeForceDisconnect     = "force_disconnect"
	TypeStatsUpdate         = "stats_update"
	TypeError               = "error"
	TypePong                = "pong"
)

// Chat modes accepted in find_partner.
const (
	ModeText  = "text"
	ModeVideo = "video"
)

// ValidMode reports whether mode is one of the supported chat modes.
func ValidMode(mode string) bool {
	return mode == ModeText || mode == ModeVideo
}

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// FindPartnerMsg is sent by the client to request a partner with optional
// interest tags and the desired chat mode ("text" or "video").
type FindPartnerMsg struct {
	Type      string   `json:"type"`
	Interests []string `json:"interests"`
	ChatMode  string   `json:"chat_mode"`
}

// StopSearchingMsg is sent by the client to leave the waiting queue.
type StopSearchingMsg struct {
	Type string `json:"type"`
}

// SendMessageMsg is a text message sent by the client to its current partner.
type SendMessageMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// TypingMsg carries a typing or stop_typing indicator.
type TypingMsg struct {
	Type string `json:"type"`
}

// SignalMsg is an opaque media-negotiation payload (video_offer, video_answer
// or ice_candidate). The server never inspects the contents: Raw carries the
// complete original frame, which is forwarded to the partner verbatim.
type SignalMsg struct {
	Type string
	Raw  json.RawMessage
}

// NextPartnerMsg is sent by the client to leave the current room and search
// again.
type NextPartnerMsg struct {
	Type string `json:"type"`
}

// ReportUserMsg is sent by the client to report its current or former partner.
type ReportUserMsg struct {
	Type       string `json:"type"`
	ReportedID string `json:"reported_id"`
	Reason     string `json:"reason"`
	Comment    string `json:"comment"`
}

// ChangeModeMsg is sent by the client to reset its session before switching
// between text and video mode.
type ChangeModeMsg struct {
	Type string `json:"type"`
}

// GetStatsMsg asks the server for a stats_update addressed to the caller.
type GetStatsMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// WaitingMsg is sent when the client has been placed in the waiting queue.
type WaitingMsg struct {
	Type string `json:"type"`
}

// MatchedMsg is sent to both parties when a pairing completes. Initiator is
// true for the side that requested the match; in video mode that side starts
// the offer/answer exchange.
type MatchedMsg struct {
	Type      string `json:"type"`
	Room      string `json:"room"`
	PartnerID string `json:"partner_id"`
	Initiator bool   `json:"initiator"`
}

// RelayedMessageMsg is a sanitized text message relayed from the partner.
type RelayedMessageMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Sender  string `json:"sender"`
}

// PartnerDisconnectedMsg is sent when the chat partner has left the room for
// any reason.
type PartnerDisconnectedMsg struct {
	Type string `json:"type"`
}

// BannedMsg is sent when the caller's address is banned. BanEnd is RFC 3339.
type BannedMsg struct {
	Type   string `json:"type"`
	BanEnd string `json:"ban_end"`
	Reason string `json:"reason"`
}

// ForceDisconnectMsg is pushed to a client whose address was just banned; the
// connection is closed immediately afterwards.
type ForceDisconnectMsg struct {
	Type   string `json:"type"`
	BanEnd string `json:"ban_end"`
	Reason string `json:"reason"`
}

// StatsUpdateMsg carries the live population counters.
type StatsUpdateMsg struct {
	Type        string `json:"type"`
	Online      int    `json:"online"`
	Waiting     int    `json:"waiting"`
	ActiveChats int    `json:"active_chats"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. Signaling payloads come back as SignalMsg with
// the raw frame attached so they can be relayed without inspection. An error
// is returned for unknown or server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeFindPartner:
		var m FindPartnerMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeStopSearching:
		var m StopSearchingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTyping, TypeStopTyping:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeVideoOffer, TypeVideoAnswer, TypeIceCandidate:
		msg = SignalMsg{Type: env.Type, Raw: env.Raw}
	case TypeNextPartner:
		var m NextPartnerMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReportUser:
		var m ReportUserMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeChangeMode:
		var m ChangeModeMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGetStats:
		var m GetStatsMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

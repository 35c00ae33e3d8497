package internal

import (
	"encoding/json"
	"fmt"
)

// Event names sent to clients.
const (
	EventUserStatus       = "user_status"
	EventReceiveMessage   = "receive_message"
	EventMessageDelivered = "message_delivered"
	EventMessageError     = "message_error"
	EventTypingIndicator  = "typing_indicator"
	EventIncomingCall     = "incoming_call"
	EventCallOffer        = "call_offer"
	EventCallAnswer       = "call_answer"
	EventIceCandidate     = "ice_candidate"
	EventCallAccepted     = "call_accepted"
	EventCallRejected     = "call_rejected"
	EventCallEnded        = "call_ended"
	EventCallError        = "call_error"
)

// Command names accepted from clients.
const (
	CmdSendMessage  = "send_message"
	CmdTypingStart  = "typing_start"
	CmdTypingStop   = "typing_stop"
	CmdJoinChat     = "join_chat"
	CmdLeaveChat    = "leave_chat"
	CmdInitiateCall = "initiate_call"
	CmdCallOffer    = "call_offer"
	CmdCallAnswer   = "call_answer"
	CmdIceCandidate = "ice_candidate"
	CmdCallAccepted = "call_accepted"
	CmdCallRejected = "call_rejected"
	CmdCallEnded    = "call_ended"
	CmdHeartbeat    = "heartbeat"
)

// Envelope is the json frame exchanged on the websocket in both directions.
// Data carries the event-specific payload and is decoded by type name.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an Envelope ready for the wire.
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: eventType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{Type: eventType, Data: data}, nil
}

// ChatMessage is the payload of send_message and receive_message. ID is the
// client-supplied idempotency key; TempID is the client's correlation id,
// echoed back in the delivery ack so the client can reconcile optimistic UI.
type ChatMessage struct {
	ID          string `json:"id,omitempty"`
	TempID      string `json:"temp_id,omitempty"`
	ChatID      int64  `json:"chat_id,omitempty"`
	SenderID    int64  `json:"sender_id,omitempty"`
	Sender      string `json:"sender,omitempty"`
	RecipientID int64  `json:"recipient_id"`
	Body        string `json:"body"`
	Ts          int64  `json:"ts,omitempty"`
}

// DeliveredAck acknowledges that a message was handed to the realtime layer.
type DeliveredAck struct {
	TempID    string `json:"temp_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	Ts        int64  `json:"ts"`
}

// MessageError reports a failed send back to the originating client.
type MessageError struct {
	TempID string `json:"temp_id,omitempty"`
	Reason string `json:"reason"`
}

// UserStatus announces an online/offline transition to everyone connected.
type UserStatus struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"last_seen,omitempty"`
}

// TypingIndicator announces typing activity inside a chat.
type TypingIndicator struct {
	ChatID   int64  `json:"chat_id"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
	IsTyping bool   `json:"is_typing"`
}

// TypingCommand is the payload of typing_start and typing_stop.
type TypingCommand struct {
	ChatID int64 `json:"chat_id"`
}

// ChatRoomCommand is the payload of join_chat and leave_chat.
type ChatRoomCommand struct {
	ChatID int64 `json:"chat_id"`
}

// CallSignal carries every call-related command and event. Payload holds the
// SDP or ICE blob and is relayed verbatim; the server never inspects it.
type CallSignal struct {
	From     int64           `json:"from,omitempty"`
	FromName string          `json:"from_name,omitempty"`
	To       int64           `json:"to,omitempty"`
	CallType string          `json:"call_type,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// CallError reports a signaling failure to the side that caused it.
type CallError struct {
	Reason string `json:"reason"`
}

func decodePayload[T any](data json.RawMessage) (T, error) {
	var out T
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}

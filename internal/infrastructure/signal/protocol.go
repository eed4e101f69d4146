package signal

import (
	"encoding/json"
	"fmt"

	"parley/internal/core/domain"
)

// Envelope is the wire frame for every socket event, both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event names form a closed set; the server's dispatch switch is exhaustive
// and unknown events are rejected.
const (
	EventUserOnline  = "user:online"
	EventUserOffline = "user:offline"
	EventUsersOnline = "users:online"

	EventTypingStart = "typing:start"
	EventTypingStop  = "typing:stop"

	EventMessageNew = "message:new"

	EventCallInitiate = "call:initiate"
	EventCallIncoming = "call:incoming"
	EventCallAccept   = "call:accept"
	EventCallAccepted = "call:accepted"
	EventCallReject   = "call:reject"
	EventCallRejected = "call:rejected"
	EventCallEnd      = "call:end"
	EventCallEnded    = "call:ended"

	EventWebRTCOffer        = "webrtc:offer"
	EventWebRTCAnswer       = "webrtc:answer"
	EventWebRTCICECandidate = "webrtc:ice-candidate"

	EventError = "error"
)

type PresencePayload struct {
	UserID domain.UserID `json:"userId"`
}

type OnlineListPayload struct {
	UserIDs []domain.UserID `json:"userIds"`
}

type TypingPayload struct {
	ConversationID domain.ConversationID `json:"conversationId"`
	UserID         domain.UserID         `json:"userId,omitempty"`
}

type CallInitiatePayload struct {
	CallID     domain.CallID `json:"callId"`
	CallerID   domain.UserID `json:"callerId"`
	CallerName string        `json:"callerName"`
	ReceiverID domain.UserID `json:"receiverId"`
	IsVideo    bool          `json:"isVideo"`
}

type CallIncomingPayload struct {
	CallID     domain.CallID `json:"callId"`
	CallerID   domain.UserID `json:"callerId"`
	CallerName string        `json:"callerName"`
	IsVideo    bool          `json:"isVideo"`
}

// CallDecisionPayload serves call:accept and call:reject.
type CallDecisionPayload struct {
	CallID     domain.CallID `json:"callId"`
	CallerID   domain.UserID `json:"callerId"`
	ReceiverID domain.UserID `json:"receiverId"`
	Reason     string        `json:"reason,omitempty"`
}

type CallAcceptedPayload struct {
	CallID     domain.CallID `json:"callId"`
	ReceiverID domain.UserID `json:"receiverId"`
}

type CallRejectedPayload struct {
	CallID     domain.CallID `json:"callId"`
	ReceiverID domain.UserID `json:"receiverId"`
	Reason     string        `json:"reason,omitempty"`
}

type CallEndPayload struct {
	CallID      domain.CallID `json:"callId"`
	UserID      domain.UserID `json:"userId"`
	OtherUserID domain.UserID `json:"otherUserId"`
}

type CallEndedPayload struct {
	CallID domain.CallID `json:"callId"`
	UserID domain.UserID `json:"userId"`
}

// SessionDescriptionPayload serves webrtc:offer and webrtc:answer. The
// description itself is opaque to the relay.
type SessionDescriptionPayload struct {
	CallID      domain.CallID   `json:"callId"`
	CallerID    domain.UserID   `json:"callerId"`
	ReceiverID  domain.UserID   `json:"receiverId"`
	Description json.RawMessage `json:"description"`
}

type ICECandidatePayload struct {
	CallID     domain.CallID   `json:"callId"`
	SenderID   domain.UserID   `json:"senderId"`
	ReceiverID domain.UserID   `json:"receiverId"`
	Candidate  json.RawMessage `json:"candidate"`
}

type MessageNewPayload struct {
	ConversationID domain.ConversationID `json:"conversationId"`
	MessageID      string                `json:"messageId"`
	SenderID       domain.UserID         `json:"senderId"`
	Content        string                `json:"content"`
	SentAt         int64                 `json:"sentAt"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

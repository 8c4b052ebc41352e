// ABOUTME: Wire envelope and payload definitions for the conversation protocol
// ABOUTME: Requests decode into a closed union so dispatch can be exhaustive

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EnvelopeType tags every frame on the wire.
type EnvelopeType string

const (
	EnvelopeRequest      EnvelopeType = "request"
	EnvelopeResponse     EnvelopeType = "response"
	EnvelopeNotification EnvelopeType = "notification"
)

// Operation identifies what a request, response or notification is about.
type Operation string

const (
	OpStartConversation   Operation = "start_conversation"
	OpGetConversationList Operation = "get_conversation_list"
	OpSendMessage         Operation = "send_message"

	// OpReceiveMessage is notification-only; there is no corresponding request.
	OpReceiveMessage Operation = "receive_message"
)

// Decode errors. ErrNotARequest and malformed frames are structural
// (connection-fatal); ErrUnknownOperation is soft — logged and ignored.
var (
	ErrNotARequest      = errors.New("frame is not a request envelope")
	ErrUnknownOperation = errors.New("unknown operation")
	ErrMissingPayload   = errors.New("missing operation payload")
)

// MessageKind categorizes message content. Codes are part of the wire format.
type MessageKind int

const (
	KindText   MessageKind = 1
	KindImage  MessageKind = 2
	KindFile   MessageKind = 3
	KindSystem MessageKind = 4
	KindEmoji  MessageKind = 5
	KindVoice  MessageKind = 6
	KindVideo  MessageKind = 7
)

// Valid reports whether k is a recognized message kind code.
func (k MessageKind) Valid() bool {
	return k >= KindText && k <= KindVideo
}

func (k MessageKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindFile:
		return "file"
	case KindSystem:
		return "system"
	case KindEmoji:
		return "emoji"
	case KindVoice:
		return "voice"
	case KindVideo:
		return "video"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ChatUser identifies a participant as shown to clients.
type ChatUser struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// Message is a single chat message. IsMine is set at serialization time,
// per recipient; it is never stored.
type Message struct {
	MessageID      string      `json:"message_id"`
	ConversationID string      `json:"conversation_id"`
	Sender         ChatUser    `json:"sender"`
	Content        string      `json:"content"`
	Kind           MessageKind `json:"kind"`
	Timestamp      time.Time   `json:"timestamp"`
	IsMine         bool        `json:"is_mine"`
}

// Conversation is the client-facing snapshot of a two-party thread.
// Version and UnreadCount are advisory counters.
type Conversation struct {
	ConversationID string     `json:"conversation_id"`
	Participants   []ChatUser `json:"participants"`
	LastUpdated    time.Time  `json:"last_updated"`
	LastMessage    *Message   `json:"last_message,omitempty"`
	Version        int64      `json:"version"`
	UnreadCount    int64      `json:"unread_count"`
}

// Request is the closed set of inbound operations. Implementations live in
// this package only; the transport dispatches with an exhaustive type switch.
type Request interface {
	Op() Operation
	isRequest()
}

// StartConversationRequest asks to open a conversation with another identity.
type StartConversationRequest struct {
	ParticipantUserIDs []string `json:"participant_user_ids"`
}

func (*StartConversationRequest) Op() Operation { return OpStartConversation }
func (*StartConversationRequest) isRequest()    {}

// GetConversationListRequest asks for the requester's conversation index.
type GetConversationListRequest struct {
	Limit int `json:"limit,omitempty"`
}

func (*GetConversationListRequest) Op() Operation { return OpGetConversationList }
func (*GetConversationListRequest) isRequest()    {}

// SendMessageRequest sends a message into an existing conversation.
type SendMessageRequest struct {
	ConversationID string      `json:"conversation_id"`
	Content        string      `json:"content"`
	Kind           MessageKind `json:"kind"`
}

func (*SendMessageRequest) Op() Operation { return OpSendMessage }
func (*SendMessageRequest) isRequest()    {}

// requestEnvelope is the wire shape of an inbound frame. Exactly one payload
// field is expected, selected by Op.
type requestEnvelope struct {
	Type      EnvelopeType `json:"type"`
	RequestID string       `json:"request_id"`
	Op        Operation    `json:"op"`

	StartConversation   *StartConversationRequest   `json:"start_conversation,omitempty"`
	GetConversationList *GetConversationListRequest `json:"get_conversation_list,omitempty"`
	SendMessage         *SendMessageRequest         `json:"send_message,omitempty"`
}

// DecodeRequest parses an inbound frame into a typed request.
// The returned request id correlates the eventual response.
func DecodeRequest(data []byte) (requestID string, req Request, err error) {
	var env requestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("decoding frame: %w", err)
	}

	if env.Type != EnvelopeRequest {
		return "", nil, fmt.Errorf("%w: type %q", ErrNotARequest, env.Type)
	}

	switch env.Op {
	case OpStartConversation:
		if env.StartConversation == nil {
			return env.RequestID, nil, fmt.Errorf("%w: %s", ErrMissingPayload, env.Op)
		}
		return env.RequestID, env.StartConversation, nil
	case OpGetConversationList:
		if env.GetConversationList == nil {
			// The list request carries no required fields; tolerate omission.
			return env.RequestID, &GetConversationListRequest{}, nil
		}
		return env.RequestID, env.GetConversationList, nil
	case OpSendMessage:
		if env.SendMessage == nil {
			return env.RequestID, nil, fmt.Errorf("%w: %s", ErrMissingPayload, env.Op)
		}
		return env.RequestID, env.SendMessage, nil
	default:
		return env.RequestID, nil, fmt.Errorf("%w: %q", ErrUnknownOperation, env.Op)
	}
}

// StartConversationResponse carries the created (or existing) conversation.
type StartConversationResponse struct {
	Conversation Conversation `json:"conversation"`
}

// ConversationListResponse carries the requester's ordered conversation index.
// HasMore is declared for pagination but always false.
type ConversationListResponse struct {
	Conversations []Conversation `json:"conversations"`
	HasMore       bool           `json:"has_more"`
}

// SendMessageResponse echoes the stored message back to the sender.
type SendMessageResponse struct {
	Message Message `json:"message"`
}

// ResponseEnvelope is the wire shape of a reply to a request.
type ResponseEnvelope struct {
	Type      EnvelopeType `json:"type"`
	RequestID string       `json:"request_id,omitempty"`
	Op        Operation    `json:"op"`
	Success   bool         `json:"success"`
	Error     string       `json:"error,omitempty"`

	StartConversation *StartConversationResponse `json:"start_conversation,omitempty"`
	ConversationList  *ConversationListResponse  `json:"conversation_list,omitempty"`
	SendMessage       *SendMessageResponse       `json:"send_message,omitempty"`
}

// ErrorResponse builds a failed response for the given operation.
func ErrorResponse(requestID string, op Operation, msg string) *ResponseEnvelope {
	return &ResponseEnvelope{
		Type:      EnvelopeResponse,
		RequestID: requestID,
		Op:        op,
		Success:   false,
		Error:     msg,
	}
}

// Encode marshals the envelope for the wire.
func (e *ResponseEnvelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// ReceiveMessageNotification is pushed unsolicited to the peer of a send.
type ReceiveMessageNotification struct {
	Message Message `json:"message"`
}

// NotificationEnvelope is the wire shape of an unsolicited push.
type NotificationEnvelope struct {
	Type EnvelopeType `json:"type"`
	Op   Operation    `json:"op"`

	ReceiveMessage *ReceiveMessageNotification `json:"receive_message,omitempty"`
}

// EncodeReceiveMessage builds and marshals a receive_message notification.
func EncodeReceiveMessage(msg Message) ([]byte, error) {
	return json.Marshal(&NotificationEnvelope{
		Type: EnvelopeNotification,
		Op:   OpReceiveMessage,
		ReceiveMessage: &ReceiveMessageNotification{
			Message: msg,
		},
	})
}

// ABOUTME: Protocol router: validates requests against registry and store state
// ABOUTME: Mutates the store and produces response/notification payloads

package conversation

import (
	"errors"
	"log/slog"

	"github.com/enkrip/parley/internal/protocol"
)

// Validation errors. These are recoverable: the transport reports them to the
// requester as a failed response and keeps the connection open. The text is
// the client-facing message.
var (
	ErrParticipantRequired    = errors.New("participant user id is required")
	ErrSelfConversation       = errors.New("cannot start a conversation with yourself")
	ErrParticipantUnreachable = errors.New("participant is not online")
	ErrConversationNotFound   = errors.New("conversation does not exist")
	ErrNotAParticipant        = errors.New("you are not part of this conversation")
	ErrInvalidMessageKind     = errors.New("unrecognized message kind")
)

// Presence reports whether an identity currently has a live connection.
type Presence interface {
	IsReachable(identity string) bool
}

// Deliverer fans a payload out to an identity's live connections and returns
// how many accepted it. Zero is a soft condition, never an error.
type Deliverer interface {
	Deliver(identity string, payload []byte) int
}

// Recorder is the narrow interface to the durable collaborators (message log,
// user timeline, activity log). Implementations must not block the caller;
// live delivery does not wait for appends.
type Recorder interface {
	MessageSent(conversationID, sender, messageID, content string, kind protocol.MessageKind)
	ParticipantJoined(conversationID, identity string)
}

// Router executes protocol operations against the conversation store and the
// session registry, one call per inbound request.
type Router struct {
	store    *Store
	presence Presence
	delivery Deliverer
	recorder Recorder // optional
	logger   *slog.Logger
}

// NewRouter wires a router. Pass nil recorder to skip durable appends and nil
// logger for the default.
func NewRouter(store *Store, presence Presence, delivery Deliverer, recorder Recorder, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:    store,
		presence: presence,
		delivery: delivery,
		recorder: recorder,
		logger:   logger.With("component", "router"),
	}
}

// StartConversation opens (or, for a repeated request over the same pair,
// returns) the conversation between requester and the claimed participant.
// Only the requester is answered; the participant gets no proactive
// notification of conversation creation.
func (r *Router) StartConversation(requester string, req *protocol.StartConversationRequest) (*protocol.StartConversationResponse, error) {
	if len(req.ParticipantUserIDs) == 0 || req.ParticipantUserIDs[0] == "" {
		return nil, ErrParticipantRequired
	}
	participant := req.ParticipantUserIDs[0]

	if participant == requester {
		return nil, ErrSelfConversation
	}
	if !r.presence.IsReachable(participant) {
		return nil, ErrParticipantUnreachable
	}

	conv, created := r.store.Create(requester, participant)
	if created {
		r.logger.Info("conversation created",
			"conversation_id", conv.ID(),
			"requester", requester,
			"participant", participant,
		)
		if r.recorder != nil {
			r.recorder.ParticipantJoined(conv.ID(), requester)
			r.recorder.ParticipantJoined(conv.ID(), participant)
		}
	}

	return &protocol.StartConversationResponse{
		Conversation: conv.Snapshot(requester),
	}, nil
}

// ConversationList returns the requester's conversation index snapshot, most
// recently active first. Pagination is declared but not enforced: has_more is
// always false.
func (r *Router) ConversationList(requester string, req *protocol.GetConversationListRequest) (*protocol.ConversationListResponse, error) {
	conversations := r.store.ListFor(requester)
	if req.Limit > 0 && len(conversations) > req.Limit {
		conversations = conversations[:req.Limit]
	}
	return &protocol.ConversationListResponse{
		Conversations: conversations,
		HasMore:       false,
	}, nil
}

// SendMessage appends a message to the conversation and produces two views of
// it: the response for the requester (is_mine=true) and a notification pushed
// to the peer (is_mine=false). A zero delivery count for the notification is
// soft: the message is still logically sent and the response reports success;
// the peer reconciles via a later history fetch.
func (r *Router) SendMessage(requester string, req *protocol.SendMessageRequest) (*protocol.SendMessageResponse, error) {
	if !req.Kind.Valid() {
		return nil, ErrInvalidMessageKind
	}

	conv, ok := r.store.Get(req.ConversationID)
	if !ok {
		return nil, ErrConversationNotFound
	}
	if !conv.HasParticipant(requester) {
		return nil, ErrNotAParticipant
	}

	msg := conv.Append(requester, req.Content, req.Kind)
	r.store.Touch(conv)

	peer := conv.PeerOf(requester)
	r.notifyPeer(peer, msg)

	if r.recorder != nil {
		r.recorder.MessageSent(conv.ID(), requester, msg.id, msg.content, msg.kind)
	}

	return &protocol.SendMessageResponse{
		Message: msg.toProtocol(requester),
	}, nil
}

// notifyPeer pushes the receive_message notification to every live connection
// of the peer. Best effort, fire and forget, never retried.
func (r *Router) notifyPeer(peer string, msg *storedMessage) {
	payload, err := protocol.EncodeReceiveMessage(msg.toProtocol(peer))
	if err != nil {
		r.logger.Error("encoding notification",
			"conversation_id", msg.conversationID,
			"message_id", msg.id,
			"error", err,
		)
		return
	}

	delivered := r.delivery.Deliver(peer, payload)
	if delivered == 0 {
		r.logger.Debug("peer missed live notification",
			"peer", peer,
			"conversation_id", msg.conversationID,
			"message_id", msg.id,
		)
	}
}

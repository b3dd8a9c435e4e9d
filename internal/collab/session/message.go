package session

import "time"

// ContentKind discriminates the variant stored in CollabMessage.Content.
type ContentKind string

const (
	ContentText        ContentKind = "text"
	ContentRequest      ContentKind = "request"
	ContentResponse     ContentKind = "response"
	ContentProposalRef  ContentKind = "proposal_ref"
	ContentVote         ContentKind = "vote"
)

// RequestPayload describes an analysis request routed to another agent.
type RequestPayload struct {
	RequestType string         `json:"request_type"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ResponsePayload carries the outcome of a RequestPayload.
type ResponsePayload struct {
	Success bool   `json:"success"`
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

func SuccessResponse(content string) ResponsePayload {
	return ResponsePayload{Success: true, Content: content}
}

func ErrorResponse(errMsg string) ResponsePayload {
	return ResponsePayload{Success: false, Error: errMsg}
}

// VoteRef is the lightweight vote summary carried inline in a message when
// a vote is announced in the conversation log.
type VoteRef struct {
	ProposalID string `json:"proposal_id"`
	Choice     string `json:"choice"`
}

// MessageContent holds exactly one of the variants named by Kind.
type MessageContent struct {
	Kind        ContentKind      `json:"kind"`
	Text        string           `json:"text,omitempty"`
	Request     *RequestPayload  `json:"request,omitempty"`
	Response    *ResponsePayload `json:"response,omitempty"`
	ProposalRef string           `json:"proposal_ref,omitempty"`
	Vote        *VoteRef         `json:"vote,omitempty"`
}

// CollabMessage is one entry in a session's message log.
type CollabMessage struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	SenderID   string         `json:"sender_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Content    MessageContent `json:"content"`
	InReplyTo  string         `json:"in_reply_to,omitempty"`
}

func newMessageID() string {
	return "msg_" + shortID()
}

// ChatMessage builds a plain-text CollabMessage.
func ChatMessage(sessionID, senderID, text string) CollabMessage {
	return CollabMessage{
		ID:        newMessageID(),
		SessionID: sessionID,
		SenderID:  senderID,
		Timestamp: time.Now().UTC().Round(0),
		Content:   MessageContent{Kind: ContentText, Text: text},
	}
}

// RequestMessage builds a Request-kind CollabMessage.
func RequestMessage(sessionID, senderID string, payload RequestPayload) CollabMessage {
	return CollabMessage{
		ID:        newMessageID(),
		SessionID: sessionID,
		SenderID:  senderID,
		Timestamp: time.Now().UTC().Round(0),
		Content:   MessageContent{Kind: ContentRequest, Request: &payload},
	}
}

// ResponseMessage builds a Response-kind CollabMessage referring back to a
// prior request message.
func ResponseMessage(sessionID, senderID, inReplyTo string, payload ResponsePayload) CollabMessage {
	return CollabMessage{
		ID:        newMessageID(),
		SessionID: sessionID,
		SenderID:  senderID,
		Timestamp: time.Now().UTC().Round(0),
		InReplyTo: inReplyTo,
		Content:   MessageContent{Kind: ContentResponse, Response: &payload},
	}
}

// MessageLog is an append-only bounded ring of CollabMessages: once Limit
// entries are held, appending drops the oldest (FIFO eviction).
type MessageLog struct {
	Limit    int              `json:"-"`
	messages []CollabMessage
}

func NewMessageLog(limit int) *MessageLog {
	return &MessageLog{Limit: limit}
}

func (l *MessageLog) Append(m CollabMessage) {
	l.messages = append(l.messages, m)
	if l.Limit > 0 && len(l.messages) > l.Limit {
		l.messages = l.messages[1:]
	}
}

func (l *MessageLog) All() []CollabMessage {
	return append([]CollabMessage(nil), l.messages...)
}

func (l *MessageLog) Len() int {
	return len(l.messages)
}

// Recent returns up to count messages, most recent first.
func (l *MessageLog) Recent(count int) []CollabMessage {
	n := len(l.messages)
	if count > n {
		count = n
	}
	out := make([]CollabMessage, count)
	for i := 0; i < count; i++ {
		out[i] = l.messages[n-1-i]
	}
	return out
}

// From returns every message sent by the given agent, in log order.
func (l *MessageLog) From(agentID string) []CollabMessage {
	var out []CollabMessage
	for _, m := range l.messages {
		if m.SenderID == agentID {
			out = append(out, m)
		}
	}
	return out
}

package model

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// Kind describes how a message should be rendered.
type Kind string

const (
	KindUser    Kind = "user"
	KindAgent   Kind = "agent"
	KindPending Kind = "pending"
	KindError   Kind = "error"
)

// Fixed texts shown in place of missing or failed content.
const (
	MissingAgentText = "No response available."
	MissingUserText  = "(message unavailable)"
	EmptyAnswerText  = "I couldn't generate a relevant response."
	FailedAnswerText = "Error retrieving response."
)

// Message is one entry of a conversation. Messages are immutable once
// appended; a pending placeholder is replaced wholesale.
type Message struct {
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
	Kind   Kind   `json:"kind"`
}

// UserMessage builds a message authored by the user.
func UserMessage(text string) Message {
	return Message{Sender: SenderUser, Text: text, Kind: KindUser}
}

// AgentMessage builds a settled answer from the remote service.
func AgentMessage(text string) Message {
	return Message{Sender: SenderAgent, Text: text, Kind: KindAgent}
}

// PendingMessage builds the placeholder shown while an answer is in flight.
func PendingMessage() Message {
	return Message{Sender: SenderAgent, Kind: KindPending}
}

// ErrorMessage builds the terminal message for a failed exchange.
func ErrorMessage() Message {
	return Message{Sender: SenderAgent, Text: FailedAnswerText, Kind: KindError}
}

// IsTerminal reports whether the message can replace a pending placeholder.
func (m Message) IsTerminal() bool {
	return m.Kind == KindAgent || m.Kind == KindError
}

package model

// ConversationState is the active conversation shown by the UI.
type ConversationState struct {
	SessionID SessionID `json:"session_id"`
	Messages  []Message `json:"messages"`

	// Version increases on every mutation.
	Version uint64 `json:"version"`
}

// Clone returns a deep copy safe to hand to observers.
func (s ConversationState) Clone() ConversationState {
	out := s
	out.Messages = append([]Message(nil), s.Messages...)
	return out
}

// Last returns the final message, if any.
func (s ConversationState) Last() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

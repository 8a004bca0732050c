package model

// ChangeType describes what mutated a conversation.
type ChangeType string

const (
	ChangeLoaded   ChangeType = "loaded"
	ChangeHydrated ChangeType = "hydrated"
	ChangeAppended ChangeType = "appended"
	ChangeSettled  ChangeType = "settled"
)

// Change is delivered to conversation observers after every mutation.
type Change struct {
	Type  ChangeType
	State ConversationState
}

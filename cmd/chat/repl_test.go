package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/proxylens/chat/internal/model"
)

func TestPickSession(t *testing.T) {
	records := []model.SessionRecord{{ID: "a"}, {ID: "b"}}

	assert.Equal(t, model.SessionID("a"), pickSession(records, "1"))
	assert.Equal(t, model.SessionID("b"), pickSession(records, "2"))
	assert.Equal(t, model.SessionID("3"), pickSession(records, "3"))
	assert.Equal(t, model.SessionID("session_x"), pickSession(records, "session_x"))
}

func TestPrintMessage(t *testing.T) {
	var buf bytes.Buffer
	printConversation(&buf, model.ConversationState{Messages: []model.Message{
		model.UserMessage("hi"),
		model.AgentMessage("hello"),
		model.PendingMessage(),
		model.ErrorMessage(),
	}})

	assert.Equal(t, "you> hi\nbot> hello\nbot> ...\nbot! "+model.FailedAnswerText+"\n", buf.String())
}

func TestPrintSessions(t *testing.T) {
	var buf bytes.Buffer
	printSessions(&buf, nil, "")
	assert.Equal(t, "no sessions\n", buf.String())

	buf.Reset()
	printSessions(&buf, []model.SessionRecord{{ID: "a", Title: "First"}, {ID: "b", Title: "Second"}}, "b")
	assert.Contains(t, buf.String(), "   1  First")
	assert.Contains(t, buf.String(), "*  2  Second")
}

package main

import (
	"fmt"
	"io"

	"github.com/proxylens/chat/internal/model"
)

func printSessions(w io.Writer, records []model.SessionRecord, current model.SessionID) {
	if len(records) == 0 {
		fmt.Fprintln(w, "no sessions")
		return
	}
	for i, r := range records {
		marker := " "
		if r.ID == current {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %2d  %-40s  %s\n", marker, i+1, r.Title, r.ID)
	}
}

func printConversation(w io.Writer, state model.ConversationState) {
	for _, m := range state.Messages {
		printMessage(w, m)
	}
}

func printMessage(w io.Writer, m model.Message) {
	switch m.Kind {
	case model.KindUser:
		fmt.Fprintf(w, "you> %s\n", m.Text)
	case model.KindPending:
		fmt.Fprintln(w, "bot> ...")
	case model.KindError:
		fmt.Fprintf(w, "bot! %s\n", m.Text)
	default:
		fmt.Fprintf(w, "bot> %s\n", m.Text)
	}
}

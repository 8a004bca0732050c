package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/proxylens/chat/internal/model"
)

const replHelp = `commands:
  /new            start a new session
  /sessions       list sessions
  /switch <n|id>  switch to a listed session
  /clear          forget the current session pointer
  /help           show this help
  /quit           exit
anything else is sent as a question`

func runREPL(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	id, err := a.client.Start(ctx)
	if err != nil {
		fmt.Fprintf(out, "could not load history: %v\n", err)
	}
	if _, err := a.client.RefreshSessionList(ctx); err != nil {
		a.log.Warn("session refresh failed", zap.Error(err))
	}

	fmt.Fprintf(out, "session %s (%s). /help for commands.\n", a.client.Title(id), id)
	printConversation(out, a.client.Snapshot())

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := runCommand(ctx, a, out, line)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := ask(ctx, a, out, line); err != nil {
			return err
		}
	}
}

func ask(ctx context.Context, a *app, out io.Writer, text string) error {
	ex, err := a.client.Send(ctx, text)
	if err != nil {
		fmt.Fprintf(out, "not sent: %v\n", err)
		return nil
	}
	printMessage(out, model.PendingMessage())

	msg, err := ex.Wait(ctx)
	if err != nil {
		return err
	}
	printMessage(out, msg)
	return nil
}

func runCommand(ctx context.Context, a *app, out io.Writer, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		fmt.Fprintln(out, replHelp)

	case "/new":
		id, err := a.client.StartNewSession(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "started %s\n", id)

	case "/sessions":
		if _, err := a.client.RefreshSessionList(ctx); err != nil {
			fmt.Fprintf(out, "could not refresh sessions: %v\n", err)
		}
		current, err := a.client.ResolveCurrentSession(ctx)
		if err != nil {
			return false, err
		}
		printSessions(out, a.client.Sessions(), current)

	case "/switch":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: /switch <n|id>")
		}
		id := pickSession(a.client.Sessions(), fields[1])
		if err := a.client.LoadConversation(ctx, id); err != nil {
			fmt.Fprintf(out, "could not load history: %v\n", err)
		}
		fmt.Fprintf(out, "session %s (%s)\n", a.client.Title(id), id)
		printConversation(out, a.client.Snapshot())

	case "/clear":
		if err := a.client.ClearCurrentSession(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(out, "current session cleared")

	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
	return false, nil
}

// pickSession resolves a 1-based listing index or a literal id.
func pickSession(records []model.SessionRecord, arg string) model.SessionID {
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(records) {
		return records[n-1].ID
	}
	return model.SessionID(arg)
}

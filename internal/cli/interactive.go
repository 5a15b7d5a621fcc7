package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/vovakirdan/feelings/internal/core"
)

const promptHelp = "Send a feeling by number, name or emoji. /users lists who is here, /leave leaves the lobby, /quit exits."

// interact reads commands from In and prints session events until the user
// quits, leaves, input ends or ctx is cancelled.
func (a *App) interact(ctx context.Context, session *core.Session) error {
	done := make(chan struct{})
	defer close(done)
	lines := readLines(a.In, done)

	printPalette(a.Out)
	fmt.Fprintln(a.Out, promptHelp)

	for {
		select {
		case <-ctx.Done():
			a.drainEvents(session)
			return nil
		case ev := <-session.Events():
			a.printEvent(ev)
		case line, ok := <-lines:
			if !ok {
				a.drainEvents(session)
				return nil
			}
			quit, err := a.command(ctx, session, strings.TrimSpace(line))
			if err != nil {
				return err
			}
			if quit {
				a.drainEvents(session)
				return nil
			}
		}
	}
}

// command handles one line of input and reports whether the loop should stop.
func (a *App) command(ctx context.Context, session *core.Session, text string) (bool, error) {
	switch text {
	case "":
		return false, nil
	case "/quit":
		fmt.Fprintf(a.Out, "Bye. Run 'feelings resume' to return to %s\n", session.Lobby())
		return true, nil
	case "/leave":
		return true, session.Leave(ctx)
	case "/users":
		a.printUsers(session.ConnectedUsers())
		return false, nil
	case "/help":
		printPalette(a.Out)
		fmt.Fprintln(a.Out, promptHelp)
		return false, nil
	}

	feeling, ok := core.LookupFeeling(text)
	if !ok {
		fmt.Fprintf(a.Out, "Unknown feeling %q, type /help for the list\n", text)
		return false, nil
	}
	if _, err := session.SendMessage(ctx, feeling.Emoji); err != nil {
		fmt.Fprintf(a.Out, "Could not send %s: %v\n", feeling.Emoji, err)
	}
	return false, nil
}

func (a *App) drainEvents(session *core.Session) {
	for {
		select {
		case ev := <-session.Events():
			a.printEvent(ev)
		default:
			return
		}
	}
}

func (a *App) printEvent(ev *core.Event) {
	switch ev.Kind {
	case core.EventLobbyJoined:
		fmt.Fprintf(a.Out, "Joined lobby %s as %s\n", ev.Lobby, ev.User)
	case core.EventFeelingSent:
		fmt.Fprintf(a.Out, "You sent %s\n", ev.Message.Emoji)
	case core.EventFeelingReceived:
		// Terminal bell stands in for the vibration pattern.
		fmt.Fprintf(a.Out, "\a%s sent you %s\n", ev.User, ev.Message.Emoji)
	case core.EventUserJoined:
		fmt.Fprintf(a.Out, "👋 %s joined the lobby\n", ev.User)
	case core.EventLeft:
		fmt.Fprintf(a.Out, "Left lobby %s\n", ev.Lobby)
	}
}

func (a *App) printUsers(users []core.Presence) {
	if len(users) == 0 {
		fmt.Fprintln(a.Out, "Nobody is here")
		return
	}
	tw := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	for _, u := range users {
		status := "away"
		if u.Online {
			status = "online"
		}
		fmt.Fprintf(tw, "%s\t%s\n", u.Name, status)
	}
	_ = tw.Flush()
}

func printPalette(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, f := range core.Palette {
		fmt.Fprintf(tw, "%2d\t%s\t%s\n", i+1, f.Emoji, f.Label)
	}
	_ = tw.Flush()
}

// readLines scans r on its own goroutine; the channel closes at EOF.
func readLines(r io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}

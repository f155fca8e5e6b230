package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pharmachat"
	"pharmachat/agent"
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	answerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
)

const chatHelp = "Ask about drugs, adverse events or the annual report. /clear starts over, /exit quits."

func NewChatCmd(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			srv, err := pharmachat.NewServer(ctx, rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			defer srv.Close()

			out := cmd.OutOrStdout()
			repl := &chatREPL{agent: srv.Agent(), in: cmd.InOrStdin(), out: out}
			if isTerminal(out) {
				repl.render = markdownRenderer(out)
			}
			return repl.run(ctx)
		},
	}
}

// chatREPL reads questions line by line and prints the agent's answers. One
// session is kept for the whole run; /clear replaces it.
type chatREPL struct {
	agent *agent.Agent
	in    io.Reader
	out   io.Writer
	// render formats answers; nil prints them as plain text.
	render    func(string) string
	sessionID string
}

// markdownRenderer renders answers as terminal markdown wrapped to the
// terminal width.
func markdownRenderer(out io.Writer) func(string) string {
	width := 100
	if f, ok := out.(*os.File); ok {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 20 {
			width = w - 4
		}
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	return func(s string) string {
		rendered, err := md.Render(s)
		if err != nil {
			return s
		}
		return strings.Trim(rendered, "\n")
	}
}

func (c *chatREPL) run(ctx context.Context) error {
	c.sessionID = c.agent.Store().New().ID()
	fmt.Fprintln(c.out, titleStyle.Render("pharmachat"))
	fmt.Fprintln(c.out, toolStyle.Render(chatHelp))

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(c.out, promptStyle.Render("you> "))
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/clear":
			c.sessionID = c.agent.Store().Reset(c.sessionID).ID()
			fmt.Fprintln(c.out, toolStyle.Render("Conversation cleared."))
			continue
		}
		if err := c.turn(ctx, line); err != nil {
			return err
		}
	}
}

// turn runs one question. Turn failures are printed and the session keeps
// its previous history; only cancellation ends the loop.
func (c *chatREPL) turn(ctx context.Context, text string) error {
	eventCh := make(chan agent.StreamEvent, 64)
	go c.agent.RunStream(ctx, c.sessionID, text, eventCh)

	for ev := range eventCh {
		switch ev.Event {
		case agent.EventToolStart:
			fmt.Fprintln(c.out, toolStyle.Render("  using "+ev.Name+"..."))
		case agent.EventDone:
			data, _ := ev.Data.(map[string]any)
			answer, _ := data["answer"].(string)
			if c.render != nil {
				fmt.Fprintln(c.out, c.render(answer))
			} else {
				fmt.Fprintln(c.out, answerStyle.Render(answer))
			}
		case agent.EventError:
			msg := "turn failed"
			if data, ok := ev.Data.(map[string]string); ok {
				msg = data["error"]
			}
			fmt.Fprintln(c.out, errorStyle.Render("error: "+msg))
		}
	}
	return ctx.Err()
}

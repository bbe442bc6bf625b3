package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/app"
	"github.com/zulandar/switchboard/internal/orchestrator"
	"golang.org/x/term"
)

const defaultWidth = 80

func newChatCmd() *cobra.Command {
	var (
		configPath string
		threadID   string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant from the terminal",
		Long: `Starts an interactive chat. Each line is one message; replies are
printed when the turn completes.

Commands:
  /new   start a new thread
  /quit  exit (as does end of input)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, configPath, nil)
			if err != nil {
				return err
			}
			defer closeApp(a)
			return runChat(cmd, a, threadID)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "continue an existing thread")
	return cmd
}

func runChat(cmd *cobra.Command, a *app.App, threadID string) error {
	in := cmd.InOrStdin()
	out := cmd.OutOrStdout()
	interactive := isTerminal(in)
	width := terminalWidth(cmd)

	if threadID != "" {
		t, err := a.Orchestrator.Thread(cmd.Context(), threadID)
		if err != nil {
			return err
		}
		if interactive {
			title := "untitled"
			if t.Title != nil {
				title = *t.Title
			}
			fmt.Fprintf(out, "Continuing %q (%d messages)\n", title, len(t.Messages))
		}
	}

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		if !sc.Scan() {
			break
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/new":
			threadID = ""
			fmt.Fprintln(out, "Started a new thread.")
			continue
		}

		res, err := a.Orchestrator.Turn(cmd.Context(), orchestrator.TurnRequest{ThreadID: threadID, Text: line})
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			if cmd.Context().Err() != nil {
				return err
			}
			continue
		}
		threadID = res.Thread.ID
		fmt.Fprintln(out, wrap(res.AssistantMessage.Content, width))
		if res.IsRoundLimit() {
			fmt.Fprintln(out, "(stopped after reaching the tool round limit)")
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// terminalWidth reports the output width, or defaultWidth when the output is
// not a terminal.
func terminalWidth(cmd *cobra.Command) int {
	f, ok := cmd.OutOrStdout().(*os.File)
	if !ok {
		return defaultWidth
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/streamchat/internal/chat/session"
	"github.com/vietddude/streamchat/internal/control"
	"github.com/vietddude/streamchat/internal/core/domain"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Plain lines are sent as user messages. Commands:
  /edit <n> <text>  edit the n-th message (1-based) and resend
  /regen            regenerate the last answer
  /stop             stop the active stream
  /reset            clear the conversation
  /state            print session state
  /quit             exit`,
	Run: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := control.NewApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}
	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start application", "error", err)
		os.Exit(1)
	}

	out := cmd.OutOrStdout()
	unsub := app.Session().Subscribe(func(e session.Event) { printEvent(out, e) })

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	r := &repl{sess: app.Session(), out: out}
loop:
	for {
		select {
		case sig := <-sigChan:
			slog.Info("Received signal, shutting down...", "signal", sig)
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			quit, err := r.handle(line)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
			if quit {
				break loop
			}
		}
	}

	unsub()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}
}

// chatSession is the part of session.Session the REPL drives.
type chatSession interface {
	Send(text string) error
	Edit(messageID, text string) error
	Regenerate() error
	Stop() error
	Reset() error
	State() domain.SessionState
}

type repl struct {
	sess chatSession
	out  io.Writer
}

var errUsage = errors.New("usage: /edit <n> <text>")

// handle runs one input line and reports whether the REPL should exit.
func (r *repl) handle(line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, r.sess.Send(line)
	}

	name, rest, _ := strings.Cut(line, " ")
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/stop":
		return false, r.sess.Stop()
	case "/reset":
		return false, r.sess.Reset()
	case "/regen":
		return false, r.sess.Regenerate()
	case "/state":
		r.printState()
		return false, nil
	case "/edit":
		idx, text, ok := strings.Cut(strings.TrimSpace(rest), " ")
		if !ok {
			return false, errUsage
		}
		n, err := strconv.Atoi(idx)
		if err != nil {
			return false, errUsage
		}
		msgs := r.sess.State().Messages
		if n < 1 || n > len(msgs) {
			return false, fmt.Errorf("no message %d (have %d)", n, len(msgs))
		}
		return false, r.sess.Edit(msgs[n-1].ID, text)
	default:
		return false, fmt.Errorf("unknown command %s", name)
	}
}

func (r *repl) printState() {
	st := r.sess.State()
	fmt.Fprintf(r.out, "phase=%s model=%s connection=%s retries=%d fallbacks=%d reduced=%t conversation=%s\n",
		st.Phase, st.CurrentModel, st.Connection, st.RetryCount, st.FallbackAttempts, st.ContextReduced, st.ConversationID)
	for i, m := range st.Messages {
		edited := ""
		if m.IsEdited {
			edited = " (edited)"
		}
		fmt.Fprintf(r.out, "%3d %-9s%s %s\n", i+1, m.Role, edited, m.Content)
	}
}

func printEvent(w io.Writer, e session.Event) {
	switch e.Type {
	case session.EventChunk:
		fmt.Fprint(w, e.Chunk)
	case session.EventComplete:
		fmt.Fprintln(w)
	case session.EventError:
		if e.Error != nil {
			fmt.Fprintf(w, "\n! %s (%s)\n", e.Error.UserMessage, e.Error.Kind)
		}
	case session.EventRecovery:
		if e.Decision != nil {
			fmt.Fprintf(w, "\n~ %s", e.Decision.Action)
			if e.Decision.TargetModel != "" {
				fmt.Fprintf(w, " -> %s", e.Decision.TargetModel)
			}
			if e.Decision.Delay > 0 {
				fmt.Fprintf(w, " in %s", e.Decision.Delay)
			}
			fmt.Fprintln(w)
		}
	case session.EventConnection:
		fmt.Fprintf(w, "\n~ connection %s\n", e.Connection)
	case session.EventReset:
		fmt.Fprintln(w, "~ conversation cleared")
	}
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/streamchat/internal/control"
	"github.com/vietddude/streamchat/internal/infra/storage"
)

var transcriptCmd = &cobra.Command{
	Use:   "transcript",
	Short: "Inspect stored transcripts",
}

var transcriptShowCmd = &cobra.Command{
	Use:   "show [conversation_id]",
	Short: "Print a stored transcript and its attempt log",
	Args:  cobra.ExactArgs(1),
	Run:   runTranscriptShow,
}

func init() {
	transcriptCmd.AddCommand(transcriptShowCmd)
	rootCmd.AddCommand(transcriptCmd)
}

func runTranscriptShow(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()

	stores, err := control.OpenStores(ctx, cfg, false)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = stores.Close()
	}()

	if stores.Reader == nil {
		slog.Error("Cannot show transcript", "backend", stores.Backend, "error", control.ErrNoTranscriptReader)
		os.Exit(1)
	}

	msgs, err := stores.Reader.Load(ctx, args[0])
	if errors.Is(err, storage.ErrTranscriptNotFound) {
		fmt.Fprintf(cmd.OutOrStdout(), "no transcript for %s\n", args[0])
		return
	}
	if err != nil {
		slog.Error("Failed to load transcript", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "#\tROLE\tCREATED\tEDITED\tCONTENT")
	for i, m := range msgs {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n", i+1, m.Role, m.CreatedAt.Format(time.RFC3339), m.IsEdited, m.Content)
	}
	_ = w.Flush()

	attempts, err := stores.Attempts.ListByConversation(ctx, args[0])
	if err != nil || len(attempts) == 0 {
		return
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout())
	w = tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "TURN\tATTEMPT\tMODEL\tSTATUS\tERROR\tDURATION")
	for _, a := range attempts {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			a.TurnID, a.Number, a.Model, a.Status, a.ErrorKind, a.EndedAt.Sub(a.StartedAt).Round(time.Millisecond))
	}
	_ = w.Flush()
}

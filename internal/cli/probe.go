package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/streamchat/internal/chat/connection"
	"github.com/vietddude/streamchat/internal/control"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run the connectivity probe once and print the result",
	Run:   runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	prober, err := control.NewProber(cfg.Connection)
	if err != nil {
		slog.Error("Failed to create prober", "error", err)
		os.Exit(1)
	}
	if prober == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "no probe configured (connection.probe: none)")
		return
	}
	if gp, ok := prober.(*connection.GRPCProber); ok {
		defer gp.Close()
	}

	monCfg := connection.DefaultConfig()
	monCfg.ProbeTimeout = cfg.Connection.ProbeTimeout
	mon := connection.NewMonitor(monCfg, prober)
	mon.SetPlatformOnline(connection.InterfacesUp())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Connection.ProbeTimeout+time.Second)
	defer cancel()
	probeErr := mon.Probe(ctx)

	st := mon.Stats()
	fmt.Fprintf(cmd.OutOrStdout(), "status=%s platform_online=%t latency=%s\n",
		st.Status, st.PlatformOnline, st.LastProbeLatency.Round(time.Millisecond))
	if probeErr != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "error: %v\n", probeErr)
		os.Exit(1)
	}
}

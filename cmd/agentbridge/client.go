package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fpt/agentbridge/internal/config"
	"github.com/fpt/agentbridge/internal/console"
	"github.com/fpt/agentbridge/internal/session"
	pkgLogger "github.com/fpt/agentbridge/pkg/logger"
)

var (
	clientURL       string
	clientHandshake session.BusConfig
	clientHistory   string
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Connect to a bridge and send instructions interactively",
	Long: `Connect to a running bridge, perform the handshake and forward each input
line. Missing handshake fields are prompted for when stdin is a terminal.`,
	RunE: runClient,
}

func init() {
	rootCmd.AddCommand(clientCmd)
	f := clientCmd.Flags()
	f.StringVar(&clientURL, "url", "ws://localhost:8080/ws", "Bridge WebSocket URL")
	f.StringVar(&clientHandshake.GatewayIP, "gateway-ip", "", "ContextNet gateway host")
	f.IntVar(&clientHandshake.GatewayPort, "gateway-port", 0, "ContextNet gateway UDP port")
	f.StringVar(&clientHandshake.AgentUUID, "agent", "", "UUID this session uses on the bus")
	f.StringVar(&clientHandshake.DestinationUUID, "destination", "", "UUID of the agent receiving commands")
	f.StringVar(&clientHistory, "history", "", "Line editor history file (default: ~/.agentbridge/client_history.txt)")
}

func runClient(cmd *cobra.Command, args []string) error {
	history := clientHistory
	if history == "" {
		if uc, err := config.DefaultUserConfig(); err == nil {
			history = uc.HistoryFile
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	return console.Run(ctx, console.Options{
		URL:         clientURL,
		Handshake:   clientHandshake,
		HistoryFile: history,
		Logger:      pkgLogger.NewLoggerWithOptions(pkgLogger.Options{Level: pkgLogger.LogLevelWarn, Console: os.Stderr, FilePath: "-"}),
	})
}

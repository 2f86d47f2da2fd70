package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "agentbridge",
	Short: "agentbridge - drive a multi-agent bus with natural language",
	Long: `agentbridge accepts WebSocket clients, translates their text into agent
commands with an LLM and delivers the commands over a ContextNet agent bus.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.Version = Version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

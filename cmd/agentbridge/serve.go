package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fpt/agentbridge/internal/bridge"
	"github.com/fpt/agentbridge/internal/config"
	"github.com/fpt/agentbridge/internal/infra"
	"github.com/fpt/agentbridge/internal/repository"
	"github.com/fpt/agentbridge/internal/session"
	"github.com/fpt/agentbridge/internal/translation"
	"github.com/fpt/agentbridge/pkg/client"
	"github.com/fpt/agentbridge/pkg/client/ollama"
	pkgLogger "github.com/fpt/agentbridge/pkg/logger"
)

var (
	serveConfig   string
	serveLogLevel string
	serveAddr     string
	serveBackend  string
	serveModel    string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket bridge",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveConfig, "config", "c", "", "Path to settings file (default: ./.agentbridge or ~/.agentbridge)")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address, overrides server.addr")
	serveCmd.Flags().StringVarP(&serveBackend, "backend", "b", "", "LLM backend (ollama, anthropic, openai, or gemini)")
	serveCmd.Flags().StringVarP(&serveModel, "model", "m", "", "Model name to use")
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, err := config.LoadSettings(serveConfig)
	if err != nil {
		return errors.Wrap(err, "failed to load settings")
	}

	if serveBackend != "" {
		settings.LLM = config.GetDefaultLLMSettingsForBackend(serveBackend)
	}
	if serveModel != "" {
		settings.LLM.Model = serveModel
	}
	if serveAddr != "" {
		settings.Server.Addr = serveAddr
	}
	if serveLogLevel != "" {
		settings.Log.Level = serveLogLevel
	}
	if err := config.ValidateSettings(settings); err != nil {
		return errors.Wrap(err, "settings validation failed")
	}
	if err := config.ValidateCredentials(settings.LLM); err != nil {
		return err
	}

	logger := pkgLogger.NewLoggerWithOptions(pkgLogger.Options{
		Level:    pkgLogger.LogLevel(settings.Log.Level),
		Console:  os.Stdout,
		FilePath: settings.Log.File,
		OTel:     settings.Log.OTel,
	})
	pkgLogger.SetGlobalLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if settings.LLM.Backend == "ollama" && !ollama.IsModelInKnownList(settings.LLM.Model) {
		logger.Warn("Model not in known list, context window falls back to num_ctx",
			"model", settings.LLM.Model, "num_ctx", settings.LLM.NumCtx)
	}
	llm, err := client.NewSessionLLM(ctx, settings.LLM)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s client", settings.LLM.Backend)
	}

	template, err := translation.LoadTemplate(settings.Translation.PromptTemplate)
	if err != nil {
		return err
	}
	var transcripts repository.TranscriptRepository
	if dir := settings.Translation.TranscriptDir; dir != "" {
		transcripts = infra.NewFileTranscriptRepository(dir)
	}
	translator := translation.NewService(llm, translation.Options{
		PoolSize:           settings.Translation.PoolSize,
		TokenWarnThreshold: settings.Translation.TokenWarnThreshold,
		Template:           template,
		Logger:             logger.WithComponent("translation"),
		Transcripts:        transcripts,
	})
	defer translator.Close()

	controller := bridge.NewController(
		session.NewRegistry(),
		translator,
		bridge.ContextNetChannels(settings.Bus, logger),
		bridge.OptionsFromSettings(settings.Bus, logger.WithComponent("bridge")),
	)
	server := bridge.NewServer(settings.Server, controller, logger)

	fmt.Println("agentbridge starting...")
	fmt.Printf("  Listen: %s%s\n", settings.Server.Addr, settings.Server.Path)
	fmt.Printf("  Model:  %s (%s)\n", llm.ModelID(), settings.LLM.Backend)
	fmt.Printf("  Plans:  %s,%s within %s\n", settings.Bus.PlanPerformative, settings.Bus.PlanContent, settings.Bus.PlanTimeout)
	fmt.Println()

	return server.Run(ctx)
}

package main

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/fpt/agentbridge/internal/config"
	"github.com/fpt/agentbridge/internal/infra"
	"github.com/fpt/agentbridge/pkg/message"
)

var (
	transcriptConfig string
	transcriptDir    string
	transcriptClear  bool
)

var transcriptCmd = &cobra.Command{
	Use:   "transcript <session-id>",
	Short: "Show or delete the saved translation transcript of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runTranscript,
}

func init() {
	rootCmd.AddCommand(transcriptCmd)
	f := transcriptCmd.Flags()
	f.StringVarP(&transcriptConfig, "config", "c", "", "Path to settings file")
	f.StringVar(&transcriptDir, "dir", "", "Transcript directory, overrides translation.transcript_dir")
	f.BoolVar(&transcriptClear, "clear", false, "Delete the transcript instead of printing it")
}

func runTranscript(cmd *cobra.Command, args []string) error {
	dir := transcriptDir
	if dir == "" {
		settings, err := config.LoadSettings(transcriptConfig)
		if err != nil {
			return errors.Wrap(err, "failed to load settings")
		}
		dir = settings.Translation.TranscriptDir
	}
	if dir == "" {
		return errors.New("transcripts are disabled: set translation.transcript_dir or pass --dir")
	}

	repo := infra.NewFileTranscriptRepository(dir)
	if transcriptClear {
		if err := repo.Clear(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted transcript %s\n", args[0])
		return nil
	}

	turns, err := repo.Load(args[0])
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return errors.Errorf("no transcript for session %s in %s", args[0], dir)
	}
	printTranscript(cmd.OutOrStdout(), turns)
	return nil
}

func printTranscript(w io.Writer, turns []message.Message) {
	total := 0
	for _, turn := range turns {
		fmt.Fprintf(w, "[%s]", turn.Type())
		if turn.InputTokens() > 0 {
			fmt.Fprintf(w, " (in:%d out:%d)", turn.InputTokens(), turn.OutputTokens())
		}
		fmt.Fprintf(w, "\n%s\n\n", turn.Content())
		total += turn.TotalTokens()
	}
	fmt.Fprintf(w, "%d turns, %d tokens\n", len(turns), total)
}

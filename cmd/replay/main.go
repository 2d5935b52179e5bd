// Command replay feeds a recorded transcript through the conversation engine
// and prints the decision taken on every turn.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/diagnostician/internal/anthropic"
	"github.com/MikeSquared-Agency/diagnostician/internal/config"
	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
	"github.com/MikeSquared-Agency/diagnostician/internal/engine"
	"github.com/MikeSquared-Agency/diagnostician/internal/transcript"
)

var version = "dev"

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

type replayOptions struct {
	transcript string
	policy     string
	offline    bool
	jsonOut    bool
	verbose    bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	var opts replayOptions

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a transcript through the diagnostician engine",
		Long: `Replay reads the user messages of a transcript and runs them through the
engine one turn at a time, printing the action, rule, phase and reply.

The transcript is a JSON array of strings or of {"role", "content"} turns,
or a JSONL export with one message event per line. Only user turns are
replayed.`,
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, out)
		},
	}

	cmd.Flags().StringVarP(&opts.transcript, "transcript", "t", "", "path to the transcript JSON file")
	cmd.Flags().StringVarP(&opts.policy, "policy", "p", "", "path to a YAML policy file")
	cmd.Flags().BoolVar(&opts.offline, "offline", false, "do not call the completion service; every fallback path runs")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "print one JSON object per turn")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log engine activity to stderr")
	_ = cmd.MarkFlagRequired("transcript")

	return cmd
}

func runReplay(ctx context.Context, opts replayOptions, out io.Writer) error {
	messages, err := loadTranscript(opts.transcript)
	if err != nil {
		return err
	}

	policy, err := config.LoadPolicy(opts.policy)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var analyzer, generator anthropic.Completer
	if opts.offline {
		analyzer, generator = offlineCompleter{}, offlineCompleter{}
	} else {
		cfg := config.Load()
		if cfg.AnthropicAPIKey == "" {
			return errors.New("ANTHROPIC_API_KEY is required unless --offline is set")
		}
		cfg.ApplyTimeouts(&policy, policy)
		analyzer = anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnalyzerModel)
		generator = anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	}

	eng := engine.New(analyzer, generator, policy, logger)
	return replay(ctx, eng, messages, opts.jsonOut, out)
}

type turnLine struct {
	Turn       int                 `json:"turn"`
	Message    string              `json:"message"`
	Action     conversation.Action `json:"action"`
	Rule       string              `json:"rule"`
	Phase      conversation.Phase  `json:"phase"`
	Reply      string              `json:"reply"`
	Violations int                 `json:"violations,omitempty"`
	Fallback   bool                `json:"fallback,omitempty"`
	Complete   bool                `json:"complete,omitempty"`
}

func replay(ctx context.Context, eng *engine.Engine, messages []string, jsonOut bool, out io.Writer) error {
	state := conversation.NewState("replay")
	var history []conversation.Turn
	enc := json.NewEncoder(out)

	for i, msg := range messages {
		res := eng.ProcessTurn(ctx, msg, history, state)
		line := turnLine{
			Turn:       i + 1,
			Message:    msg,
			Action:     res.Decision.Action,
			Rule:       res.Decision.Rule,
			Phase:      res.State.Phase,
			Reply:      res.Reply,
			Violations: len(res.Violations),
			Fallback:   res.Fallback,
			Complete:   res.Complete,
		}
		if jsonOut {
			if err := enc.Encode(line); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(out, "turn %d  action=%s rule=%s phase=%s\n", line.Turn, line.Action, line.Rule, line.Phase)
			fmt.Fprintf(out, "  user: %s\n  reply: %s\n", msg, res.Reply)
		}

		history = append(history,
			conversation.Turn{Role: conversation.RoleUser, Content: msg},
			conversation.Turn{Role: conversation.RoleAssistant, Content: res.Reply, Action: res.Decision.Action},
		)
		state = res.State
		if res.Complete {
			if !jsonOut {
				fmt.Fprintf(out, "session complete after %d turns\n", line.Turn)
			}
			return nil
		}
	}
	return nil
}

func loadTranscript(path string) ([]string, error) {
	turns, err := transcript.Load(path)
	if err != nil {
		return nil, err
	}
	return transcript.UserMessages(turns)
}

// offlineCompleter fails every call.
type offlineCompleter struct{}

func (offlineCompleter) Complete(context.Context, string, []anthropic.Message, int) (string, error) {
	return "", errors.New("offline")
}

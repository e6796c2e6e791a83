package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/chatmem"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/summarizer"
)

func init() {
	summarize := &cobra.Command{
		Use:   "summarize",
		Short: "Summarize unsummarized messages, or a range with --from/--to",
		Args:  cobra.NoArgs,
		RunE:  withSession(runSummarize),
	}
	summarize.Flags().Int("from", -1, "first message index")
	summarize.Flags().Int("to", -1, "last message index")

	auto := &cobra.Command{
		Use:   "auto",
		Short: "Run the automatic check once: summarize whole groups when enough messages are pending",
		Args:  cobra.NoArgs,
		RunE:  withSession(runAuto),
	}

	resummarize := &cobra.Command{
		Use:   "resummarize [index]",
		Short: "Redo the summary covering index, or every invalidated/failed summary",
		Args:  cobra.MaximumNArgs(1),
		RunE:  withSession(runResummarize),
	}
	resummarize.Flags().Bool("invalidated", false, "redo every summary invalidated by a swipe")
	resummarize.Flags().Bool("failed", false, "redo every incomplete or parse-failed summary")

	rootCmd.AddCommand(summarize, auto, resummarize)
}

func runSummarize(cmd *cobra.Command, _ []string, s *session) error {
	from, _ := cmd.Flags().GetInt("from")
	to, _ := cmd.Flags().GetInt("to")

	opts := summarizer.RunOptions{
		OnProgress: func(p summarizer.Progress) {
			s.logger.Info("window stored",
				"window", p.Window, "windows", p.Windows,
				"range", p.Range.String(), "processed", p.Processed)
		},
	}
	switch {
	case from < 0 && to < 0:
	case from < 0 || to < from:
		return fmt.Errorf("summarize: invalid range --from %d --to %d", from, to)
	default:
		opts.Range = &chatmem.Range{Start: from, End: to}
	}
	return report(cmd, s.Summarizer().Run(cmd.Context(), opts))
}

func runAuto(cmd *cobra.Command, _ []string, s *session) error {
	return report(cmd, s.Summarizer().RunAuto(cmd.Context()))
}

func runResummarize(cmd *cobra.Command, args []string, s *session) error {
	ctx := cmd.Context()
	invalidated, _ := cmd.Flags().GetBool("invalidated")
	failed, _ := cmd.Flags().GetBool("failed")

	if len(args) == 1 {
		if invalidated || failed {
			return errors.New("resummarize: pass an index or a flag, not both")
		}
		i, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("resummarize: index %q: %w", args[0], err)
		}
		return report(cmd, s.Summarizer().Resummarize(ctx, i))
	}

	var ranges []chatmem.Range
	if invalidated {
		ranges = append(ranges, s.Store().InvalidatedRanges(ctx)...)
	}
	if failed {
		ranges = append(ranges, s.Store().FailedRanges(ctx)...)
	}
	if !invalidated && !failed {
		return errors.New("resummarize: pass an index, --invalidated or --failed")
	}
	if len(ranges) == 0 {
		return emit(cmd, "nothing to resummarize", map[string]int{"ranges": 0})
	}
	return report(cmd, s.Summarizer().ResummarizeGroups(ctx, ranges))
}

// report prints a run result and turns a failed run into the command error.
func report(cmd *cobra.Command, res summarizer.Result) error {
	text := fmt.Sprintf("processed %d (failed %d, incomplete %d) in %d window(s)",
		res.Processed, res.Failed, res.Incomplete, res.Windows)
	if res.Skipped {
		text = "nothing to summarize"
	}
	out := struct {
		Success    bool   `json:"success"`
		Skipped    bool   `json:"skipped,omitempty"`
		Processed  int    `json:"processed"`
		Failed     int    `json:"failed"`
		Incomplete int    `json:"incomplete"`
		Windows    int    `json:"windows"`
		Error      string `json:"error,omitempty"`
	}{res.Success, res.Skipped, res.Processed, res.Failed, res.Incomplete, res.Windows, ""}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	if err := emit(cmd, text, out); err != nil {
		return err
	}
	return res.Err
}

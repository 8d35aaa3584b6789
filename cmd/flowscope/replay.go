package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/flowscope/pkg/filesource"
	"github.com/codeready-toolchain/flowscope/pkg/masking"
	"github.com/codeready-toolchain/flowscope/pkg/models"
	"github.com/codeready-toolchain/flowscope/pkg/timeline"
	"github.com/codeready-toolchain/flowscope/pkg/view"
)

type replayOptions struct {
	filter string
	search string
	json   bool
}

func newReplayCmd(root *rootOptions) *cobra.Command {
	opts := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay <file>",
		Short: "Fold a JSONL history file and print its timeline",
		Long: "Reads every event of a JSONL history file, folds it in replay mode and\n" +
			"prints the projected sections. Output is text on a terminal and JSON otherwise.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			filter, err := view.ParseFilter(opts.filter)
			if err != nil {
				return err
			}

			file, err := filesource.ReadFile(args[0])
			if err != nil {
				return err
			}

			session := timeline.NewSession()
			timeline.NewReducer(cfg.Reducer.Timeline(timeline.ModeReplay)).Apply(session, file.Events)
			masker := masking.NewService(cfg.Masking)

			resp := models.ReplayResponse{
				WorkflowID:  filepath.Base(args[0]),
				EventCount:  len(file.Events),
				Skipped:     len(file.Skipped),
				Filter:      string(filter),
				Query:       opts.search,
				Sections:    view.Project(masker.MaskSections(session.Sections()), filter, opts.search),
				Subagents:   masker.MaskSubagents(session.SubagentSessions()),
				Diagnostics: session.Diagnostics(),
			}

			out := cmd.OutOrStdout()
			if opts.json || !isTerminal(out) {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			return writeReplayText(out, &resp, file.Skipped)
		},
	}

	cmd.Flags().StringVar(&opts.filter, "filter", "all", "Item kinds to show (all, thinking, tool_call, output)")
	cmd.Flags().StringVar(&opts.search, "search", "", "Case-insensitive text search over items")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print JSON even on a terminal")
	return cmd
}

func writeReplayText(w io.Writer, resp *models.ReplayResponse, skipped []filesource.LineError) error {
	fmt.Fprintf(w, "%s: %d events, %d sections, %d subagents\n",
		resp.WorkflowID, resp.EventCount, len(resp.Sections), len(resp.Subagents))
	for _, le := range skipped {
		fmt.Fprintf(w, "skipped %v\n", le)
	}
	if err := view.WriteText(w, resp.Sections, resp.Subagents); err != nil {
		return err
	}
	for _, d := range resp.Diagnostics {
		fmt.Fprintf(w, "diagnostic #%d %s: %s %s\n", d.Sequence, d.Kind, d.Reason, d.Detail)
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

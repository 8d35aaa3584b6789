package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codeready-toolchain/flowscope/pkg/events"
	"github.com/codeready-toolchain/flowscope/pkg/filesource"
	"github.com/codeready-toolchain/flowscope/pkg/monitor"
	"github.com/codeready-toolchain/flowscope/pkg/timeline"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch <file>",
		Short: "Follow a JSONL history file and print a summary after every fold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			workflowID := filepath.Base(args[0])
			printer := &summaryPrinter{out: cmd.OutOrStdout()}
			mon := monitor.New(nil, printer, cfg.Monitor, cfg.Reducer.Timeline(timeline.ModeLive))
			defer mon.Stop()

			watcher, err := filesource.NewWatcher(args[0], &monitorSink{monitor: mon, workflowID: workflowID}, debounce)
			if err != nil {
				return err
			}
			slog.Info("Watching history file", "path", args[0])
			return watcher.Run(ctx)
		},
	}

	cmd.Flags().DurationVar(&debounce, "debounce", filesource.DefaultDebounce, "Quiet period before rereading the file")
	return cmd
}

// monitorSink feeds file changes into a single monitor workflow.
type monitorSink struct {
	monitor    *monitor.Monitor
	workflowID string
}

func (s *monitorSink) Append(ctx context.Context, evs []timeline.Event) error {
	return s.monitor.Append(ctx, s.workflowID, evs...)
}

func (s *monitorSink) Replace(ctx context.Context, evs []timeline.Event) error {
	return s.monitor.Replace(ctx, s.workflowID, evs)
}

// summaryPrinter writes one line per session update.
type summaryPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *summaryPrinter) Broadcast(_ string, payload []byte) {
	var u events.SessionUpdatedPayload
	if err := json.Unmarshal(payload, &u); err != nil {
		slog.Warn("Ignoring malformed session update", "error", err)
		return
	}

	line := fmt.Sprintf("%s cursor=%d sections=%d subagents=%d bytes=%d folded=%d",
		u.Timestamp, u.Cursor, u.SectionCount, u.SubagentCount, u.ApproxBytes, u.Folded)
	if u.Evicted > 0 {
		line += fmt.Sprintf(" evicted=%d", u.Evicted)
	}
	if u.Dropped > 0 {
		line += fmt.Sprintf(" dropped=%d", u.Dropped)
	}
	if u.Reset {
		line += " reset"
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

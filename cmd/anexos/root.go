package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiss-anexos/intake/internal/batch"
	"github.com/tiss-anexos/intake/internal/config"
	"github.com/tiss-anexos/intake/internal/intake"
)

// pipelineFlags are shared by every command that plans or submits.
type pipelineFlags struct {
	configPath  string
	backend     string
	groupSize   int
	maxSingleKB int
	order       string
	attempts    int
	retryDelay  time.Duration
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "anexos",
		Short:         "Submit TISS claim attachments to the processing backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSubmitCommand(), newPlanCommand())
	return root
}

func (f *pipelineFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.configPath, "config", "", "XML or YAML config file")
	flags.StringVar(&f.backend, "backend", "", "backend base URL")
	flags.IntVar(&f.groupSize, "group-size", batch.DefaultGroupSize, "small PDFs per batch")
	flags.IntVar(&f.maxSingleKB, "max-single-kb", 800, "PDFs above this size (KiB) are sent alone")
	flags.StringVar(&f.order, "order", string(batch.OrderLargeFirst), "batch order: large-first or discovery")
	flags.IntVar(&f.attempts, "attempts", 2, "attempts per batch")
	flags.DurationVar(&f.retryDelay, "retry-delay", 2*time.Second, "wait before every retry")
}

// load builds the effective config: file (or defaults), then explicit flags.
func (f *pipelineFlags) load(cmd *cobra.Command) (*config.AppConfig, error) {
	cfg := config.DefaultConfig()
	if f.configPath != "" {
		loaded, err := config.LoadConfig(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend.BaseURL = f.backend
	}
	if flags.Changed("group-size") {
		cfg.Batching.GroupSize = f.groupSize
	}
	if flags.Changed("max-single-kb") {
		cfg.Batching.MaxSingleSizeKB = f.maxSingleKB
	}
	if flags.Changed("order") {
		order, err := batch.ParseOrder(f.order)
		if err != nil {
			return nil, err
		}
		cfg.Batching.Order = string(order)
	}
	if flags.Changed("attempts") {
		cfg.Batching.MaxAttempts = f.attempts
	}
	if flags.Changed("retry-delay") {
		cfg.Batching.RetryDelayMs = int(f.retryDelay.Milliseconds())
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// selectPaths feeds paths through the same classification as the service.
// The path itself is the file ID.
func selectPaths(sel *intake.Selection, paths []string) (intake.AddResult, error) {
	candidates := make([]intake.Candidate, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return intake.AddResult{}, fmt.Errorf("reading %s: %w", p, err)
		}
		if info.IsDir() {
			return intake.AddResult{}, fmt.Errorf("%s is a directory", p)
		}
		candidates = append(candidates, intake.Candidate{Name: filepath.Base(p), Size: info.Size()})
	}

	return sel.Add(candidates, func(i int, _ intake.Candidate) (string, error) {
		return paths[i], nil
	}), nil
}

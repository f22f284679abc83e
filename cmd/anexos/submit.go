package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tiss-anexos/intake/internal/events"
	"github.com/tiss-anexos/intake/internal/intake"
	"github.com/tiss-anexos/intake/internal/loader"
	"github.com/tiss-anexos/intake/internal/models"
	"github.com/tiss-anexos/intake/internal/report"
	"github.com/tiss-anexos/intake/internal/run"
)

var (
	infoColor    = color.New(color.Reset)
	successColor = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	timeColor    = color.New(color.FgHiBlack)
)

func newSubmitCommand() *cobra.Command {
	var (
		flags  pipelineFlags
		legacy bool
	)

	cmd := &cobra.Command{
		Use:   "submit [files...]",
		Short: "Submit XML claims and their PDF attachments",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			mode := run.ModeBatch
			if legacy {
				mode = run.ModeLegacy
			}
			return runSubmit(cmd, args, run.SettingsFromConfig(cfg), run.NewBackend(cfg), mode)
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&legacy, "legacy", false, "send every file in one multipart request")
	return cmd
}

func runSubmit(cmd *cobra.Command, paths []string, settings run.Settings, backend run.Backend, mode string) error {
	out := cmd.OutOrStdout()

	log := events.NewLog(0)
	stream, unsubscribe := log.Subscribe(4096)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range stream {
			printEvent(out, ev)
		}
	}()

	selection := intake.NewSelection(log)
	mgr := run.NewManager(run.Options{
		Selection: selection,
		Source:    loader.PathSource{},
		Log:       log,
		Backend:   backend,
		Settings:  settings,
	})

	finish := func() {
		unsubscribe()
		<-printed
	}

	if _, err := selectPaths(selection, paths); err != nil {
		finish()
		errorColor.Fprintln(out, err)
		return err
	}

	started, err := mgr.Start(cmd.Context(), mode)
	if err != nil {
		finish()
		errorColor.Fprintln(out, err)
		return err
	}
	mgr.Wait()
	finish()

	rep, err := mgr.Report(started.ID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	if err := report.Render(out, rep); err != nil {
		return err
	}

	switch {
	case rep.Status == models.RunStatusError:
		return fmt.Errorf("run failed: %s", rep.RunError)
	case rep.Summary.ErrorCount > 0:
		return fmt.Errorf("%d of %d item(s) failed", rep.Summary.ErrorCount, rep.Summary.TotalItems)
	}
	return nil
}

func printEvent(w io.Writer, ev models.Event) {
	c := infoColor
	switch ev.Level {
	case models.LevelSuccess:
		c = successColor
	case models.LevelWarning:
		c = warningColor
	case models.LevelError:
		c = errorColor
	}
	timeColor.Fprintf(w, "[%s] ", ev.Time.Format("15:04:05"))
	c.Fprintln(w, ev.Message)
}

package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/waldiez/jupyter-runner/kernel"
	"github.com/waldiez/jupyter-runner/runner"
)

var errNoInputRequested = errors.New("no input requested")

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run FLOW",
		Short: "Run a flow and answer its input requests from the terminal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			k, err := openKernel(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer k.Close()
			return a.runStandard(ctx, k, args[0])
		},
	}
}

// runStandard runs the flow at path on k until the session ends.
func (a *app) runStandard(ctx context.Context, k kernel.Kernel, path string) error {
	r := runner.NewStandard(nil)
	ui := newStandardConsole(a.out)
	end, done := endSignal()
	r.SetOnUpdate(ui.update)
	r.SetOnEnd(end)
	if a.cfg != nil && a.cfg.StreamLog {
		streams := &streamLog{}
		defer streams.Close()
		r.SetOnOutput(streams.write)
	}

	if err := r.Run(ctx, k, path); err != nil {
		return err
	}
	return a.drive(ctx, flowRun{
		done: done,
		answer: func(ctx context.Context, line string) error {
			req := r.ActiveRequest()
			if req == nil {
				return errNoInputRequested
			}
			return k.SendInputReply(ctx, runner.InputResponse(req.RequestID, line), req.Metadata)
		},
		interrupt: func(ctx context.Context) error { return r.Interrupt(ctx, k) },
		reset:     r.Reset,
	})
}

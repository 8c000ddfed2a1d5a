package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/waldiez/jupyter-runner/kernel"
	"github.com/waldiez/jupyter-runner/runner"
)

func newStepCmd(a *app) *cobra.Command {
	var (
		breakpoints []string
		checkpoint  string
	)
	cmd := &cobra.Command{
		Use:   "step FLOW",
		Short: "Run a flow step by step under the debugger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			var cp *string
			if cmd.Flags().Changed("checkpoint") {
				cp = &checkpoint
			}
			k, err := openKernel(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer k.Close()
			return a.runStep(ctx, k, args[0], breakpoints, cp)
		},
	}
	cmd.Flags().StringSliceVarP(&breakpoints, "breakpoint", "b", nil, "pause at this event type or agent (repeatable)")
	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "resume from this checkpoint")
	return cmd
}

// runStep runs the flow at path in debug mode on k until the session ends.
func (a *app) runStep(ctx context.Context, k kernel.Kernel, path string, breakpoints []string, checkpoint *string) error {
	r := runner.NewStep(nil)
	ui := newStepConsole(a.out)
	end, done := endSignal()
	r.SetOnUpdate(ui.update)
	r.SetOnEnd(end)
	if a.cfg != nil && a.cfg.StreamLog {
		streams := &streamLog{}
		defer streams.Close()
		r.SetOnOutput(streams.write)
	}

	if err := r.ExecuteStepByStep(ctx, k, path, breakpoints, checkpoint); err != nil {
		return err
	}
	return a.drive(ctx, flowRun{
		done: done,
		answer: func(ctx context.Context, line string) error {
			v := r.View()
			switch {
			case v.Pending != nil:
				reply, err := controlReply(v.Pending.RequestID, line)
				if err != nil {
					return err
				}
				return k.SendInputReply(ctx, reply, requestMetadata(r, v.Pending.RequestID))
			case v.ActiveRequest != nil:
				req := v.ActiveRequest
				return k.SendInputReply(ctx, runner.InputResponse(req.RequestID, line), req.Metadata)
			}
			return errNoInputRequested
		},
		interrupt: func(ctx context.Context) error { return r.Interrupt(ctx, k) },
		reset:     r.Reset,
	})
}

// controlReply turns a typed debugger command ("s", "ab agent:writer") into
// the reply for requestID. An empty line continues.
func controlReply(requestID, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return runner.ControlResponse(requestID, runner.ActionContinue)
	}
	action, ok := runner.ParseControlAction(fields[0])
	if !ok {
		return "", fmt.Errorf("unknown debugger command %q", fields[0])
	}
	return runner.ControlResponse(requestID, action, fields[1:]...)
}

// requestMetadata returns the metadata of the stdin request the kernel is
// blocked on, falling back to one built from requestID.
func requestMetadata(r *runner.Step, requestID string) map[string]any {
	if req := r.Session().InputRequest; req != nil && req.Metadata != nil {
		return req.Metadata
	}
	return map[string]any{"request_id": requestID}
}

// Package runner executes waldiez flows on a kernel and turns the kernel's
// output into conversation state.
//
// # Overview
//
// A flow prints structured JSON events, one per line, mixed with ordinary
// print output and a final human readable banner. The runner submits the
// generated flow code to a kernel.Kernel, reads the resulting future and
// interprets each stdout line.
//
// # Base
//
// Base is the state machine owning the single in-flight execution:
//
//	idle -> running -> (awaiting input <-> running) -> idle
//
// ExecuteFile is the only way into running and is rejected with
// ErrAlreadyRunning while a run is active. A dispatch goroutine consumes the
// future: stdin requests go to Processor.HandleStdin, stdout lines to
// Processor.HandleOutput, and a kernel error marks the run as not running.
// Every run has a number; hooks drop input whose run is no longer current.
// When the future settles Base resets and fires the session end callback.
// Reset disposes the future; anything still arriving for it is dropped.
//
// # Standard and Step
//
// Standard accumulates messages, user participants and the latest timeline
// and publishes changes as Update patches:
//
//	r := runner.NewStandard(nil)
//	var view runner.View
//	r.SetOnUpdate(view.Apply)
//	r.SetOnEnd(func() { close(done) })
//	if err := r.Run(ctx, k, "flow.waldiez"); err != nil {
//	    return err
//	}
//
// Step runs the flow in debug mode and tracks debugger state (current event,
// stats, breakpoints) in a StepView. ControlResponse builds the reply for a
// debugger prompt, InputResponse the reply for a user input request.
//
// # Thread Safety
//
// All runners are safe for concurrent use. Callbacks are invoked from the
// dispatch goroutine, in order, with no runner lock held, so they may call
// back into the runner. The session end callback fires at most once per run,
// whether the run ended through a workflow banner or the kernel completing.
package runner

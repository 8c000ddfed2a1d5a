package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/waldiez/jupyter-runner/cli"
	"github.com/waldiez/jupyter-runner/codegen"
	"github.com/waldiez/jupyter-runner/config"
	"github.com/waldiez/jupyter-runner/kernel/jupyter"
	"github.com/waldiez/jupyter-runner/logger"
	"github.com/waldiez/jupyter-runner/paths"
)

// probeTimeout bounds the doctor's server check.
const probeTimeout = 10 * time.Second

func newCodeCmd(a *app) *cobra.Command {
	var (
		mode        string
		breakpoints []string
		checkpoint  string
	)
	cmd := &cobra.Command{
		Use:         "code FLOW",
		Short:       "Print the python code submitted to the kernel for a flow",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			m := codegen.Mode(mode)
			if !m.Valid() {
				return fmt.Errorf("invalid mode %q (want %q or %q)", mode, codegen.ModeStandard, codegen.ModeDebug)
			}
			req := codegen.Request{FilePath: args[0], Mode: m, Breakpoints: breakpoints}
			if cmd.Flags().Changed("checkpoint") {
				req.Checkpoint = &checkpoint
			}
			fmt.Fprint(cmd.OutOrStdout(), codegen.Generate(req))
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(codegen.ModeStandard), "run mode: standard or debug")
	cmd.Flags().StringSliceVarP(&breakpoints, "breakpoint", "b", nil, "breakpoint (repeatable)")
	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "checkpoint to resume from")
	return cmd
}

func newUploadsRootCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "uploads-root PATH",
		Short:       "Print the uploads folder used for a flow file",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), codegen.UploadsRoot(args[0]))
			return nil
		},
	}
}

func newDoctorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that flows can run with the current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			backend := a.cfg.GetBackend()
			fmt.Fprintf(out, "Backend: %s\n", backend)

			prereqs := cli.DefaultPrerequisites(a.cfg.SubprocessSettings().Python, backend == config.BackendSubprocess)
			results := cli.CheckAll(prereqs)
			fmt.Fprint(out, cli.FormatCheckResults(results))
			problems := cli.MissingRequired(results)

			if backend == config.BackendJupyter {
				cfg := jupyterConfig(a.cfg)
				ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
				defer cancel()
				version, err := jupyter.ServerVersion(ctx, cfg)
				if err != nil {
					fmt.Fprintf(out, "Jupyter server:\n  ✗ %s: %v\n", cfg.BaseURL, err)
					problems = errors.Join(problems, fmt.Errorf("jupyter server %s: %w", cfg.BaseURL, err))
				} else {
					fmt.Fprintf(out, "Jupyter server:\n  ✓ %s (%s)\n", cfg.BaseURL, version)
				}
			}
			layout := "xdg"
			if paths.IsLegacyLayout() {
				layout = "legacy"
			}
			fmt.Fprintf(out, "Config file: %s (%s layout)\n", a.cfg.FilePath(), layout)
			if path := logger.Path(); path != "" {
				fmt.Fprintf(out, "Log file: %s\n", path)
			}
			return problems
		},
	}
}

// attach connects to the configured kernel for a lifecycle command. Only
// kernels on a Jupyter server outlive the process that started them.
func (a *app) attach(cmd *cobra.Command) (*jupyter.Client, error) {
	if a.cfg.GetBackend() != config.BackendJupyter {
		return nil, errors.New("this command needs the jupyter backend; stop a subprocess run with Ctrl-C")
	}
	cfg := jupyterConfig(a.cfg)
	if cfg.KernelID == "" {
		return nil, errors.New("no kernel to act on: pass --kernel-id or set jupyter.kernel_id")
	}
	return jupyter.Dial(cmd.Context(), cfg, logger.WithComponent("jupyter"))
}

func newInterruptCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "interrupt",
		Short: "Interrupt the code running on a Jupyter kernel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.attach(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Interrupt(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "interrupted kernel %s\n", c.KernelID())
			return nil
		},
	}
}

func newRestartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart a Jupyter kernel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.attach(cmd)
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.Restart(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restarted kernel %s\n", c.KernelID())
			return nil
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the saved configuration",
	}

	// Flag overrides apply to this process only, so edits start from the
	// file as saved.
	saved := func() (*config.Config, error) {
		return config.LoadFile(a.cfg.FilePath())
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", a.cfg.FilePath(), a.cfg)
				return nil
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file path",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				fmt.Fprintln(cmd.OutOrStdout(), a.cfg.FilePath())
				return nil
			},
		},
		&cobra.Command{
			Use:   "set KEY VALUE",
			Short: "Set and save a value (keys: " + strings.Join(config.Keys(), ", ") + ")",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := saved()
				if err != nil {
					return err
				}
				if err := cfg.Set(args[0], args[1]); err != nil {
					return err
				}
				if err := cfg.Save(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", cfg.FilePath())
				return nil
			},
		},
	)
	return cmd
}

func newLogsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Locate or remove log files",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:         "path",
			Short:       "Print the logs directory",
			Args:        cobra.NoArgs,
			Annotations: map[string]string{skipConfig: "true"},
			RunE: func(cmd *cobra.Command, _ []string) error {
				dir, err := paths.LogsDir()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), dir)
				return nil
			},
		},
		&cobra.Command{
			Use:         "clear",
			Short:       "Remove the main log and all stream logs",
			Args:        cobra.NoArgs,
			Annotations: map[string]string{skipConfig: "true"},
			RunE: func(cmd *cobra.Command, _ []string) error {
				n, err := logger.ClearLogs()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d log files\n", n)
				return nil
			},
		},
	)
	return cmd
}

package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/waldiez/jupyter-runner/config"
	"github.com/waldiez/jupyter-runner/logger"
)

// skipConfig marks commands that work without loading the config file.
const skipConfig = "skip-config"

// app carries what every command shares: streams, flags and the loaded
// config.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	configPath string
	debug      bool
	overrides  map[string]*string // config key -> flag value

	cfg *config.Config
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{in: in, out: out, errOut: errOut, overrides: make(map[string]*string)}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "waldiez-runner",
		Short:         "Run waldiez flows on a Jupyter kernel",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfig] == "true" {
				return nil
			}
			return a.setup(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			logger.Close()
		},
	}
	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default is the user config dir)")
	flags.BoolVar(&a.debug, "debug", false, "enable debug logging")
	for _, f := range []struct{ key, name, usage string }{
		{"backend", "backend", "kernel backend: jupyter or subprocess"},
		{"jupyter.url", "url", "Jupyter server URL"},
		{"jupyter.token", "token", "Jupyter server token (default $" + config.TokenEnvVar + ")"},
		{"jupyter.kernel_id", "kernel-id", "attach to a running kernel instead of starting one"},
		{"jupyter.kernel_name", "kernel-name", "kernelspec to start"},
		{"subprocess.python", "python", "python interpreter for the subprocess backend"},
	} {
		a.overrides[f.key] = flags.String(f.name, "", f.usage)
	}

	root.AddCommand(
		newRunCmd(a),
		newStepCmd(a),
		newCodeCmd(a),
		newUploadsRootCmd(a),
		newDoctorCmd(a),
		newInterruptCmd(a),
		newRestartCmd(a),
		newConfigCmd(a),
		newLogsCmd(a),
	)
	return root
}

// setup loads the config, applies flag overrides and opens the log.
func (a *app) setup(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFile(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	for _, key := range config.Keys() {
		value, ok := a.overrides[key]
		if !ok || *value == "" {
			continue
		}
		if err := cfg.Set(key, *value); err != nil {
			return err
		}
	}
	a.cfg = cfg

	logPath := cfg.LogFile
	if logPath == "" {
		if logPath, err = logger.DefaultLogPath(); err != nil {
			return err
		}
	}
	if err := logger.Init(logPath); err != nil {
		return err
	}
	logger.SetDebug(a.debug || cfg.Debug)
	logger.WithComponent("cli").Debug("command started", "command", cmd.CommandPath(), "backend", cfg.GetBackend())
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"devconsole/internal/config"
	"devconsole/internal/logging"
)

// cli is the state shared by every subcommand.
type cli struct {
	cfgFile string
	v       *viper.Viper
	cfg     config.Config
	logger  logging.Logger
}

func newRootCommand() *cobra.Command {
	return (&cli{v: viper.New()}).command()
}

func (c *cli) command() *cobra.Command {
	root := &cobra.Command{
		Use:           "devconsole",
		Short:         "Developer diagnostics console",
		Long:          "devconsole serves a developer float panel with database, SEO, cache, flag and system inspectors, behind WeChat Work sign-in.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.initialize()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", os.Getenv("DEVCONSOLE_CONFIG"), "config file (yaml)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-file", "", "also append log lines to this file")
	bindFlag(c.v, "log.level", flags.Lookup("log-level"))
	bindFlag(c.v, "log.file", flags.Lookup("log-file"))

	root.AddCommand(
		newServeCommand(c),
		newPanelCommand(c),
		newInspectCommand(c),
		newSSOCommand(c),
	)
	return root
}

// initialize loads configuration and configures logging. Flags bound on c.v
// take precedence over the environment and the config file.
func (c *cli) initialize() error {
	cfg, err := config.Load(c.v, c.cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logging.Configure(logging.ParseLevel(cfg.Log.Level), cfg.Log.File); err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logging.NewComponentLogger("Main")
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// bindFlag lets a flag override key. A missing flag is a programming error.
func bindFlag(v *viper.Viper, key string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("bind %s: flag not defined", key))
	}
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind %s: %v", key, err))
	}
}

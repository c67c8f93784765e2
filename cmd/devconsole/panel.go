package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"devconsole/internal/devpanel/tui"
	"devconsole/internal/logging"
)

func newPanelCommand(c *cli) *cobra.Command {
	var style string
	cmd := &cobra.Command{
		Use:   "panel",
		Short: "Open the float panel in the terminal",
		Long:  "Open the float panel in the terminal. ctrl+d toggles it, arrows drag it, shift+arrows resize it; position and size are remembered.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return c.runPanel(ctx, style)
		},
	}
	cmd.Flags().StringVar(&style, "style", "dark", "markdown style for inspector views (dark, light, notty)")
	return cmd
}

func (c *cli) runPanel(ctx context.Context, style string) error {
	container, err := buildContainer(ctx, c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = container.Shutdown(shutdownCtx)
	}()

	if err := container.Flags.Start(ctx); err != nil {
		c.logger.Debug("feature flags will not reload: %v", err)
	}

	// Log lines would tear the alternate screen; only the log file keeps them.
	logging.Default().SetOutput(io.Discard)
	defer logging.Default().SetOutput(os.Stderr)

	return tui.Run(ctx, container.Panel, container.Registry, tui.WithMarkdownStyle(style))
}

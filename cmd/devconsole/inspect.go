package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"devconsole/internal/devpanel/inspect"
)

const (
	formatTable    = "table"
	formatMarkdown = "markdown"
	formatJSON     = "json"
)

func newInspectCommand(c *cli) *cobra.Command {
	var (
		format string
		params map[string]string
	)
	cmd := &cobra.Command{
		Use:   "inspect [inspector]",
		Short: "Print an inspector view, or list inspectors",
		Example: `  devconsole inspect
  devconsole inspect postgres-viewer -p table=public.users -p limit=5
  devconsole inspect "SEO Metadata" -p url=https://example.com --format markdown`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case formatTable, formatMarkdown, formatJSON:
			default:
				return fmt.Errorf("unknown format %q (want table, markdown or json)", format)
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			container, err := buildContainer(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = container.Shutdown(shutdownCtx)
			}()

			if len(args) == 0 {
				return writeInspectorList(cmd.OutOrStdout(), container.Registry)
			}
			key, ok := container.Registry.Resolve(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", inspect.ErrUnknownInspector, args[0])
			}
			view, err := container.Registry.Inspect(ctx, key, params)
			if err != nil {
				return err
			}
			return writeView(cmd.OutOrStdout(), view, format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "output format: table, markdown or json")
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "inspector parameter as key=value (repeatable)")
	return cmd
}

func writeInspectorList(w io.Writer, registry *inspect.Registry) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Inspector", "Slug", "Icon"})
	table.SetAutoFormatHeaders(false)
	for i, item := range registry.Items() {
		table.Append([]string{fmt.Sprintf("%d", i+1), item.Key, inspect.Slug(item.Key), item.Icon})
	}
	table.Render()
	return nil
}

func writeView(w io.Writer, view inspect.View, format string) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	case formatMarkdown:
		_, err := io.WriteString(w, view.Markdown())
		return err
	}

	fmt.Fprintf(w, "%s\n", view.Title)
	if !view.GeneratedAt.IsZero() {
		fmt.Fprintf(w, "generated %s\n", view.GeneratedAt.Format(time.RFC3339))
	}
	for _, section := range view.Sections {
		fmt.Fprintf(w, "\n%s\n", strings.ToUpper(section.Title))
		if len(section.Fields) > 0 {
			table := newPlainTable(w)
			for _, field := range section.Fields {
				table.Append([]string{field.Name, field.Value})
			}
			table.Render()
		}
		if section.Table != nil && len(section.Table.Columns) > 0 {
			table := tablewriter.NewWriter(w)
			table.SetHeader(section.Table.Columns)
			table.SetAutoFormatHeaders(false)
			table.SetAutoWrapText(false)
			table.AppendBulk(section.Table.Rows)
			table.Render()
		}
		if section.Note != "" {
			fmt.Fprintf(w, "  note: %s\n", section.Note)
		}
	}
	return nil
}

// newPlainTable renders name/value pairs without borders.
func newPlainTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetCenterSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	return table
}

package inspect

import (
	"strings"
	"time"
)

// Markdown renders the view as GitHub-flavoured markdown.
func (v View) Markdown() string {
	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(v.Title)
	b.WriteString("\n")
	if !v.GeneratedAt.IsZero() {
		b.WriteString("\n_generated ")
		b.WriteString(v.GeneratedAt.Format(time.RFC3339))
		b.WriteString("_\n")
	}
	for _, s := range v.Sections {
		b.WriteString("\n## ")
		b.WriteString(s.Title)
		b.WriteString("\n\n")
		for _, f := range s.Fields {
			b.WriteString("- **")
			b.WriteString(f.Name)
			b.WriteString("**: ")
			b.WriteString(escapeMarkdown(f.Value))
			b.WriteString("\n")
		}
		if s.Table != nil && len(s.Table.Columns) > 0 {
			if len(s.Fields) > 0 {
				b.WriteString("\n")
			}
			writeRow(&b, s.Table.Columns)
			sep := make([]string, len(s.Table.Columns))
			for i := range sep {
				sep[i] = "---"
			}
			writeRow(&b, sep)
			for _, row := range s.Table.Rows {
				writeRow(&b, row)
			}
		}
		if s.Note != "" {
			if len(s.Fields) > 0 || s.Table != nil {
				b.WriteString("\n")
			}
			for _, line := range strings.Split(s.Note, "\n") {
				b.WriteString("> ")
				b.WriteString(escapeMarkdown(line))
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("|")
	for _, c := range cells {
		b.WriteString(" ")
		b.WriteString(strings.ReplaceAll(escapeMarkdown(c), "|", `\|`))
		b.WriteString(" |")
	}
	b.WriteString("\n")
}

var markdownEscaper = strings.NewReplacer("\n", " ", "*", `\*`, "_", `\_`, "`", "\\`")

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

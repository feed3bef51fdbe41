// Package report renders dashboard views for the command line.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/labqc/dnamonitor/pkg/dashboard"
	"gopkg.in/yaml.v3"
)

// Format is an output format for Render.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
)

// Formats lists the supported formats.
var Formats = []Format{FormatMarkdown, FormatJSON, FormatYAML}

// ParseFormat resolves a format name. "md" and "yml" are accepted aliases.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "markdown", "md", "":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown report format %q", s)
	}
}

// Options tune rendering.
type Options struct {
	// MaxChars caps Markdown output. The run table is truncated first.
	// Zero means unlimited.
	MaxChars int
}

// Render writes v to w in the given format.
func Render(w io.Writer, v *dashboard.View, f Format, opts Options) error {
	switch f {
	case FormatMarkdown:
		if _, err := io.WriteString(w, Markdown(v, opts.MaxChars)); err != nil {
			return fmt.Errorf("writing markdown: %w", err)
		}
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding json: %w", err)
		}
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)

		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}

		if err := enc.Close(); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
	default:
		return fmt.Errorf("unknown report format %q", f)
	}

	return nil
}

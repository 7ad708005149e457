// Package cli provides output helpers for the Storybook command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/storybook/internal/models"
	"github.com/hyperjump/storybook/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// previewChars bounds the content excerpt printed by WriteView.
const previewChars = 200

// ParseOutputFormat maps a flag value to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteView writes a session snapshot to w in the given format.
func WriteView(w io.Writer, view models.SessionView, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, view)
	}
	name := view.FileName
	if name == "" {
		name = "(none)"
	}
	fmt.Fprintf(w, "File:    %s\n", name)
	fmt.Fprintf(w, "Status:  %s\n", viewStatus(view))
	if view.Error != "" {
		fmt.Fprintf(w, "Error:   %s\n", view.Error)
	}
	if view.SelectedVoice >= 0 && view.SelectedVoice < len(view.Voices) {
		fmt.Fprintf(w, "Voice:   %s\n", view.Voices[view.SelectedVoice].Label())
	}
	fmt.Fprintf(w, "Convert: %s", view.ConvertLabel)
	if !view.ConvertEnabled {
		fmt.Fprint(w, " (disabled)")
	}
	fmt.Fprintln(w)
	if view.ContentVisible {
		fmt.Fprintf(w, "Words:   %d\n", utils.CountWords(view.Content))
		fmt.Fprintf(w, "\n%s\n", utils.Truncate(view.Content, previewChars))
	}
	return nil
}

func viewStatus(view models.SessionView) string {
	switch {
	case view.Loading:
		return "loading"
	case view.Speaking:
		return "speaking"
	case view.ContentVisible:
		return "ready"
	default:
		return "idle"
	}
}

// WriteVoices writes the voice list, marking the selected entry.
func WriteVoices(w io.Writer, list models.VoiceList, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, list)
	}
	if len(list.Voices) == 0 {
		fmt.Fprintln(w, "No voices available.")
		return nil
	}
	for i, v := range list.Voices {
		marker := " "
		if i == list.Selected {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %2d  %-30s %s\n", marker, i, v.Label(), v.ID)
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"trackid/internal/identify"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatPlain = "plain"
)

var outputFormats = []string{formatTable, formatJSON, formatPlain}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#95E1A3"))
	labelStyle   = lipgloss.NewStyle().Bold(true).Width(9)
	noMatchStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFE66D"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C757D"))
)

func validFormat(format string) bool {
	for _, f := range outputFormats {
		if f == format {
			return true
		}
	}
	return false
}

// jsonResult is the json output; Match is null when nothing was found.
type jsonResult struct {
	Match  *identify.Track `json:"match"`
	Window string          `json:"window,omitempty"`
}

// writeResult prints the outcome of a run to w, normally stdout.
func writeResult(w io.Writer, result *identify.Result, format string) error {
	switch format {
	case formatJSON:
		out := jsonResult{}
		if result.Matched() {
			out.Match = result.Track
			out.Window = result.Window.String()
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)

	case formatPlain:
		if !result.Matched() {
			_, err := fmt.Fprintln(w, "No match found")
			return err
		}
		_, err := fmt.Fprintf(w, "%s - %s\n", result.Track.Artist, result.Track.Title)
		return err

	default:
		return writeTable(w, result)
	}
}

func writeTable(w io.Writer, result *identify.Result) error {
	if !result.Matched() {
		_, err := fmt.Fprintln(w, noMatchStyle.Render("No match found."))
		return err
	}

	t := result.Track
	rows := [][2]string{
		{"Title:", t.Title},
		{"Artist:", t.Artist},
	}
	if t.Album != "" {
		rows = append(rows, [2]string{"Album:", t.Album})
	}
	rows = append(rows, [2]string{"Service:", t.Service})
	if t.URL != "" {
		rows = append(rows, [2]string{"URL:", t.URL})
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("Track identified:"))
	fmt.Fprintln(w)
	for _, row := range rows {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(row[0]), row[1])
	}
	if result.SegmentPath != "" {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Found in:"), dimStyle.Render(result.Window.String()))
	}
	_, err := fmt.Fprintln(w)
	return err
}

// Package render formats a status.View for the terminal, as JSON or as
// YAML. Staleness of telemetry is judged here, on the consumer side, since
// the daemon publishes raw timestamps only.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/presence/internal/status"
)

// Output formats accepted by Write.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Formats lists the accepted output formats.
var Formats = []string{FormatTable, FormatJSON, FormatYAML}

// Theme is the colour palette of the table view, in ANSI 256-colour codes.
type Theme struct {
	Free      lipgloss.Color
	Occupied  lipgloss.Color
	Label     lipgloss.Color
	Faint     lipgloss.Color
	Stale     lipgloss.Color
	Header    lipgloss.Color
	Separator lipgloss.Color
}

// DefaultTheme suits dark terminals.
var DefaultTheme = Theme{
	Free:      lipgloss.Color("42"),
	Occupied:  lipgloss.Color("203"),
	Label:     lipgloss.Color("245"),
	Faint:     lipgloss.Color("240"),
	Stale:     lipgloss.Color("214"),
	Header:    lipgloss.Color("75"),
	Separator: lipgloss.Color("238"),
}

// Options controls the table view.
type Options struct {
	// Now is the reference time for ages; zero means time.Now().
	Now time.Time
	// StaleAfter marks telemetry and heartbeats older than this; zero
	// disables marking.
	StaleAfter time.Duration
	Theme      Theme
}

// Write renders v to w in the named format.
func Write(w io.Writer, format string, v status.View, opts Options) error {
	switch strings.ToLower(format) {
	case "", FormatTable:
		return Table(w, v, opts)
	case FormatJSON:
		return JSON(w, v)
	case FormatYAML:
		return YAML(w, v)
	}
	return fmt.Errorf("unknown output format %q (want one of %s)", format, strings.Join(Formats, ", "))
}

// JSON writes v as indented JSON.
func JSON(w io.Writer, v status.View) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// YAML writes v as a YAML document.
func YAML(w io.Writer, v status.View) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// Stale reports whether ts is more than after old at now. A zero after
// never marks anything stale.
func Stale(ts, now time.Time, after time.Duration) bool {
	return after > 0 && now.Sub(ts) > after
}

// Table writes the human-readable view. Colours are emitted only when w is
// a terminal that supports them.
func Table(w io.Writer, v status.View, opts Options) error {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	theme := opts.Theme
	if theme == (Theme{}) {
		theme = DefaultTheme
	}

	r := lipgloss.NewRenderer(w)
	label := r.NewStyle().Foreground(theme.Label).Width(16)
	faint := r.NewStyle().Foreground(theme.Faint)
	stale := r.NewStyle().Foreground(theme.Stale).Bold(true)
	header := r.NewStyle().Foreground(theme.Header).Bold(true).
		BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(theme.Separator)

	var b strings.Builder
	row := func(name, value string) {
		b.WriteString("  " + label.Render(name) + value + "\n")
	}

	if v.Occupied {
		b.WriteString("Observatory: " + r.NewStyle().Foreground(theme.Occupied).Bold(true).Render("OCCUPIED") + "\n")
		row("Observer", v.User)
		if v.Target != "" {
			row("Target", v.Target)
		}
		if v.Start != nil {
			row("Since", stamp(*v.Start)+faint.Render(" ("+age(now, *v.Start)+")"))
		}
		if v.PlannedEnd != nil {
			row("Planned end", stamp(*v.PlannedEnd)+faint.Render(" ("+until(now, *v.PlannedEnd)+")"))
		}
		if v.LastHeartbeat != nil {
			hb := age(now, *v.LastHeartbeat)
			if Stale(*v.LastHeartbeat, now, opts.StaleAfter) {
				hb += " " + stale.Render("STALE")
			}
			row("Last heartbeat", hb)
		}
	} else {
		b.WriteString("Observatory: " + r.NewStyle().Foreground(theme.Free).Bold(true).Render("FREE") + "\n")
	}

	b.WriteString("\n" + header.Render("Hosts") + "\n")
	if len(v.Hosts) == 0 {
		b.WriteString("  " + faint.Render("no reports") + "\n")
	}
	for _, id := range sortedKeys(v.Hosts) {
		h := v.Hosts[id]
		line := fmt.Sprintf("%s  up %s  cpu %5.1f%%  mem %5.1f%%  disk free %5.1f%%  %s",
			id, uptime(h.UptimeSeconds), h.CPUPercent, h.MemPercent, h.DiskFreePercent, h.OSVersion)
		b.WriteString("  " + line + faint.Render("  "+age(now, h.Timestamp)))
		if Stale(h.Timestamp, now, opts.StaleAfter) {
			b.WriteString(" " + stale.Render("STALE"))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n" + header.Render("Telescopes") + "\n")
	if len(v.Telescope) == 0 {
		b.WriteString("  " + faint.Render("no reports") + "\n")
	}
	for _, id := range sortedKeys(v.Telescope) {
		t := v.Telescope[id]
		frame := t.Frame
		if frame == "" {
			frame = "-"
		}
		line := fmt.Sprintf("%s  RA %s  Dec %s  %s  tracking %s  slewing %s",
			id, FormatRA(t.RightAscensionHours), FormatDec(t.DeclinationDegrees), frame,
			yesNo(t.Tracking), yesNo(t.Slewing))
		b.WriteString("  " + line + faint.Render("  "+age(now, t.Timestamp)))
		if Stale(t.Timestamp, now, opts.StaleAfter) {
			b.WriteString(" " + stale.Render("STALE"))
		}
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// FormatRA renders right ascension in hours as "05h30m00s".
func FormatRA(hours float64) string {
	total := int(math.Round(hours * 3600))
	total = ((total % 86400) + 86400) % 86400
	return fmt.Sprintf("%02dh%02dm%02ds", total/3600, total/60%60, total%60)
}

// FormatDec renders declination in degrees as "-05°24'00\"".
func FormatDec(deg float64) string {
	sign := "+"
	if deg < 0 {
		sign = "-"
		deg = -deg
	}
	total := int(math.Round(deg * 3600))
	return fmt.Sprintf("%s%02d°%02d'%02d\"", sign, total/3600, total/60%60, total%60)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func stamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

func age(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	if d < 0 {
		return "in the future"
	}
	return d.Truncate(time.Second).String() + " ago"
}

func until(now, t time.Time) string {
	d := t.Sub(now)
	if d < 0 {
		return "overdue by " + (-d).Truncate(time.Second).String()
	}
	return "in " + d.Truncate(time.Second).String()
}

func uptime(sec int64) string {
	return (time.Duration(sec) * time.Second).String()
}

func yesNo(b *bool) string {
	switch {
	case b == nil:
		return "unknown"
	case *b:
		return "yes"
	default:
		return "no"
	}
}

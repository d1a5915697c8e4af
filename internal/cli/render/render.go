// Package render provides output rendering for the safetyvision CLI.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/mr-karan/safetyvision/pkg/models"
)

// Options configures the renderer
type Options struct {
	Format     string    // text, table, json, jsonl
	Color      bool      // Enable colored output
	TimeFormat string    // Timestamp format: rfc3339, short, relative
	Out        io.Writer // Defaults to stdout
}

// Renderer renders API results
type Renderer struct {
	opts Options
	now  func() time.Time
}

// New creates a new renderer
func New(opts Options) (*Renderer, error) {
	if opts.Format == "" {
		opts.Format = "text"
	}
	switch opts.Format {
	case "text", "table", "json", "jsonl":
	default:
		return nil, fmt.Errorf("unknown output format: %s (valid: text, table, json, jsonl)", opts.Format)
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Renderer{opts: opts, now: time.Now}, nil
}

// Alerts renders a list of alerts.
func (r *Renderer) Alerts(alerts []*models.Alert) error {
	w := r.opts.Out
	switch r.opts.Format {
	case "json":
		return writeJSON(w, alerts, true)
	case "jsonl":
		for _, a := range alerts {
			if err := writeJSON(w, a, false); err != nil {
				return err
			}
		}
		return nil
	case "table":
		return r.alertTable(w, alerts)
	default:
		return r.alertText(w, alerts)
	}
}

func (r *Renderer) alertText(w io.Writer, alerts []*models.Alert) error {
	if len(alerts) == 0 {
		fmt.Fprintln(w, "No alerts.")
		return nil
	}
	for _, a := range alerts {
		sev := a.Severity.String()
		if r.opts.Color {
			sev = r.styleSeverity(a.Severity)
		}
		line := fmt.Sprintf("%s %s %s %s", r.formatTimestamp(a.CreatedAt), sev, a.ID, a.Title)
		if a.Location != "" {
			line += " @" + a.Location
		}
		if a.State != models.AlertStateActive {
			line += " [" + string(a.State) + "]"
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

func (r *Renderer) alertTable(w io.Writer, alerts []*models.Alert) error {
	if len(alerts) == 0 {
		fmt.Fprintln(w, "No alerts.")
		return nil
	}

	headers := []string{"ID", "SEVERITY", "STATE", "TITLE", "SOURCE", "LOCATION", "CREATED"}
	rows := make([][]string, len(alerts))
	for i, a := range alerts {
		rows[i] = []string{
			string(a.ID),
			a.Severity.String(),
			string(a.State),
			a.Title,
			a.Source,
			a.Location,
			r.formatTimestamp(a.CreatedAt),
		}
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("238"))).
		Headers(headers...).
		Rows(rows...)

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle
		}
		if r.opts.Color && col == 1 && row < len(alerts) {
			return severityStyle(alerts[row].Severity)
		}
		if row%2 == 0 {
			return lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
		}
		return lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	})

	fmt.Fprintln(w, t.Render())
	return nil
}

// Evaluation renders the outcome of classifying a sensor snapshot.
func (r *Renderer) Evaluation(ev *models.EmergencyEvaluation) error {
	w := r.opts.Out
	if r.opts.Format == "json" || r.opts.Format == "jsonl" {
		return writeJSON(w, ev, r.opts.Format == "json")
	}
	if ev == nil || ev.Event == nil {
		fmt.Fprintln(w, r.styled(infoStyle, "No threshold breached."))
		return nil
	}
	r.event(w, ev.Event)
	if ev.Triggered {
		fmt.Fprintln(w, r.styled(errorStyle, "Emergency stop sequence triggered."))
	}
	return nil
}

// EmergencyStatus renders the stop controller state.
func (r *Renderer) EmergencyStatus(st *models.EmergencyStatus) error {
	w := r.opts.Out
	if r.opts.Format == "json" || r.opts.Format == "jsonl" {
		return writeJSON(w, st, r.opts.Format == "json")
	}
	if st.Active {
		fmt.Fprintln(w, r.styled(errorStyle, "EMERGENCY ACTIVE"))
		if st.Current != nil {
			r.event(w, st.Current)
		}
	} else {
		fmt.Fprintln(w, r.styled(infoStyle, "No active emergency"))
	}
	fmt.Fprintf(w, "Emergencies since start: %d\n", st.Count)
	if !st.Active && st.Last != nil {
		fmt.Fprintf(w, "Last: %s %s (%s)\n", st.Last.Level, st.Last.Trigger, r.formatTimestamp(st.Last.Timestamp))
	}
	return nil
}

// Statistics renders the alert store summary.
func (r *Renderer) Statistics(s *models.Statistics) error {
	w := r.opts.Out
	if r.opts.Format == "json" || r.opts.Format == "jsonl" {
		return writeJSON(w, s, r.opts.Format == "json")
	}
	fmt.Fprintf(w, "Active:       %d\n", s.Active)
	fmt.Fprintf(w, "Total:        %d\n", s.Total)
	fmt.Fprintf(w, "Acknowledged: %d\n", s.Acknowledged)
	fmt.Fprintf(w, "Resolved:     %d\n", s.Resolved)
	fmt.Fprintf(w, "Escalated:    %d\n", s.Escalated)
	fmt.Fprintf(w, "Pending:      %d\n", s.PendingEscalations)

	names := make([]string, 0, len(s.SeverityBreakdown))
	for name := range s.SeverityBreakdown {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-10s %d\n", name, s.SeverityBreakdown[name])
	}
	return nil
}

func (r *Renderer) event(w io.Writer, ev *models.EmergencyEvent) {
	level := ev.Level.String()
	if r.opts.Color {
		level = levelStyle(ev.Level).Render(level)
	}
	fmt.Fprintf(w, "Level:    %s\n", level)
	fmt.Fprintf(w, "Trigger:  %s\n", ev.Trigger)
	if ev.Description != "" {
		fmt.Fprintf(w, "Detail:   %s\n", ev.Description)
	}
	if ev.Location != "" {
		fmt.Fprintf(w, "Location: %s\n", ev.Location)
	}
	if ev.RequiresEvacuation {
		fmt.Fprintln(w, r.styled(errorStyle, "Evacuation required"))
	}
}

var (
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

func severityStyle(sev models.Severity) lipgloss.Style {
	switch {
	case sev >= models.SeverityCritical:
		return errorStyle
	case sev == models.SeverityError:
		return warnStyle.Bold(true)
	case sev == models.SeverityWarning:
		return warnStyle
	default:
		return infoStyle
	}
}

func levelStyle(l models.EmergencyLevel) lipgloss.Style {
	switch l {
	case models.EmergencyCritical, models.EmergencyHigh:
		return errorStyle
	case models.EmergencyMedium:
		return warnStyle
	default:
		return dimStyle
	}
}

func (r *Renderer) styleSeverity(sev models.Severity) string {
	return severityStyle(sev).Render(sev.String())
}

func (r *Renderer) styled(s lipgloss.Style, text string) string {
	if !r.opts.Color {
		return text
	}
	return s.Render(text)
}

func (r *Renderer) formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	switch r.opts.TimeFormat {
	case "short":
		return t.Local().Format("01-02 15:04:05")
	case "time":
		return t.Local().Format("15:04:05")
	case "relative":
		return formatRelativeTime(r.now().Sub(t))
	default:
		return t.Format(time.RFC3339)
	}
}

func formatRelativeTime(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func writeJSON(w io.Writer, v any, pretty bool) error {
	encoder := json.NewEncoder(w)
	if pretty {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(v)
}

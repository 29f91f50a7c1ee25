package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/relay/pkg/pipeline"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	maxRunRows      = 8
)

// Model represents the BubbleTea dashboard model
type Model struct {
	apiURL     string
	interval   time.Duration
	lastUpdate time.Time
	snapshot   RunsSnapshot
	err        error
	quitting   bool

	// Progress bars
	loadProgress    progress.Model
	qualityProgress progress.Model
}

// RunsSnapshot holds the aggregated run data for one refresh
type RunsSnapshot struct {
	Service         string
	EventsConnected bool
	Workflows       []string
	Runs            []RunSummary

	Active    int
	Completed int
	Aborted   int

	RunRate       float64
	AvgQuality    float64
	LastQuality   float64
	AvgRunSeconds float64
	AbortReasons  map[pipeline.AbortReason]int

	// Historical data for sparklines (last N points)
	ActiveHistory  []float64
	QualityHistory []float64
	RateHistory    []float64

	// Peak value for the load progress bar
	ActivePeak float64
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	// Header style - bright cyan background, bold black text
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	// Section title style - bold bright cyan
	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	// Label style - dim cyan
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	// Value style - bright white
	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	// Dim style - for units and secondary info
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	// Status styles with unicode symbols
	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	// Container style - rounded border with dim gray
	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	// Footer style - bright keys on dim background
	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	// Sparkline container
	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a new dashboard model
func NewModel(apiURL string, interval time.Duration) Model {
	// Initialize progress bars with custom gradient
	loadProg := progress.New(
		progress.WithGradient("#00ffff", "#ff00ff"),
		progress.WithWidth(40),
	)

	qualityProg := progress.New(
		progress.WithGradient("#ff0000", "#00ff00"),
		progress.WithWidth(40),
	)

	return Model{
		apiURL:          apiURL,
		interval:        interval,
		quitting:        false,
		loadProgress:    loadProg,
		qualityProgress: qualityProg,
		snapshot: RunsSnapshot{
			ActiveHistory:  make([]float64, 0, historySize),
			QualityHistory: make([]float64, 0, historySize),
			RateHistory:    make([]float64, 0, historySize),
			ActivePeak:     1.0, // Minimum peak to avoid division by zero
		},
	}
}

// getStateBadge returns a colored status badge for a run state
func getStateBadge(state pipeline.State) string {
	switch state {
	case pipeline.StateCompleted:
		return healthyStyle.Render("[✓]")
	case pipeline.StateAborted:
		return errorStyle.Render("[✗]")
	default:
		return warningStyle.Render("[~]")
	}
}

// getQualityBadge returns a colored badge based on the quality score
func getQualityBadge(score float64) string {
	if score >= 0.8 {
		return healthyStyle.Render("[✓]")
	} else if score >= 0.5 {
		return warningStyle.Render("[⚠]")
	}
	return errorStyle.Render("[✗]")
}

// getStatusBadge returns the overall daemon status badge
func getStatusBadge(snapshot RunsSnapshot) string {
	if !snapshot.EventsConnected {
		return warningStyle.Render("⚠ NO EVENTS")
	}
	return healthyStyle.Render("✓ HEALTHY")
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

// shortID returns the leading segment of a run identifier
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Message types
type tickMsg time.Time
type runsMsg RunsSnapshot
type errMsg error

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchRuns(m.apiURL),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchRuns fetches the health summary and run listing from relayd
func fetchRuns(apiURL string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		client := NewClient(apiURL)

		health, err := client.Health(ctx)
		if err != nil {
			return errMsg(err)
		}

		runs, err := client.ListRuns(ctx)
		if err != nil {
			return errMsg(err)
		}

		return runsMsg(buildSnapshot(health, runs))
	}
}

// buildSnapshot aggregates the run listing into dashboard counters
func buildSnapshot(health HealthInfo, runs []RunSummary) RunsSnapshot {
	snapshot := RunsSnapshot{
		Service:         health.Service,
		EventsConnected: health.Events,
		Workflows:       health.Workflows,
		Runs:            runs,
	}

	var qualitySum, durationSum float64
	for _, run := range runs {
		switch run.Status {
		case pipeline.RunCompleted:
			snapshot.Completed++
			qualitySum += run.QualityScore
			durationSum += run.UpdatedAt.Sub(run.CreatedAt).Seconds()
		case pipeline.RunAborted:
			snapshot.Aborted++
			if run.AbortReason != "" {
				if snapshot.AbortReasons == nil {
					snapshot.AbortReasons = make(map[pipeline.AbortReason]int)
				}
				snapshot.AbortReasons[run.AbortReason]++
			}
		default:
			snapshot.Active++
		}
	}

	if snapshot.Completed > 0 {
		snapshot.AvgQuality = qualitySum / float64(snapshot.Completed)
		snapshot.AvgRunSeconds = durationSum / float64(snapshot.Completed)
	}

	// Runs are served newest first
	for _, run := range runs {
		if run.Status == pipeline.RunCompleted {
			snapshot.LastQuality = run.QualityScore
			break
		}
	}

	return snapshot
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchRuns(m.apiURL)
		}

	case tickMsg:
		// Auto-refresh triggered
		return m, tea.Batch(
			tick(m.interval),
			fetchRuns(m.apiURL),
		)

	case runsMsg:
		// Snapshot successfully fetched - update with history
		next := RunsSnapshot(msg)

		// Finished-run delta since the previous poll gives the throughput.
		// Store eviction can shrink the counts, so clamp at zero.
		if !m.lastUpdate.IsZero() && m.interval > 0 {
			delta := (next.Completed + next.Aborted) - (m.snapshot.Completed + m.snapshot.Aborted)
			if delta < 0 {
				delta = 0
			}
			next.RunRate = float64(delta) / m.interval.Minutes()
		}

		// Preserve historical data and update ring buffers
		next.ActiveHistory = appendToHistory(m.snapshot.ActiveHistory, float64(next.Active))
		next.QualityHistory = appendToHistory(m.snapshot.QualityHistory, next.AvgQuality)
		next.RateHistory = appendToHistory(m.snapshot.RateHistory, next.RunRate)

		// Update peak
		next.ActivePeak = m.snapshot.ActivePeak
		if float64(next.Active) > next.ActivePeak {
			next.ActivePeak = float64(next.Active)
		}

		m.snapshot = next
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		// Error occurred
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	// Display error state if error exists
	if m.err != nil {
		return m.renderError()
	}

	return m.renderDashboard()
}

// renderError renders the error view
func (m Model) renderError() string {
	header := headerStyle.Render("relay Run Dashboard")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot connect to relayd") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.apiURL) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Please ensure:") + "\n"
	content += dimStyle.Render("  1. relayd is running") + "\n"
	content += dimStyle.Render("  2. the API address matches the daemon port (default :9430)") + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	box := containerStyle.Render(header + "\n" + content)
	return box
}

// renderDashboard renders the main dashboard view with sparklines and progress bars
func (m Model) renderDashboard() string {
	var content string

	// Header with status badge
	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}
	workflows := "none"
	if len(m.snapshot.Workflows) > 0 {
		workflows = strings.Join(m.snapshot.Workflows, ", ")
	}

	header := headerStyle.Render(" relay Monitor ")
	statusBadge := getStatusBadge(m.snapshot)
	headerLine := fmt.Sprintf("%s   %s %s   %s",
		statusBadge,
		dimStyle.Render("Workflows:"),
		valueStyle.Render(workflows),
		dimStyle.Render(lastUpdateStr))

	content += header + "\n"
	content += headerLine + "\n"

	// Runs section with sparkline and progress
	content += "\n" + sectionStyle.Render("┃ Runs") + "\n"

	// Counters with active-run sparkline
	activeSparkline := createSparkline(m.snapshot.ActiveHistory)
	content += labelStyle.Render("  Active: ") +
		valueStyle.Render(fmt.Sprintf("%d", m.snapshot.Active)) +
		"  " + labelStyle.Render("Completed: ") +
		valueStyle.Render(fmt.Sprintf("%d", m.snapshot.Completed)) +
		"  " + labelStyle.Render("Aborted: ") +
		valueStyle.Render(fmt.Sprintf("%d", m.snapshot.Aborted)) +
		"   " + activeSparkline + "\n"

	// Throughput with sparkline
	rateSparkline := createSparkline(m.snapshot.RateHistory)
	content += labelStyle.Render("  Rate: ") +
		valueStyle.Render(FormatRate(m.snapshot.RunRate)) +
		"   " + rateSparkline + "\n"

	// Load progress bar against the active-run peak
	loadPercent := 0.0
	if m.snapshot.ActivePeak > 0 {
		loadPercent = float64(m.snapshot.Active) / m.snapshot.ActivePeak
		if loadPercent > 1.0 {
			loadPercent = 1.0
		}
	}
	content += labelStyle.Render("  Load: ") +
		m.loadProgress.ViewAs(loadPercent) +
		" " + dimStyle.Render(FormatPercentage(loadPercent)) + "\n"

	// Quality section
	content += "\n" + sectionStyle.Render("┃ Quality") + "\n"

	qualitySparkline := createSparkline(m.snapshot.QualityHistory)
	qualityBadge := getQualityBadge(m.snapshot.AvgQuality)
	content += labelStyle.Render("  Average: ") +
		valueStyle.Render(FormatQuality(m.snapshot.AvgQuality)) +
		" " + qualityBadge +
		"   " + qualitySparkline + "\n"

	content += labelStyle.Render("  Progress: ") +
		m.qualityProgress.ViewAs(m.snapshot.AvgQuality) +
		" " + dimStyle.Render(FormatPercentage(m.snapshot.AvgQuality)) + "\n"

	content += labelStyle.Render("  Latest: ") +
		valueStyle.Render(FormatQuality(m.snapshot.LastQuality)) +
		"  " + labelStyle.Render("Avg Duration: ") +
		valueStyle.Render(FormatRunDuration(m.snapshot.AvgRunSeconds)) + "\n"

	// Abort breakdown when anything aborted
	if len(m.snapshot.AbortReasons) > 0 {
		content += labelStyle.Render("  Aborts: ")
		parts := make([]string, 0, len(m.snapshot.AbortReasons))
		for reason, count := range m.snapshot.AbortReasons {
			parts = append(parts, dimStyle.Render(string(reason)+"=")+valueStyle.Render(fmt.Sprintf("%d", count)))
		}
		content += strings.Join(parts, "  ") + "\n"
	}

	// Recent runs section
	content += "\n" + sectionStyle.Render("┃ Recent Runs") + "\n"

	if len(m.snapshot.Runs) == 0 {
		content += dimStyle.Render("  no runs yet") + "\n"
	}
	for i, run := range m.snapshot.Runs {
		if i == maxRunRows {
			content += dimStyle.Render(fmt.Sprintf("  %d more not shown", len(m.snapshot.Runs)-maxRunRows)) + "\n"
			break
		}
		content += "  " + getStateBadge(run.State) + " " +
			valueStyle.Render(shortID(run.RunID)) + "  " +
			labelStyle.Render(fmt.Sprintf("%-9s", run.Workflow)) + " " +
			dimStyle.Render(fmt.Sprintf("%-26s", run.State)) + " " +
			valueStyle.Render(fmt.Sprintf("%5s", FormatQuality(run.QualityScore))) + "  " +
			dimStyle.Render(run.UpdatedAt.Format("15:04:05")) + "\n"
	}

	// Footer with keyboard shortcuts
	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))

	content += "\n" + footer

	// Wrap in container
	return containerStyle.Render(content)
}

package main

import (
	"context"
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/rtdecycle/pkg/cycle"
	"github.com/gwillem/rtdecycle/pkg/logging"
	"github.com/gwillem/rtdecycle/pkg/motion"
	"github.com/gwillem/rtdecycle/pkg/telemetry"
)

const (
	headerHeight = 3 // title + status + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Axis colors, shared by the position and force charts
var axisColors = []string{"196", "46", "51"} // red, green, cyan

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type monitorModel struct {
	runner *cycle.Runner
	hook   *logging.ChannelHook
	target string
	cancel context.CancelFunc

	posChart   *streamlinechart.Model
	forceChart *streamlinechart.Model
	forceRange float64

	width, height int
	logs          []string
	current       motion.Target
	repetitions   float64
	last          *telemetry.Sample
	stopping      bool
	done          *cycle.Progress
}

type progressMsg cycle.Progress
type logMsg string

func waitForProgress(r *cycle.Runner) tea.Cmd {
	return func() tea.Msg {
		return progressMsg(<-r.Progress())
	}
}

func waitForLog(h *logging.ChannelHook) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-h.Lines())
	}
}

func newMonitorModel(r *cycle.Runner, hook *logging.ChannelHook, target string, cancel context.CancelFunc) monitorModel {
	cfg := r.Config()
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, w := range []motion.Waypoint{cfg.A, cfg.B} {
		for _, v := range w[:3] {
			lo, hi = min(lo, v), max(hi, v)
		}
	}
	margin := max((hi-lo)*0.1, 0.01)

	pos := streamlinechart.New(40, 12, streamlinechart.WithYRange(lo-margin, hi+margin))
	force := streamlinechart.New(40, 12, streamlinechart.WithYRange(-10, 10))
	for i, name := range []string{"x", "y", "z"} {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(axisColors[i]))
		pos.SetDataSetStyles(name, runes.ThinLineStyle, style)
		force.SetDataSetStyles(name, runes.ThinLineStyle, style)
	}

	return monitorModel{
		runner:     r,
		hook:       hook,
		target:     target,
		cancel:     cancel,
		posChart:   &pos,
		forceChart: &force,
		forceRange: 10,
	}
}

// chartSize splits the terminal width between the two charts
func (m *monitorModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 40, 12
	}
	width = max(m.width/2-borderSize-1, 20)
	height = max(m.height-headerHeight-legendHeight-footerHeight-borderSize, 6)
	return width, height
}

func (m *monitorModel) resizeCharts() {
	w, h := m.chartSize()
	m.posChart.Resize(w, h)
	m.forceChart.Resize(w, h)
}

func (m *monitorModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

func (m *monitorModel) pushSample(s *telemetry.Sample) {
	f := s.Force.Force()
	if peak := max(math.Abs(f.X), math.Abs(f.Y), math.Abs(f.Z)); peak > m.forceRange {
		m.forceRange = math.Ceil(peak * 1.2)
		m.forceChart.SetYRange(-m.forceRange, m.forceRange)
		m.forceChart.SetViewYRange(-m.forceRange, m.forceRange)
	}

	p := s.Pose.Position()
	for i, v := range []float64{p.X, p.Y, p.Z} {
		m.posChart.PushDataSet([]string{"x", "y", "z"}[i], v)
	}
	for i, v := range []float64{f.X, f.Y, f.Z} {
		m.forceChart.PushDataSet([]string{"x", "y", "z"}[i], v)
	}
	m.posChart.DrawAll()
	m.forceChart.DrawAll()
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		waitForProgress(m.runner),
		waitForLog(m.hook),
	)
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeCharts()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.done != nil {
				return m, tea.Quit
			}
			// Let the runner finish its cycle and release the controller.
			m.stopping = true
			m.cancel()
		}

	case progressMsg:
		p := cycle.Progress(msg)
		m.repetitions = p.Repetitions
		if p.Done {
			m.done = &p
			return m, tea.Quit
		}
		if p.Event == motion.EventSetpointChanged {
			m.current = p.Target
		}
		if p.Sample != nil {
			m.last = p.Sample
			m.pushSample(p.Sample)
		}
		return m, waitForProgress(m.runner)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.hook)
	}

	return m, nil
}

func (m monitorModel) View() string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render("rtdecycle run"))
	sb.WriteString(" - " + m.target)
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n")

	status := fmt.Sprintf("target %s  |  %.1f / %d repetitions", m.current, m.repetitions, m.runner.Config().Repetitions)
	if m.last != nil {
		status += fmt.Sprintf("  |  t=%.2fs pose %s", m.last.Elapsed, m.last.Pose.String())
	}
	if m.stopping {
		status += "  |  " + errorStyle.Render("stopping")
	}
	sb.WriteString(statusStyle.Render(status))
	sb.WriteString("\n\n")

	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		chartStyle.Render(m.posChart.View()),
		" ",
		chartStyle.Render(m.forceChart.View()),
	))
	sb.WriteString("\n")
	sb.WriteString(renderLegend("position", "force"))
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press 'q' to stop")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func renderLegend(charts ...string) string {
	var items []string
	for i, axis := range []string{"x", "y", "z"} {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(axisColors[i])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+axis)
	}
	return strings.Join(items, "  ") + statusStyle.Render("   ("+strings.Join(charts, " | ")+")")
}

package main

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/rtdecycle/pkg/telemetry"
)

type PlotCommand struct {
	Table  bool `long:"table" description:"Print the samples as a table instead of charts"`
	Width  int  `long:"width" default:"60" description:"Chart width"`
	Height int  `long:"height" default:"10" description:"Chart height"`

	Args struct {
		File string `positional-arg-name:"file" description:"CSV log (defaults to the configured export path)"`
	} `positional-args:"yes"`
}

// plotPanel is one chart of the 2x2 layout: three columns sharing an axis.
type plotPanel struct {
	title   string
	columns []string
}

var plotPanels = []plotPanel{
	{"Position", []string{"x", "y", "z"}},
	{"Orientation", []string{"rx", "ry", "rz"}},
	{"Force", []string{"Fx", "Fy", "Fz"}},
	{"Torque", []string{"Frx", "Fry", "Frz"}},
}

func (c *PlotCommand) Execute(args []string) error {
	path := c.Args.File
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.ExportPath
	}

	samples, err := telemetry.Load(path)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		fmt.Println(dimStyle.Render("No samples in " + path))
		return nil
	}

	if c.Table {
		fmt.Println(renderSampleTable(telemetry.ToTable(samples)))
		return nil
	}

	series := telemetry.ToSeries(samples)
	panels := make([]string, len(plotPanels))
	for i, p := range plotPanels {
		panels[i] = renderPanel(series, p, c.Width, c.Height)
	}

	fmt.Println(headerStyle.Render(fmt.Sprintf("%s - %d samples over %.2fs", path, series.Len(), series.Time[series.Len()-1])))
	fmt.Println(lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, panels[0], " ", panels[1]),
		lipgloss.JoinHorizontal(lipgloss.Top, panels[2], " ", panels[3]),
	))
	return nil
}

func renderPanel(s *telemetry.Series, p plotPanel, width, height int) string {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, col := range p.columns {
		l, h := valueRange(s.Column(col))
		lo, hi = min(lo, l), max(hi, h)
	}

	chart := streamlinechart.New(width, height, streamlinechart.WithYRange(lo, hi))
	var legend []string
	for i, col := range p.columns {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(axisColors[i]))
		chart.SetDataSetStyles(col, runes.ThinLineStyle, style)
		for _, v := range stretch(s.Column(col), width) {
			chart.PushDataSet(col, v)
		}
		legend = append(legend, style.Bold(true).Render("━━")+" "+col)
	}
	chart.DrawAll()

	return lipgloss.JoinVertical(lipgloss.Left,
		subHeaderStyle.Render(p.title)+statusStyle.Render(fmt.Sprintf("  [%.3g, %.3g]", lo, hi)),
		chartStyle.Render(chart.View()),
		strings.Join(legend, "  "),
	)
}

// valueRange returns the min and max of vals, padded so that a constant
// series still gets a visible band.
func valueRange(vals []float64) (lo, hi float64) {
	if len(vals) == 0 {
		return -1, 1
	}
	lo, hi = vals[0], vals[0]
	for _, v := range vals[1:] {
		lo, hi = min(lo, v), max(hi, v)
	}
	pad := (hi - lo) * 0.05
	if pad == 0 {
		pad = max(math.Abs(lo)*0.05, 1e-3)
	}
	return lo - pad, hi + pad
}

// stretch resamples vals to exactly n points by nearest index, so that the
// whole run fills the scrolling chart.
func stretch(vals []float64, n int) []float64 {
	if len(vals) == 0 || n <= 0 {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		j := i * len(vals) / n
		out[i] = vals[j]
	}
	return out
}

func renderSampleTable(rows [][]string) string {
	hdrStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	timeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1).Align(lipgloss.Right)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers(rows[0]...).
		Rows(rows[1:]...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return hdrStyle
			case col == 0:
				return timeStyle
			default:
				return cellStyle
			}
		})
	return t.Render()
}

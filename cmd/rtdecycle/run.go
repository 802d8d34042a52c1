package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"

	"github.com/gwillem/rtdecycle/pkg/bench"
	"github.com/gwillem/rtdecycle/pkg/cycle"
	"github.com/gwillem/rtdecycle/pkg/logging"
	"github.com/gwillem/rtdecycle/pkg/motion"
	"github.com/gwillem/rtdecycle/pkg/robot"
	"github.com/gwillem/rtdecycle/pkg/rtde"
	"github.com/gwillem/rtdecycle/pkg/telemetry"
)

type RunCommand struct {
	A           string  `short:"a" long:"waypoint-a" description:"Waypoint A as six values, e.g. \"0.3 -0.15 0.3 3.14 0 0\""`
	B           string  `short:"b" long:"waypoint-b" description:"Waypoint B as six values"`
	Repetitions string  `short:"n" long:"repetitions" description:"Number of A-B repetitions"`
	Settle      string  `long:"settle" description:"Pause after each move, e.g. 1s or 500ms"`
	Target      string  `long:"target" choice:"rtde" choice:"bench" choice:"sim" default:"rtde" description:"Where to run the cycle"`
	Hz          float64 `long:"hz" default:"125" description:"Update rate of the bench and sim targets"`
	Output      string  `short:"o" long:"output" description:"CSV file to write the samples to"`
	Form        bool    `long:"form" description:"Enter connection and waypoints interactively"`
	NoTUI       bool    `long:"no-tui" description:"Log to the terminal instead of showing the live monitor"`
}

func (c *RunCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a := firstNonEmpty(c.A, cfg.Run.WaypointA)
	b := firstNonEmpty(c.B, cfg.Run.WaypointB)
	reps := firstNonEmpty(c.Repetitions, strconv.Itoa(cfg.Run.Repetitions))
	if c.Form {
		if err := runForm(cfg, c.Target == "rtde", &a, &b, &reps); err != nil {
			return err
		}
	}
	if c.Settle != "" {
		cfg.Run.SettleDelay = c.Settle
	}
	delay, err := cfg.Run.Delay()
	if err != nil {
		return err
	}

	runCfg, err := cycle.ConfigureText(a, b, reps, cycle.WithSettleDelay(delay))
	if err != nil {
		return err
	}

	log := newLogger(cfg)
	tui := !c.NoTUI && isatty.IsTerminal(os.Stdout.Fd())
	var hook *logging.ChannelHook
	if tui {
		hook = logging.NewChannelHook(64, log.GetLevel())
		log.AddHook(hook)
		log.SetOutput(io.Discard)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch, desc, err := c.openChannel(ctx, cfg, log)
	if err != nil {
		return err
	}

	runner := cycle.NewRunner(ch, runCfg, cycle.WithLogger(log))

	var res cycle.Result
	if tui {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		done := make(chan cycle.Result, 1)
		go func() { done <- runner.Run(runCtx) }()

		p := tea.NewProgram(newMonitorModel(runner, hook, desc, cancel), tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			cancel()
			<-done
			return err
		}
		// The monitor may exit before the runner published its result.
		cancel()
		res = <-done
	} else {
		res = runner.Run(ctx)
	}

	path := firstNonEmpty(c.Output, cfg.ExportPath)
	exported := ""
	if len(res.Samples) > 0 {
		if err := telemetry.Export(res.Samples, path); err != nil {
			fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		} else {
			exported = path
		}
	}

	fmt.Println(renderSummary(desc, runCfg, res, exported))

	if res.ReleaseErr != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Controller not released cleanly: "+res.ReleaseErr.Error()))
	}
	if res.Reason != cycle.ReasonCompleted {
		return fmt.Errorf("run %s: %w", res.Reason, res.Err)
	}
	return nil
}

func (c *RunCommand) openChannel(ctx context.Context, cfg *robot.Config, log logrus.FieldLogger) (cycle.Channel, string, error) {
	switch c.Target {
	case "bench":
		arm, err := robot.NewArm(cfg.Bench)
		if err != nil {
			return nil, "", err
		}
		if err := arm.Enable(ctx); err != nil {
			arm.Close()
			return nil, "", fmt.Errorf("enable bench arm: %w", err)
		}
		emu := bench.NewEmulator(arm,
			bench.WithLogger(log),
			bench.WithFrequency(c.Hz),
			bench.WithTolerance(benchTolerance(cfg.Bench.Mapping)),
		)
		return emu, "bench arm on " + cfg.Bench.Port, nil

	case "sim":
		emu := bench.NewEmulator(bench.NewSim(motion.Waypoint{}, bench.DefaultSimStep),
			bench.WithLogger(log),
			bench.WithFrequency(c.Hz),
		)
		return emu, "simulation", nil

	default:
		sc, err := sessionConfig(cfg)
		if err != nil {
			return nil, "", err
		}
		s, err := rtde.OpenSession(ctx, sc, log)
		if err != nil {
			return nil, "", err
		}
		return s, fmt.Sprintf("%s:%d (controller %s)", sc.Host, sc.Port, s.Version()), nil
	}
}

// benchTolerance is one percent of joint range expressed in waypoint units,
// using the coarsest axis.
func benchTolerance(m robot.Mapping) float64 {
	if m.IsZero() {
		m = robot.DefaultMapping()
	}
	tol := bench.DefaultTolerance
	for _, s := range m.Scale {
		if s > 0 {
			tol = max(tol, 2/s)
		}
	}
	return tol
}

func runForm(cfg *robot.Config, askController bool, a, b, reps *string) error {
	host := cfg.Controller.Host
	port := strconv.Itoa(cfg.Controller.Port)

	var fields []huh.Field
	if askController {
		fields = append(fields,
			huh.NewInput().Title("Robot host").Value(&host),
			huh.NewInput().Title("Robot port").Value(&port).Validate(func(s string) error {
				n, err := strconv.Atoi(s)
				if err != nil || n <= 0 || n > 65535 {
					return fmt.Errorf("not a port number")
				}
				return nil
			}),
		)
	}
	validWaypoint := func(s string) error {
		_, err := motion.ParseWaypoint(s)
		return err
	}
	fields = append(fields,
		huh.NewInput().Title("Waypoint A").Description("x y z rx ry rz").Value(a).Validate(validWaypoint),
		huh.NewInput().Title("Waypoint B").Description("x y z rx ry rz").Value(b).Validate(validWaypoint),
		huh.NewInput().Title("Repetitions").Value(reps).Validate(func(s string) error {
			_, err := cycle.ParseRepetitions(s)
			return err
		}),
	)

	if err := huh.NewForm(huh.NewGroup(fields...)).Run(); err != nil {
		return err
	}

	cfg.Controller.Host = host
	cfg.Controller.Port, _ = strconv.Atoi(port)
	return nil
}

func renderSummary(target string, cfg *cycle.Config, res cycle.Result, exported string) string {
	reasonStyle := successStyle
	if res.Reason != cycle.ReasonCompleted {
		reasonStyle = errorStyle
	}
	if exported == "" {
		exported = "-"
	}

	rows := [][]string{
		{"Target", target},
		{"Result", reasonStyle.Render(res.Reason.String())},
		{"Repetitions", fmt.Sprintf("%.1f / %d", res.Repetitions, cfg.Repetitions)},
		{"Samples", strconv.Itoa(len(res.Samples))},
		{"Max landing error", fmt.Sprintf("%.6f", res.MaxLandingError)},
		{"Log file", exported},
	}
	if res.Err != nil {
		rows = append(rows, []string{"Error", res.Err.Error()})
	}

	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	keyStyle := cellStyle.Foreground(lipgloss.Color("14"))

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return keyStyle
			}
			return cellStyle
		})
	return t.Render()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.bug.st/serial"

	"github.com/gwillem/rtdecycle/pkg/robot"
)

type SetupCommand struct {
	SkipBench   bool   `long:"skip-bench" description:"Only configure the controller connection"`
	Calibration string `long:"calibration" description:"Import an existing SO-101 calibration JSON instead of recording one"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("rtdecycle setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━"))
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Step 1: controller connection
	if err := controllerForm(&cfg.Controller); err != nil {
		return err
	}
	if err := cfg.SaveTo(opts.Config); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	if c.SkipBench {
		fmt.Printf("Configuration saved to %s\n", opts.Config)
		return nil
	}

	// Step 2: find the bench arm
	fmt.Println()
	port, err := scanForBenchArm()
	if err != nil {
		return err
	}
	cfg.Bench.Port = port

	// Step 3: calibrate
	fmt.Println()
	fmt.Println(subHeaderStyle.Render("━━━ Calibrating Bench Arm ━━━"))
	fmt.Println()
	cal, err := c.calibration(port)
	if err != nil {
		return err
	}
	cfg.Bench.Calibration = cal
	if cfg.Bench.Mapping.IsZero() {
		cfg.Bench.Mapping = robot.DefaultMapping()
	}

	if err := cfg.SaveTo(opts.Config); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	fmt.Println("Try a dry run with: " + headerStyle.Render("rtdecycle run --target bench"))
	return nil
}

func (c *SetupCommand) calibration(port string) (robot.Calibration, error) {
	if c.Calibration == "" {
		return calibrateArm(port)
	}
	cal, err := robot.LoadCalibration(c.Calibration)
	if err != nil {
		return nil, err
	}
	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("calibration %s: %w", c.Calibration, err)
	}
	fmt.Printf("Imported calibration from %s\n", c.Calibration)
	return cal, nil
}

func controllerForm(cc *robot.ControllerConfig) error {
	port := strconv.Itoa(cc.Port)
	freq := strconv.FormatFloat(cc.Frequency, 'g', -1, 64)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Robot host").Value(&cc.Host),
			huh.NewInput().Title("Robot port").Value(&port).Validate(func(s string) error {
				n, err := strconv.Atoi(s)
				if err != nil || n <= 0 || n > 65535 {
					return errors.New("not a port number")
				}
				return nil
			}),
			huh.NewInput().Title("Recipe file").Description("Leave empty for the built-in recipes").Value(&cc.RecipeFile),
			huh.NewInput().Title("Frequency (Hz)").Value(&freq).Validate(func(s string) error {
				f, err := strconv.ParseFloat(s, 64)
				if err != nil || f <= 0 {
					return errors.New("not a positive number")
				}
				return nil
			}),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cc.Port, _ = strconv.Atoi(port)
	cc.Frequency, _ = strconv.ParseFloat(freq, 64)
	return nil
}

func scanForBenchArm() (string, error) {
	fmt.Println("Scanning for SO-101 arms...")
	fmt.Println()

	arms := findArms()
	if len(arms) == 0 {
		return "", errors.New("no SO-101 arm found, make sure it is connected and powered on")
	}

	for _, arm := range arms {
		if identifyArmWithWiggle(arm) {
			// Close the remaining buses
			for _, other := range arms {
				if other.port != arm.port {
					other.bus.Close()
				}
			}
			fmt.Println(successStyle.Render("Bench arm: " + arm.port))
			return arm.port, nil
		}
	}
	return "", errors.New("no bench arm selected")
}

type armInfo struct {
	port   string
	servos []feetech.FoundServo
	bus    *feetech.Bus
}

func findArms() []armInfo {
	ports, err := serial.GetPortsList()
	if err != nil {
		fmt.Printf("Error listing ports: %v\n", err)
		return nil
	}

	var arms []armInfo

	for _, port := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(port, "Bluetooth") {
			continue
		}

		bus, servos, err := connectToArm(port)
		if err != nil {
			continue
		}
		fmt.Printf("  Found SO-101 arm on %s\n", port)
		arms = append(arms, armInfo{
			port:   port,
			servos: servos,
			bus:    bus,
		})
	}

	return arms
}

func isSOArm(servos []feetech.FoundServo) bool {
	if len(servos) != 6 {
		return false
	}

	ids := make(map[int]bool)
	for _, s := range servos {
		ids[s.ID] = true
	}

	for i := 1; i <= 6; i++ {
		if !ids[i] {
			return false
		}
	}

	return true
}

// identifyArmWithWiggle moves the shoulder of arm and asks whether it is the
// bench arm. The arm's bus is closed on return.
func identifyArmWithWiggle(arm armInfo) bool {
	defer arm.bus.Close()

	ctx := context.Background()

	var servo *feetech.Servo
	for _, s := range arm.servos {
		if s.ID == 1 {
			servo = feetech.NewServo(arm.bus, s.ID, s.Model)
			break
		}
	}
	if servo == nil {
		return false
	}

	originalPos, err := servo.Position(ctx)
	if err != nil {
		fmt.Printf("  Error reading position: %v\n", err)
		return false
	}
	if err := servo.Enable(ctx); err != nil {
		fmt.Printf("  Error enabling servo: %v\n", err)
		return false
	}

	fmt.Printf("\n  Wiggling arm on %s...\n", arm.port)

	wiggleAmount := 30
	moveTimeMs := 500
	for _, pos := range []int{originalPos + wiggleAmount, originalPos - wiggleAmount, originalPos} {
		servo.SetPositionWithTime(ctx, pos, moveTimeMs)
		time.Sleep(time.Duration(moveTimeMs+100) * time.Millisecond)
	}
	servo.Disable(ctx)

	use := false
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Use the arm on %s as bench arm?", arm.port)).
				Description("The arm that just wiggled").
				Affirmative("Yes").
				Negative("Skip").
				Value(&use),
		),
	)
	if err := form.Run(); err != nil {
		return false
	}
	return use
}

func connectToArm(port string) (*feetech.Bus, []feetech.FoundServo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: 1_000_000,
		Protocol: feetech.ProtocolSTS,
		Timeout:  100 * time.Millisecond,
	})
	if err != nil {
		return nil, nil, err
	}

	// Scan for servos with IDs 1-6 (SO-101 arm configuration)
	servos, err := bus.Scan(ctx, 1, 6)
	if err != nil {
		bus.Close()
		return nil, nil, err
	}

	if !isSOArm(servos) {
		bus.Close()
		return nil, nil, fmt.Errorf("not an SO-101 arm (expected 6 servos with IDs 1-6)")
	}

	return bus, servos, nil
}

func calibrateArm(port string) (robot.Calibration, error) {
	fmt.Printf("Calibrating bench arm on %s\n", port)
	fmt.Println()

	bus, servos, err := connectToArm(port)
	if err != nil {
		return nil, fmt.Errorf("connect to arm: %w", err)
	}
	defer bus.Close()

	servoMap := make(map[int]*feetech.Servo)
	for _, s := range servos {
		servoMap[s.ID] = feetech.NewServo(bus, s.ID, s.Model)
	}

	// Disable all servos so user can move arm freely
	ctx := context.Background()
	for _, servo := range servoMap {
		servo.Disable(ctx)
	}

	fmt.Println(subHeaderStyle.Render("Record range of motion"))
	fmt.Println("Move each joint to its minimum AND maximum positions.")
	fmt.Println("The waypoints of a run are mapped into this range.")
	fmt.Println()

	motors := robot.AllMotors()
	model := newCalibrationModel(motors, servoMap)
	for i, name := range motors {
		pos, err := servoMap[i+1].Position(ctx)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		model.cur[name], model.lo[name], model.hi[name] = pos, pos, pos
	}

	finalModel, err := tea.NewProgram(model).Run()
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}
	cm := finalModel.(calibrationModel)
	if cm.aborted {
		return nil, errors.New("calibration aborted")
	}

	cal := cm.calibration()
	if err := cal.Validate(); err != nil {
		return nil, fmt.Errorf("calibration incomplete: %w", err)
	}
	fmt.Println("Bench arm calibrated.")
	return cal, nil
}

// Calibration TUI model
type calibrationModel struct {
	motors   []robot.MotorName
	servoMap map[int]*feetech.Servo
	cur      map[robot.MotorName]int
	lo       map[robot.MotorName]int
	hi       map[robot.MotorName]int
	quitting bool
	aborted  bool
}

type tickMsg time.Time

func newCalibrationModel(motors []robot.MotorName, servoMap map[int]*feetech.Servo) calibrationModel {
	return calibrationModel{
		motors:   motors,
		servoMap: servoMap,
		cur:      make(map[robot.MotorName]int),
		lo:       make(map[robot.MotorName]int),
		hi:       make(map[robot.MotorName]int),
	}
}

func (m calibrationModel) calibration() robot.Calibration {
	cal := make(robot.Calibration, len(m.motors))
	for i, name := range m.motors {
		cal[name] = robot.MotorCalibration{
			ID:       i + 1,
			RangeMin: m.lo[name],
			RangeMax: m.hi[name],
		}
	}
	return cal
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m calibrationModel) Init() tea.Cmd {
	return tick()
}

func (m calibrationModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			m.quitting = true
			return m, tea.Quit
		case "q", "ctrl+c":
			m.quitting = true
			m.aborted = true
			return m, tea.Quit
		}

	case tickMsg:
		ctx := context.Background()
		for i, name := range m.motors {
			pos, err := m.servoMap[i+1].Position(ctx)
			if err != nil {
				continue
			}
			m.cur[name] = pos
			m.lo[name] = min(m.lo[name], pos)
			m.hi[name] = max(m.hi[name], pos)
		}
		return m, tick()
	}

	return m, nil
}

func (m calibrationModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder

	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableMotorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableCurrentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	tableRangeGoodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	tableRangeLowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	rows := make([][]string, 0, len(m.motors))
	ranges := make([]int, 0, len(m.motors))
	for _, name := range m.motors {
		rangeSize := m.hi[name] - m.lo[name]
		ranges = append(ranges, rangeSize)
		rows = append(rows, []string{
			string(name),
			strconv.Itoa(m.cur[name]),
			strconv.Itoa(m.lo[name]),
			strconv.Itoa(m.hi[name]),
			strconv.Itoa(rangeSize),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Motor", "Current", "Min", "Max", "Range").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 0:
				return tableMotorStyle
			case 1:
				return tableCurrentStyle
			case 4:
				if row >= 0 && row < len(ranges) && ranges[row] > 500 {
					return tableRangeGoodStyle
				}
				return tableRangeLowStyle
			default:
				return tableCellStyle
			}
		})

	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	sb.WriteString(dimStyle.Render("Press Enter when done, q to abort"))

	return sb.String()
}

package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/gwillem/rtdecycle/pkg/logging"
	"github.com/gwillem/rtdecycle/pkg/robot"
	"github.com/gwillem/rtdecycle/pkg/rtde"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// loadConfig reads .env, the config file and RTDECYCLE_* overrides, in that
// order. A missing config file yields defaults.
func loadConfig() (*robot.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	cfg, err := robot.LoadOrDefault(opts.Config)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	return cfg, nil
}

func newLogger(cfg *robot.Config) *logrus.Logger {
	return logging.New(cfg.LogLevel)
}

func loadRecipes(cfg *robot.Config) (rtde.RecipeSet, error) {
	if cfg.Controller.RecipeFile == "" {
		return rtde.DefaultRecipes(), nil
	}
	return rtde.LoadRecipes(cfg.Controller.RecipeFile)
}

func sessionConfig(cfg *robot.Config) (rtde.SessionConfig, error) {
	recipes, err := loadRecipes(cfg)
	if err != nil {
		return rtde.SessionConfig{}, err
	}
	return rtde.SessionConfig{
		Host:      cfg.Controller.Host,
		Port:      cfg.Controller.Port,
		Frequency: cfg.Controller.Frequency,
		Recipes:   recipes,
	}, nil
}

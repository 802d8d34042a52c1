package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/gwillem/rtdecycle/pkg/rtde"
)

type RecordCommand struct {
	Drain int    `long:"drain" default:"200" description:"State packages to read before taking the pose"`
	Save  string `long:"save" choice:"a" choice:"b" description:"Store the pose as waypoint A or B in the config file"`
}

func (c *RecordCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	sc, err := sessionConfig(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := rtde.OpenSession(ctx, sc, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Pause(); err != nil {
			log.WithError(err).Warn("Failed to pause synchronization")
		}
		s.Disconnect()
	}()

	pose, err := s.ReadPose(ctx, c.Drain)
	if err != nil {
		return err
	}

	fmt.Println(subHeaderStyle.Render("Current TCP pose"))
	fmt.Println(pose.String())

	switch c.Save {
	case "a":
		cfg.Run.WaypointA = pose.String()
	case "b":
		cfg.Run.WaypointB = pose.String()
	default:
		return nil
	}
	if err := cfg.SaveTo(opts.Config); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	fmt.Println(successStyle.Render(fmt.Sprintf("Saved as waypoint %s in %s", c.Save, opts.Config)))
	return nil
}

package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Config   string `short:"c" long:"config" default:"rtdecycle.json" description:"Configuration file"`
	LogLevel string `long:"log-level" description:"Log level (debug, info, warn, error, off)"`

	Run    RunCommand    `command:"run" description:"Cycle the arm between two waypoints and log the end-of-move poses"`
	Record RecordCommand `command:"record" description:"Read the current TCP pose from the controller"`
	Plot   PlotCommand   `command:"plot" description:"Plot a recorded CSV log in the terminal"`
	Setup  SetupCommand  `command:"setup" description:"Configure the controller address and calibrate the bench arm"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "rtdecycle - two-waypoint repetition runner for UR controllers over RTDE"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

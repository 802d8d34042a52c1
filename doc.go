// Package rtdecycle runs repeated two-waypoint moves on a Universal Robots
// arm over RTDE and records where the arm landed after every move.
//
// # Installation
//
//	go install github.com/gwillem/rtdecycle/cmd/rtdecycle@latest
//
// # Usage
//
// Configure the controller address, and optionally calibrate an SO-101 arm
// for bench runs:
//
//	rtdecycle setup
//
// Capture the current tool pose as waypoint A:
//
//	rtdecycle record --save a
//
// Run ten repetitions and write the log:
//
//	rtdecycle run -n 10 -o robot_data_log.csv
//
// Plot a log:
//
//	rtdecycle plot robot_data_log.csv
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/rtdecycle: CLI with setup, record, run and plot commands
//   - pkg/motion: waypoints, controller snapshots and the handshake sequencer
//   - pkg/cycle: run configuration and the repetition runner
//   - pkg/rtde: RTDE client and controller session
//   - pkg/bench: controller emulator backed by an SO-101 arm or a simulator
//   - pkg/telemetry: sample recording and CSV export
//   - pkg/robot: SO-101 arm control, calibration and configuration
//   - pkg/logging: logrus setup shared by the commands
package rtdecycle

package logging

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Levels(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, New("debug").GetLevel())
	assert.Equal(t, logrus.WarnLevel, New("warn").GetLevel())
	assert.Equal(t, logrus.InfoLevel, New("chatty").GetLevel())
	assert.Equal(t, io.Discard, New("off").Out)
	assert.Equal(t, io.Discard, Discard().Out)
}

func TestChannelHook(t *testing.T) {
	logger := Discard()
	hook := NewChannelHook(2, logrus.InfoLevel)
	logger.AddHook(hook)
	logger.SetLevel(logrus.DebugLevel)

	logger.Debug("not forwarded")
	logger.WithField("target", "A").Info("new setpoint")
	logger.Warn("second")
	logger.Error("dropped, channel full")

	require.Len(t, hook.Lines(), 2)
	first := <-hook.Lines()
	assert.Contains(t, first, "INFO new setpoint target=A")
	assert.Contains(t, <-hook.Lines(), "WARNING second")
}

func TestLine_SortsFields(t *testing.T) {
	e := &logrus.Entry{
		Time:    time.Date(2024, 1, 2, 13, 4, 5, 0, time.UTC),
		Level:   logrus.InfoLevel,
		Message: "move finished",
		Data:    logrus.Fields{"reps": 0.5, "leg": 1},
	}
	assert.Equal(t, "[13:04:05] INFO move finished leg=1 reps=0.5", Line(e))
}

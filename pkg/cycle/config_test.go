package cycle

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/rtdecycle/pkg/motion"
)

func TestConfigure(t *testing.T) {
	cfg, err := Configure(wpA, wpB, 3)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettleDelay, cfg.SettleDelay)
	assert.Equal(t, 6, cfg.MaxSamples())

	cfg, err = Configure(wpA, wpB, 1, WithSettleDelay(0))
	require.NoError(t, err)
	assert.Zero(t, cfg.SettleDelay)
}

func TestConfigure_Rejects(t *testing.T) {
	nan := motion.Waypoint{math.NaN()}

	tests := []struct {
		name string
		a, b motion.Waypoint
		reps int
		opts []ConfigOption
	}{
		{"zero repetitions", wpA, wpB, 0, nil},
		{"negative repetitions", wpA, wpB, -2, nil},
		{"negative delay", wpA, wpB, 1, []ConfigOption{WithSettleDelay(-time.Millisecond)}},
		{"nan in A", nan, wpB, 1, nil},
		{"inf in B", wpA, motion.Waypoint{0, 0, math.Inf(1)}, 1, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Configure(tt.a, tt.b, tt.reps, tt.opts...)
			assert.Nil(t, cfg)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestConfigureText(t *testing.T) {
	cfg, err := ConfigureText("[0, 0, 0, 0, 0, 0]", "1 0 0 0 0 1", " 2 ")
	require.NoError(t, err)
	assert.Equal(t, wpB, cfg.B)
	assert.Equal(t, 2, cfg.Repetitions)
}

func TestConfigureText_Errors(t *testing.T) {
	tests := []struct {
		name    string
		a, b    string
		reps    string
		wantWay bool
	}{
		{"short A", "0 0 0", "1 0 0 0 0 1", "1", true},
		{"garbage B", "0 0 0 0 0 0", "x y z", "1", true},
		{"zero reps", "0 0 0 0 0 0", "1 0 0 0 0 1", "0", false},
		{"non-numeric reps", "0 0 0 0 0 0", "1 0 0 0 0 1", "many", false},
		{"empty reps", "0 0 0 0 0 0", "1 0 0 0 0 1", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ConfigureText(tt.a, tt.b, tt.reps)
			require.ErrorIs(t, err, ErrConfig)
			if tt.wantWay {
				assert.ErrorIs(t, err, motion.ErrWaypoint)
			}
		})
	}
}

func TestValidate_Nil(t *testing.T) {
	var cfg *Config
	assert.ErrorIs(t, cfg.Validate(), ErrConfig)
}

func TestReasonString(t *testing.T) {
	assert.Equal(t, "completed", ReasonCompleted.String())
	assert.Equal(t, "channel lost", ReasonChannelLost.String())
	assert.Equal(t, "cancelled", ReasonCancelled.String())
	assert.Equal(t, "config error", ReasonConfigError.String())
}

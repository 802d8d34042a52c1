package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gwillem/rtdecycle/pkg/motion"
	"github.com/gwillem/rtdecycle/pkg/telemetry"
)

func TestStretch(t *testing.T) {
	assert.Equal(t, []float64{1, 1, 2, 2}, stretch([]float64{1, 2}, 4))
	assert.Equal(t, []float64{1, 3}, stretch([]float64{1, 2, 3, 4}, 2))
	assert.Nil(t, stretch(nil, 5))
}

func TestValueRange(t *testing.T) {
	lo, hi := valueRange([]float64{2, -1, 3})
	assert.InDelta(t, -1.2, lo, 1e-9)
	assert.InDelta(t, 3.2, hi, 1e-9)

	lo, hi = valueRange([]float64{10, 10})
	assert.Less(t, lo, 10.0)
	assert.Greater(t, hi, 10.0)

	lo, hi = valueRange(nil)
	assert.Equal(t, -1.0, lo)
	assert.Equal(t, 1.0, hi)
}

func TestRenderSampleTable(t *testing.T) {
	rows := telemetry.ToTable([]telemetry.Sample{
		{Elapsed: 0.5, Pose: motion.Waypoint{0.25}, Force: motion.Wrench{0, 0, -9.5}},
	})
	out := renderSampleTable(rows)

	for _, want := range []string{"Timestamp", "Frz", "0.5", "0.25", "-9.5"} {
		assert.True(t, strings.Contains(out, want), "missing %q", want)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}

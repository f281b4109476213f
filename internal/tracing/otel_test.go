package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSamplerFor(t *testing.T) {
	t.Run("should disable sampling at or below zero", func(t *testing.T) {
		assert.Equal(t, "AlwaysOffSampler", samplerFor(0).Description())
		assert.Equal(t, "AlwaysOffSampler", samplerFor(-0.5).Description())
	})

	t.Run("should keep every trace at or above one", func(t *testing.T) {
		assert.Contains(t, samplerFor(1).Description(), "AlwaysOnSampler")
		assert.Contains(t, samplerFor(2.5).Description(), "AlwaysOnSampler")
	})

	t.Run("should ratio-sample between zero and one", func(t *testing.T) {
		desc := samplerFor(0.25).Description()
		assert.Contains(t, desc, "ParentBased")
		assert.Contains(t, desc, "TraceIDRatioBased{0.25}")
	})
}

func TestInit(t *testing.T) {
	t.Run("should install a provider and survive repeat calls", func(t *testing.T) {
		err := Init(Options{ServiceName: "taskdeck-test", SampleRatio: 1.0})
		require.NoError(t, err)

		// Later calls are no-ops and report the first outcome.
		err = Init(Options{ServiceName: "", SampleRatio: 0})
		require.NoError(t, err)
	})

	t.Run("should shut down cleanly", func(t *testing.T) {
		assert.NoError(t, Shutdown(context.Background()))
	})
}

package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(StatePending))
	assert.False(t, IsTerminal(StateReady))
	assert.False(t, IsTerminal(StateRunning))
	assert.True(t, IsTerminal(StateSucceeded))
	assert.True(t, IsTerminal(StateFailed))
	assert.True(t, IsTerminal(StateSkipped))
	assert.True(t, IsTerminal(StateCached))
}

func TestIsSuccessful(t *testing.T) {
	assert.True(t, IsSuccessful(StateSucceeded))
	assert.True(t, IsSuccessful(StateCached))
	assert.False(t, IsSuccessful(StateFailed))
	assert.False(t, IsSuccessful(StateSkipped))
	assert.False(t, IsSuccessful(StateRunning))
}

func TestTransition(t *testing.T) {
	t.Run("full lifecycle", func(t *testing.T) {
		state := map[string]JobState{"j": StatePending}
		require.NoError(t, transition(state, "j", StatePending, StateReady))
		require.NoError(t, transition(state, "j", StateReady, StateRunning))
		require.NoError(t, transition(state, "j", StateRunning, StateSucceeded))
		assert.Equal(t, StateSucceeded, state["j"])
	})

	t.Run("pending can be cached or skipped", func(t *testing.T) {
		state := map[string]JobState{"a": StatePending, "b": StatePending}
		require.NoError(t, transition(state, "a", StatePending, StateCached))
		require.NoError(t, transition(state, "b", StatePending, StateSkipped))
	})

	t.Run("pending can fail before starting", func(t *testing.T) {
		state := map[string]JobState{"j": StatePending}
		require.NoError(t, transition(state, "j", StatePending, StateFailed))
	})

	t.Run("terminal states are final", func(t *testing.T) {
		state := map[string]JobState{"j": StateSucceeded}
		err := transition(state, "j", StateSucceeded, StateReady)
		require.Error(t, err)
		assert.Equal(t, StateSucceeded, state["j"])
	})

	t.Run("mismatched prior state", func(t *testing.T) {
		state := map[string]JobState{"j": StatePending}
		err := transition(state, "j", StateReady, StateRunning)
		require.Error(t, err)
		assert.Equal(t, StatePending, state["j"], "state is untouched on a rejected transition")
	})

	t.Run("pending cannot run directly", func(t *testing.T) {
		state := map[string]JobState{"j": StatePending}
		require.Error(t, transition(state, "j", StatePending, StateRunning))
	})

	t.Run("unknown job", func(t *testing.T) {
		require.Error(t, transition(map[string]JobState{}, "ghost", StatePending, StateReady))
	})
}

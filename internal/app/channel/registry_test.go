package channel

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AddRemove(t *testing.T) {
	r := NewRegistry()
	noop := func(json.RawMessage) {}

	a := r.Add("job_update", noop)
	b := r.Add("job_update", noop)
	r.Add("ml_progress", noop)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, r.Len("job_update"))

	assert.True(t, r.Remove("job_update", a))
	assert.False(t, r.Remove("job_update", a), "second removal is a no-op")
	assert.False(t, r.Remove("ml_progress", b), "ids are scoped to their event type")

	snap := r.Snapshot("job_update")
	require.Len(t, snap, 1)
	assert.Equal(t, b, snap[0].id)

	r.Clear()
	assert.Zero(t, r.Len("job_update"))
	assert.Zero(t, r.Len("ml_progress"))
}

func TestRegistry_SnapshotSurvivesRemoval(t *testing.T) {
	r := NewRegistry()
	var calls []string
	a := r.Add("job_update", func(json.RawMessage) { calls = append(calls, "a") })
	r.Add("job_update", func(json.RawMessage) { calls = append(calls, "b") })

	snap := r.Snapshot("job_update")
	r.Remove("job_update", a)
	for _, e := range snap {
		e.fn(nil)
	}

	assert.Equal(t, []string{"a", "b"}, calls)
	assert.Equal(t, 1, r.Len("job_update"))
}

package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublishSubscribe(t *testing.T) {
	h := NewHub(8)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(ExecutionStarted, map[string]string{"execution_id": "exec_1"})

	select {
	case ev := <-ch:
		assert.Equal(t, int64(1), ev.ID)
		assert.Equal(t, ExecutionStarted, ev.Type)
		assert.False(t, ev.At.IsZero())
		var payload map[string]string
		require.NoError(t, json.Unmarshal(ev.Data, &payload))
		assert.Equal(t, "exec_1", payload["execution_id"])
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestHubNilAndUnencodablePayloads(t *testing.T) {
	h := NewHub(4)
	h.Publish(EmergencyStop, nil)
	h.Publish(ScriptOutput, func() {})

	evs := h.Since(0)
	require.Len(t, evs, 2)
	assert.JSONEq(t, `{}`, string(evs[0].Data))
	assert.JSONEq(t, `{}`, string(evs[1].Data))
}

func TestHubSinceWrapsRing(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(ScriptOutput, i)
	}

	all := h.Since(0)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{all[0].ID, all[1].ID, all[2].ID})

	tail := h.Since(4)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(5), tail[0].ID)

	assert.Empty(t, h.Since(5))
}

func TestHubCancelClosesChannel(t *testing.T) {
	h := NewHub(0)
	ch, cancel := h.Subscribe()
	assert.Equal(t, 1, h.Subscribers())

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, h.Subscribers())

	// Publishing with no subscribers still records the event.
	h.Publish(ExecutionFinished, nil)
	assert.Len(t, h.Since(0), 1)
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub(0)
	_, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			h.Publish(ScriptOutput, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAndSubscribe(t *testing.T) {
	h := NewHub(4)
	ch, cancel := h.Subscribe(4)
	defer cancel()

	ev := h.Publish(SessionStarted, map[string]string{"id": "s1"})
	assert.EqualValues(t, 1, ev.ID)

	select {
	case got := <-ch:
		assert.Equal(t, SessionStarted, got.Type)
		assert.JSONEq(t, `{"id":"s1"}`, string(got.Data))
		assert.Equal(t, time.UTC, got.At.Location())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestSinceKeepsNewest(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish(SessionFinished, i)
	}

	all := h.Since(0)
	require.Len(t, all, 3)
	assert.EqualValues(t, []int64{3, 4, 5}, []int64{all[0].ID, all[1].ID, all[2].ID})

	later := h.Since(4)
	require.Len(t, later, 1)
	assert.JSONEq(t, `4`, string(later[0].Data))
}

func TestUnmarshalableDataIsEmptyObject(t *testing.T) {
	h := NewHub(1)
	ev := h.Publish("odd", func() {})
	assert.JSONEq(t, `{}`, string(ev.Data))
	assert.JSONEq(t, `{}`, string(h.Publish("nil", nil).Data))
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	h := NewHub(8)
	_, cancel := h.Subscribe(1)
	defer cancel()

	h.Publish(SessionStarted, nil)
	h.Publish(SessionStarted, nil)
	h.Publish(SessionStarted, nil)
	assert.EqualValues(t, 2, h.Dropped())
}

func TestCancelClosesChannel(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestCloseEndsSubscriptions(t *testing.T) {
	h := NewHub(2)
	ch, cancel := h.Subscribe(1)
	defer cancel()

	h.Close()
	h.Close()
	_, ok := <-ch
	assert.False(t, ok)

	late, _ := h.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok, "subscribing after Close returns a closed channel")

	h.Publish(SessionStarted, nil)
	assert.Empty(t, h.Since(0))
}

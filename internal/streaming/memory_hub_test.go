package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/jobflow/pkg/schema"
)

func receive(t *testing.T, ch <-chan StreamEvent) StreamEvent {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return StreamEvent{}
	}
}

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	event := StreamEvent{
		ExecutionID: "exec-1",
		JobName:     "billingJob",
		Node:        "invoiceStep",
		EventType:   "step_completed",
		Payload:     map[string]any{"status": "COMPLETED"},
	}
	require.NoError(t, hub.Publish(ctx, event))

	got := receive(t, ch)
	assert.Equal(t, event.ExecutionID, got.ExecutionID)
	assert.Equal(t, event.Node, got.Node)
	assert.Equal(t, event.EventType, got.EventType)
}

func TestFilters(t *testing.T) {
	tests := []struct {
		name    string
		filter  EventFilter
		event   StreamEvent
		matches bool
	}{
		{"empty filter", EventFilter{}, StreamEvent{ExecutionID: "a", EventType: "x"}, true},
		{"execution match", EventFilter{ExecutionID: "a"}, StreamEvent{ExecutionID: "a"}, true},
		{"execution mismatch", EventFilter{ExecutionID: "a"}, StreamEvent{ExecutionID: "b"}, false},
		{"job match", EventFilter{JobName: "billingJob"}, StreamEvent{JobName: "billingJob"}, true},
		{"job mismatch", EventFilter{JobName: "billingJob"}, StreamEvent{JobName: "deliverPackageJob"}, false},
		{"type match", EventFilter{EventTypes: []string{"a", "b"}}, StreamEvent{EventType: "b"}, true},
		{"type mismatch", EventFilter{EventTypes: []string{"a"}}, StreamEvent{EventType: "c"}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.matches, matchFilter(tc.filter, tc.event))
		})
	}
}

func TestFilterByExecutionID(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{ExecutionID: "exec-1"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{ExecutionID: "exec-2", EventType: "step_started"}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{ExecutionID: "exec-1", EventType: "step_started"}))

	assert.Equal(t, "exec-1", receive(t, ch).ExecutionID)
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %+v", e)
	default:
	}
}

func TestCancelClosesChannel(t *testing.T) {
	hub := NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers())

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers())
}

func TestBackpressure(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < defaultChannelBuffer+10; i++ {
		require.NoError(t, hub.Publish(ctx, StreamEvent{ExecutionID: "exec-1", EventType: "tick"}))
	}
	assert.Equal(t, int64(10), hub.Dropped())

	drained := 0
	for len(ch) > 0 {
		<-ch
		drained++
	}
	assert.Equal(t, defaultChannelBuffer, drained)
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	const goroutines = 20

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = hub.Publish(ctx, StreamEvent{ExecutionID: "exec-concurrent", EventType: "tick"})
			}
		}()
		go func() {
			defer wg.Done()
			ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
			if err != nil {
				return
			}
			for range 5 {
				select {
				case <-ch:
				case <-time.After(10 * time.Millisecond):
				}
			}
			cancel()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Subscribers())
}

func TestCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, hub.Publish(ctx, StreamEvent{ExecutionID: "exec-1"}), context.Canceled)
	_, _, err := hub.Subscribe(ctx, EventFilter{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTerminalEventEvictsOldest(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{ExecutionID: "exec-1"})
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < defaultChannelBuffer; i++ {
		require.NoError(t, hub.Publish(ctx, StreamEvent{ExecutionID: "exec-1", EventType: schema.EventStepCompleted}))
	}
	require.NoError(t, hub.Publish(ctx, StreamEvent{ExecutionID: "exec-1", EventType: schema.EventExecutionFailed}))
	assert.Equal(t, int64(1), hub.Dropped())

	var last StreamEvent
	for len(ch) > 0 {
		last = <-ch
	}
	assert.Equal(t, schema.EventExecutionFailed, last.EventType)
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())

	ch, unsubscribe, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after context cancellation")
	}
	assert.Equal(t, 0, hub.Subscribers())
	unsubscribe()
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(schema.EventExecutionCompleted))
	assert.True(t, IsTerminal(schema.EventExecutionStopped))
	assert.False(t, IsTerminal(schema.EventStepFailed))
}

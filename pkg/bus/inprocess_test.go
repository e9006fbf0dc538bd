package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcessHash(t *testing.T) {
	s := NewInProcess()
	existed := s.HSet("profiles", "profile_10.0.0.1", "hostname", "alice")
	assert.False(t, existed)

	existed = s.HSet("profiles", "profile_10.0.0.1", "hostname", "bob")
	assert.True(t, existed)

	v, ok := s.HGet("profiles", "profile_10.0.0.1", "hostname")
	require.True(t, ok)
	assert.Equal(t, "bob", v)

	all := s.HGetAll("profiles", "profile_10.0.0.1")
	assert.Equal(t, map[string]string{"hostname": "bob"}, all)

	s.HDel("profiles", "profile_10.0.0.1", "hostname")
	_, ok = s.HGet("profiles", "profile_10.0.0.1", "hostname")
	assert.False(t, ok)
}

func TestInProcessSet(t *testing.T) {
	s := NewInProcess()
	assert.True(t, s.SAdd("tuples", "profile_a", "10.0.0.2:80:tcp"))
	assert.False(t, s.SAdd("tuples", "profile_a", "10.0.0.2:80:tcp"))
	assert.True(t, s.SIsMember("tuples", "profile_a", "10.0.0.2:80:tcp"))
	assert.ElementsMatch(t, []string{"10.0.0.2:80:tcp"}, s.SMembers("tuples", "profile_a"))
}

func TestInProcessZSetOrderingAndRange(t *testing.T) {
	s := NewInProcess()
	s.ZAdd("modifiedTW", "queue", 5, "tw1")
	s.ZAdd("modifiedTW", "queue", 1, "tw0")
	s.ZAdd("modifiedTW", "queue", 3, "tw2")

	assert.Equal(t, []string{"tw0", "tw2", "tw1"}, s.ZRange("modifiedTW", "queue", nil, nil))
	assert.Equal(t, 3, s.ZCard("modifiedTW", "queue"))

	lo, hi := 2.0, 4.0
	assert.Equal(t, []string{"tw2"}, s.ZRange("modifiedTW", "queue", &lo, &hi))

	s.ZAdd("modifiedTW", "queue", 0, "tw1")
	assert.Equal(t, []string{"tw1", "tw0", "tw2"}, s.ZRange("modifiedTW", "queue", nil, nil))
}

func TestInProcessPublishSubscribe(t *testing.T) {
	s := NewInProcess()
	sub := s.Subscribe(ChanNewFlow)
	defer sub.Close()

	s.Publish(ChanNewFlow, "flow-1")

	ctx := context.Background()
	msg, ok := s.GetMessage(ctx, sub, time.Second)
	require.True(t, ok)
	assert.Equal(t, "flow-1", msg.Payload)
	assert.False(t, msg.IsStop())
}

func TestInProcessGetMessageTimesOut(t *testing.T) {
	s := NewInProcess()
	sub := s.Subscribe(ChanNewFlow)
	defer sub.Close()

	_, ok := s.GetMessage(context.Background(), sub, 10*time.Millisecond)
	assert.False(t, ok)
}

func TestInProcessPublishStopBroadcasts(t *testing.T) {
	s := NewInProcess()
	a := s.Subscribe(ChanNewFlow)
	b := s.Subscribe(ChanNewAlert)
	defer a.Close()
	defer b.Close()

	s.PublishStop()

	ctx := context.Background()
	msgA, ok := s.GetMessage(ctx, a, time.Second)
	require.True(t, ok)
	assert.True(t, msgA.IsStop())

	msgB, ok := s.GetMessage(ctx, b, time.Second)
	require.True(t, ok)
	assert.True(t, msgB.IsStop())
}

func TestInProcessSlowSubscriberDropsRatherThanBlocks(t *testing.T) {
	s := NewInProcess()
	sub := s.Subscribe(ChanNewFlow)
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberQueueDepth+10; i++ {
			s.Publish(ChanNewFlow, "x")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber queue")
	}
}

func TestInProcessCloseUnblocksSubscribers(t *testing.T) {
	s := NewInProcess()
	sub := s.Subscribe(ChanNewFlow)

	require.NoError(t, s.Close())

	_, ok := s.GetMessage(context.Background(), sub, time.Second)
	assert.False(t, ok)
}

var _ Store = (*InProcess)(nil)

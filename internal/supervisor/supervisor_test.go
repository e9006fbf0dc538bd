package supervisor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/pkg/bus"
)

func TestShutdownWaitsForFinishedModules(t *testing.T) {
	store := bus.NewInProcess()
	defer store.Close()

	s := New(store, "")
	s.Register("profiler")
	s.Register("arp")

	go func() {
		// simulate both components acking shortly after stop_process
		time.Sleep(20 * time.Millisecond)
		store.Publish(bus.ChanFinishedModules, "profiler")
		store.Publish(bus.ChanFinishedModules, "arp")
	}()

	done := make(chan struct{})
	go func() {
		s.Shutdown(nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete")
	}
	<-s.Done()
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := bus.NewInProcess()
	defer store.Close()
	store.SAdd(nsProfiles, "all", "profile_10.0.0.5")
	store.HSet(nsIPInfo, "all", "10.0.0.9", `{"org":"Test"}`)

	s := New(store, "")
	path := filepath.Join(t.TempDir(), "snap.db")
	require.NoError(t, s.Snapshot(path))
	_, err := os.Stat(path)
	require.NoError(t, err)

	restored := bus.NewInProcess()
	defer restored.Close()
	require.NoError(t, LoadSnapshot(path, restored))

	assert.Contains(t, restored.SMembers(nsProfiles, "all"), "profile_10.0.0.5")
	v, ok := restored.HGet(nsIPInfo, "all", "10.0.0.9")
	require.True(t, ok)
	assert.Contains(t, v, "Test")
}

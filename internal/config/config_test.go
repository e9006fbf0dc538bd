package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func resetKeys() {
	Keys = Config{
		PacketFilter:       "ip or not ip",
		HomeNetwork:        []string{"192.168.0.0/16", "172.16.0.0/12", "10.0.0.0/8"},
		TWWidth:            3600,
		DetectionThreshold: 0.5,
	}
}

func TestInitMissingFileKeepsDefaults(t *testing.T) {
	resetKeys()
	Init(filepath.Join(t.TempDir(), "does-not-exist.json"))
	assert.Equal(t, int64(3600), Keys.TWWidth)
	assert.Equal(t, "ip or not ip", Keys.PacketFilter)
}

func TestInitOverridesSelectedFields(t *testing.T) {
	resetKeys()
	path := writeConfig(t, `{"tw_width": 1800, "detection_threshold": 0.2, "disable": ["arp_scan"]}`)
	Init(path)

	assert.Equal(t, int64(1800), Keys.TWWidth)
	assert.Equal(t, 0.2, Keys.DetectionThreshold)
	assert.Equal(t, "ip or not ip", Keys.PacketFilter, "unset fields must keep their default")
	assert.True(t, Keys.IsDisabled("arp_scan"))
	assert.False(t, Keys.IsDisabled("arp_mitm"))
}

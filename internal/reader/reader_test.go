package reader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsentry/flowsentry/pkg/model"
)

func TestRunSingleFileSkipsCommentsAndPreservesLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conn.json")
	content := "#comment\n" +
		`{"ts":1.0,"uid":"a","id.orig_h":"10.0.0.1","id.orig_p":1,"id.resp_h":"10.0.0.2","id.resp_p":2,"proto":"tcp"}` + "\n" +
		`{"ts":2.0,"uid":"b","id.orig_h":"10.0.0.3","id.orig_p":1,"id.resp_h":"10.0.0.4","id.resp_p":2,"proto":"tcp"}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r := New(model.SourceZeekJSON, path, "", time.Second)
	out := make(chan model.RawRecord, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, r.Run(ctx, out))
	close(out)

	var recs []model.RawRecord
	for rec := range out {
		recs = append(recs, rec)
	}
	require.Len(t, recs, 2)
	assert.Equal(t, model.Timestamp(1_000_000), recs[0].EventTS)
	assert.Equal(t, model.Timestamp(2_000_000), recs[1].EventTS)
}

func TestRunDirectoryMergesInTimestampOrder(t *testing.T) {
	dir := t.TempDir()

	fastPath := filepath.Join(dir, "fast.log")
	slowPath := filepath.Join(dir, "slow.log")
	require.NoError(t, os.WriteFile(fastPath, []byte(
		`{"ts":1.0,"uid":"a","id.orig_h":"10.0.0.1","id.orig_p":1,"id.resp_h":"10.0.0.2","id.resp_p":2,"proto":"tcp"}`+"\n"+
			`{"ts":3.0,"uid":"c","id.orig_h":"10.0.0.1","id.orig_p":1,"id.resp_h":"10.0.0.2","id.resp_p":2,"proto":"tcp"}`+"\n",
	), 0o644))
	require.NoError(t, os.WriteFile(slowPath, []byte(
		`{"ts":2.0,"uid":"b","id.orig_h":"10.0.0.1","id.orig_p":1,"id.resp_h":"10.0.0.2","id.resp_p":2,"proto":"tcp"}`+"\n",
	), 0o644))

	r := New(model.SourceZeekJSON, dir, "", 300*time.Millisecond)
	out := make(chan model.RawRecord, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, r.Run(ctx, out))
	close(out)

	var tsOrder []model.Timestamp
	for rec := range out {
		tsOrder = append(tsOrder, rec.EventTS)
	}
	require.Len(t, tsOrder, 3)
	for i := 1; i < len(tsOrder); i++ {
		assert.GreaterOrEqual(t, tsOrder[i], tsOrder[i-1])
	}
}

func TestRunDirectoryExcludesNonTrafficLogs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weird.log"), []byte(
		`{"ts":1.0,"uid":"a","id.orig_h":"10.0.0.1","id.orig_p":1,"id.resp_h":"10.0.0.2","id.resp_p":2,"proto":"tcp"}`+"\n",
	), 0o644))

	r := New(model.SourceZeekJSON, dir, "", 200*time.Millisecond)
	out := make(chan model.RawRecord, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, r.Run(ctx, out))
	close(out)

	var count int
	for range out {
		count++
	}
	assert.Zero(t, count, "weird.log must be excluded from traffic ingestion")
}

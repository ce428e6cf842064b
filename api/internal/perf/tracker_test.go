package perf

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readRecords(t *testing.T, path string) []record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		out = append(out, r)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestTrackerWritesOneRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "performance.jsonl")
	tr := NewTracker(path, "analyze_two_stage", map[string]any{"dog_name": "콩이"}, nil)

	end := tr.Span("vision_analysis")
	time.Sleep(5 * time.Millisecond)
	end(nil)

	end = tr.Span("expert_analysis")
	end(errors.New("boom"))

	tr.MarkEvent("expert_mock_fallback", true)
	tr.Finish("success")
	// Second Finish is a no-op.
	tr.Finish("error")

	recs := readRecords(t, path)
	require.Len(t, recs, 1)
	r := recs[0]

	assert.Equal(t, "analyze_two_stage", r.Name)
	assert.Equal(t, "success", r.Status)
	assert.Greater(t, r.TotalDuration, 0.0)
	assert.Equal(t, "콩이", r.Metadata["dog_name"])

	require.Len(t, r.Events, 3)
	assert.Equal(t, "vision_analysis", r.Events[0].Label)
	assert.Greater(t, r.Events[0].Duration, 0.0)
	assert.Equal(t, "boom", r.Events[1].Error)
	assert.Equal(t, true, r.Events[2].Value)

	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), ts, time.Minute)
}

func TestTrackerSetStatusWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.jsonl")
	tr := NewTracker(path, "op", nil, nil)
	tr.SetStatus("error", "pipeline failed")
	tr.Finish("success")

	recs := readRecords(t, path)
	require.Len(t, recs, 1)
	assert.Equal(t, "error", recs[0].Status)
	assert.Equal(t, "pipeline failed", recs[0].Error)
}

func TestTrackerAddMetadataSkipsNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.jsonl")
	tr := NewTracker(path, "op", nil, nil)
	tr.AddMetadata(map[string]any{"a": 1, "b": nil})
	tr.Finish("success")

	recs := readRecords(t, path)
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0].Metadata, "a")
	assert.NotContains(t, recs[0].Metadata, "b")
}

func TestTrackerAppendsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.jsonl")
	NewTracker(path, "first", nil, nil).Finish("success")
	NewTracker(path, "second", nil, nil).Finish("error")

	recs := readRecords(t, path)
	require.Len(t, recs, 2)
	assert.Equal(t, "first", recs[0].Name)
	assert.Equal(t, "second", recs[1].Name)
	// Events marshal as an array even when empty.
	assert.NotNil(t, recs[0].Events)
}

func TestTrackerSwallowsWriteFailure(t *testing.T) {
	// Unwritable path: Finish must not panic or error out.
	tr := NewTracker(string([]byte{0}), "op", nil, nil)
	tr.Finish("success")
}

package report

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLWriterEnvelope(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-1")
	ctx := context.Background()

	require.NoError(t, w.WriteJob(ctx, &JobRecord{
		Rule:     "align",
		Job:      "align|sample=a",
		State:    "succeeded",
		Outputs:  []string{"mapped/a.sam"},
		Duration: 250 * time.Millisecond,
	}))
	require.NoError(t, w.WriteSummary(ctx, &SummaryRecord{
		Jobs:      2,
		Succeeded: 2,
		Duration:  time.Second,
	}))
	require.NoError(t, w.Close())

	scanner := bufio.NewScanner(&buf)
	var records []Record
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, records, 2)

	assert.Equal(t, TypeJob, records[0].Type)
	assert.Equal(t, "run-1", records[0].RunID)
	assert.False(t, records[0].TS.IsZero())

	var job JobRecord
	require.NoError(t, json.Unmarshal(records[0].Data, &job))
	assert.Equal(t, "align|sample=a", job.Job)
	assert.Equal(t, 250*time.Millisecond, job.Duration)

	assert.Equal(t, TypeSummary, records[1].Type)
	var sum SummaryRecord
	require.NoError(t, json.Unmarshal(records[1].Data, &sum))
	assert.Equal(t, 2, sum.Succeeded)
}

func TestJSONLWriterRecordTypes(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-1")
	ctx := context.Background()

	require.NoError(t, w.WritePlan(ctx, &PlanRecord{Rule: "align", Job: "align", Reason: "missing output"}))
	require.NoError(t, w.WriteSkip(ctx, &SkipRecord{Rule: "sort", Job: "sort", Reason: "dependency failed: align"}))
	require.NoError(t, w.WriteError(ctx, &ErrorRecord{Code: ErrCodeExecution, Message: "exit 1"}))

	var types []string
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		types = append(types, rec.Type)
	}
	assert.Equal(t, []string{TypePlan, TypeSkip, TypeError}, types)
}

func TestJSONLWriterClosed(t *testing.T) {
	w := NewJSONLWriter(&bytes.Buffer{}, "run-1")
	require.NoError(t, w.Close())

	err := w.WriteJob(context.Background(), &JobRecord{Rule: "r", Job: "r"})
	require.ErrorIs(t, err, ErrWriterClosed)
}

func TestJSONLWriterCancelledContext(t *testing.T) {
	w := NewJSONLWriter(&bytes.Buffer{}, "run-1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteJob(ctx, &JobRecord{Rule: "r", Job: "r"})
	require.ErrorIs(t, err, context.Canceled)
}

// shortWriter writes at most one byte per call.
type shortWriter struct {
	buf bytes.Buffer
}

func (s *shortWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return s.buf.Write(p[:1])
}

func TestJSONLWriterShortWrites(t *testing.T) {
	sw := &shortWriter{}
	w := NewJSONLWriter(sw, "run-1")

	require.NoError(t, w.WriteSkip(context.Background(), &SkipRecord{Rule: "r", Job: "r"}))

	var rec Record
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(sw.buf.Bytes()), &rec))
	assert.Equal(t, TypeSkip, rec.Type)
}

func TestDiscard(t *testing.T) {
	var d Discard
	ctx := context.Background()
	assert.NoError(t, d.WritePlan(ctx, nil))
	assert.NoError(t, d.WriteJob(ctx, nil))
	assert.NoError(t, d.WriteSkip(ctx, nil))
	assert.NoError(t, d.WriteError(ctx, nil))
	assert.NoError(t, d.WriteSummary(ctx, nil))
	assert.NoError(t, d.Close())
}

package summary

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	events []Event
}

func (f *fakeNotifier) Publish(e Event) { f.events = append(f.events, e) }

func TestRecordAndFinalizeTotals(t *testing.T) {
	s := New(nil)
	s.Record("src1", PhaseDownload, StatusOK, "")
	s.Record("src1", PhaseStage, StatusOK, "")
	s.Record("src1", PhaseSource, StatusOK, "")
	s.Record("src2", PhaseSource, StatusFailed, "boom")
	s.Record("src3", PhaseSource, StatusPartial, "1 of 2 artifacts failed")
	s.Record("src4", PhaseSource, StatusSkippedCancelled, "cancelled")

	result := s.Finalize()
	assert.Equal(t, 1, result.Totals.Staged)
	assert.Equal(t, 1, result.Totals.Failed)
	assert.Equal(t, 1, result.Totals.Partial)
	assert.Equal(t, 1, result.Totals.Skipped)
	assert.Equal(t, 1, result.Totals.Downloaded)
	assert.Len(t, result.PerSource, 4)
	assert.NotEmpty(t, result.RunID)
}

func TestSecondTerminalRecordOverwritesFirst(t *testing.T) {
	s := New(nil)
	s.Record("src1", PhaseSource, StatusFailed, "first")
	s.Record("src1", PhaseSource, StatusOK, "retried and succeeded")

	result := s.Finalize()
	require.Len(t, result.PerSource, 1)
	assert.Equal(t, StatusOK, result.PerSource[0].Status)
}

func TestEmptySummaryFinalizesCleanly(t *testing.T) {
	s := New(nil)
	result := s.Finalize()
	assert.Empty(t, result.PerSource)
	assert.Equal(t, Totals{}, result.Totals)
}

func TestNotifierReceivesEveryRecord(t *testing.T) {
	n := &fakeNotifier{}
	s := New(n)
	s.Record("src1", PhaseDownload, StatusOK, "")
	s.Record("src1", PhaseSource, StatusOK, "")
	assert.Len(t, n.events, 2)
}

package partition

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Dev-pucci/FCW-Targeted/internal/crawler"
)

func TestPartitionFullWindow(t *testing.T) {
	t.Parallel()

	got, err := Partition(1, 100, 4, 5, 1)
	require.NoError(t, err)
	require.Equal(t, []crawler.PageAssignment{
		{RangeStart: 1, RangeEnd: 5, WorkerID: 0, PassNumber: 1},
		{RangeStart: 6, RangeEnd: 10, WorkerID: 1, PassNumber: 1},
		{RangeStart: 11, RangeEnd: 15, WorkerID: 2, PassNumber: 1},
		{RangeStart: 16, RangeEnd: 20, WorkerID: 3, PassNumber: 1},
	}, got)
}

func TestPartitionShortSpanSpreadsEvenly(t *testing.T) {
	t.Parallel()

	got, err := Partition(40, 7, 4, 5, 2)
	require.NoError(t, err)
	require.Equal(t, []crawler.PageAssignment{
		{RangeStart: 40, RangeEnd: 41, WorkerID: 0, PassNumber: 2},
		{RangeStart: 42, RangeEnd: 43, WorkerID: 1, PassNumber: 2},
		{RangeStart: 44, RangeEnd: 45, WorkerID: 2, PassNumber: 2},
		{RangeStart: 46, RangeEnd: 46, WorkerID: 3, PassNumber: 2},
	}, got)
}

func TestPartitionFewerPagesThanWorkers(t *testing.T) {
	t.Parallel()

	got, err := Partition(3, 2, 4, 5, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 3, got[0].RangeStart)
	require.Equal(t, 4, got[1].RangeEnd)
}

func TestPartitionZeroSpan(t *testing.T) {
	t.Parallel()

	got, err := Partition(1, 0, 4, 5, 1)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestPartitionRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name                           string
		start, span, workers, perWorker int
	}{
		{"start", 0, 10, 1, 1},
		{"span", 1, -1, 1, 1},
		{"workers", 1, 10, 0, 1},
		{"per worker", 1, 10, 1, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Partition(tc.start, tc.span, tc.workers, tc.perWorker, 1)
			require.Error(t, err)
		})
	}
}

// TestPartitionProperties checks the partition contract over a grid of inputs.
func TestPartitionProperties(t *testing.T) {
	t.Parallel()

	for start := 1; start <= 3; start++ {
		for span := 0; span <= 40; span++ {
			for workers := 1; workers <= 6; workers++ {
				for perWorker := 1; perWorker <= 6; perWorker++ {
					got, err := Partition(start, span, workers, perWorker, 1)
					require.NoError(t, err)

					want := span
					if workers*perWorker < want {
						want = workers * perWorker
					}
					require.Equal(t, want, Covered(got))
					require.LessOrEqual(t, len(got), workers)

					next := start
					for _, a := range got {
						require.Equal(t, next, a.RangeStart, "ranges must be contiguous")
						require.GreaterOrEqual(t, a.Pages(), 1, "no empty assignment")
						require.LessOrEqual(t, a.Pages(), perWorker)
						next = a.RangeEnd + 1
					}

					again, err := Partition(start, span, workers, perWorker, 1)
					require.NoError(t, err)
					require.Equal(t, got, again)
				}
			}
		}
	}
}

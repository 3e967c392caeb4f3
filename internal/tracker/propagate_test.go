package tracker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/taskhub/internal/store"
)

func TestAggregate(t *testing.T) {
	cases := []struct {
		name      string
		progress  []int
		wantAvg   int
		wantReady bool
	}{
		{"no dependencies", nil, 100, true},
		{"empty set", []int{}, 100, true},
		{"average", []int{40, 60}, 50, false},
		{"truncates", []int{33, 34}, 33, false},
		{"all done", []int{100, 100, 100}, 100, true},
		{"one behind", []int{100, 99}, 99, false},
		{"not started", []int{0}, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			avg, ready := Aggregate(tc.progress)
			assert.Equal(t, tc.wantAvg, avg)
			assert.Equal(t, tc.wantReady, ready)
		})
	}
}

// fakeProgressStore records ApplyProgress calls so tests can see exactly
// which rows the propagator writes.
type fakeProgressStore struct {
	dependents map[int64][]int64
	progress   map[int64][]int
	all        []int64
	applied    [][]store.ProgressUpdate
}

func (f *fakeProgressStore) DependentsOf(_ context.Context, id int64) ([]int64, error) {
	return f.dependents[id], nil
}

func (f *fakeProgressStore) DependencyProgress(_ context.Context, ids []int64) (map[int64][]int, error) {
	out := make(map[int64][]int, len(ids))
	for _, id := range ids {
		out[id] = f.progress[id]
	}
	return out, nil
}

func (f *fakeProgressStore) ApplyProgress(_ context.Context, updates []store.ProgressUpdate) error {
	f.applied = append(f.applied, updates)
	return nil
}

func (f *fakeProgressStore) TaskIDs(context.Context) ([]int64, error) {
	return f.all, nil
}

func TestRecordTaskSavedUpdatesOnlyDependents(t *testing.T) {
	fs := &fakeProgressStore{
		dependents: map[int64][]int64{1: {2, 3}},
		progress:   map[int64][]int{2: {100}, 3: {100, 0}},
	}
	p := NewPropagator(fs)

	require.NoError(t, p.RecordTaskSaved(context.Background(), 1))
	require.Len(t, fs.applied, 1, "one bulk write per trigger")
	assert.Equal(t, []store.ProgressUpdate{
		{TaskID: 2, ProgressDependencies: 100, IsReady: true},
		{TaskID: 3, ProgressDependencies: 50, IsReady: false},
	}, fs.applied[0])
}

func TestRecordTaskSavedWithoutDependentsWritesNothing(t *testing.T) {
	fs := &fakeProgressStore{}
	p := NewPropagator(fs)

	require.NoError(t, p.RecordTaskSaved(context.Background(), 7))
	assert.Empty(t, fs.applied)
}

func TestRecordDependenciesChangedUpdatesTaskItself(t *testing.T) {
	fs := &fakeProgressStore{progress: map[int64][]int{4: {}}}
	p := NewPropagator(fs)

	require.NoError(t, p.RecordDependenciesChanged(context.Background(), 4))
	require.Len(t, fs.applied, 1)
	assert.Equal(t, []store.ProgressUpdate{{TaskID: 4, ProgressDependencies: 100, IsReady: true}}, fs.applied[0])
}

func TestReconcileCoversEveryTask(t *testing.T) {
	fs := &fakeProgressStore{
		all:      []int64{1, 2, 3},
		progress: map[int64][]int{2: {20}, 3: {100}},
	}
	p := NewPropagator(fs)

	n, err := p.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, fs.applied, 1)
	assert.Equal(t, []store.ProgressUpdate{
		{TaskID: 1, ProgressDependencies: 100, IsReady: true},
		{TaskID: 2, ProgressDependencies: 20, IsReady: false},
		{TaskID: 3, ProgressDependencies: 100, IsReady: true},
	}, fs.applied[0])
}

package mergequeue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/undercity-dev/undercity/internal/config"
	"github.com/undercity-dev/undercity/internal/models"
)

type fakeGit struct {
	rebaseErr error
	testErr   error
	testOut   string
	mergeErr  error
	pushErr   error

	rebaseCalls int
	mergeCalls  int
	pushCalls   int
	abortCalls  int
}

func (f *fakeGit) Rebase(ctx context.Context, branch, trunk string, strategy models.ConflictStrategy) error {
	f.rebaseCalls++
	return f.rebaseErr
}

func (f *fakeGit) RunTests(ctx context.Context, testCommand string) (string, error) {
	return f.testOut, f.testErr
}

func (f *fakeGit) Merge(ctx context.Context, branch, trunk string, strategy models.ConflictStrategy) error {
	f.mergeCalls++
	return f.mergeErr
}

func (f *fakeGit) Push(ctx context.Context, trunk string) error {
	f.pushCalls++
	return f.pushErr
}

func (f *fakeGit) AbortRebase(ctx context.Context) error {
	f.abortCalls++
	return nil
}

func testConfig() config.MergeQueueConfig {
	return config.MergeQueueConfig{MaxRetries: 2, BaseDelayMS: 0, MaxDelayMS: 0}
}

func TestQueue_Add_EnqueuesPendingItem(t *testing.T) {
	q := New(&fakeGit{}, nil, nil, testConfig(), "main", "")

	item, err := q.Add(context.Background(), "task-1-branch", "t1", "agent-1", []string{"a.go"})
	require.NoError(t, err)
	assert.Equal(t, models.MergePending, item.Status)
	assert.Len(t, q.Items(), 1)
}

func TestQueue_Add_RejectsEmptyBranch(t *testing.T) {
	q := New(&fakeGit{}, nil, nil, testConfig(), "main", "")
	_, err := q.Add(context.Background(), "", "t1", "agent-1", nil)
	require.Error(t, err)
}

func TestQueue_ProcessAll_MergesCleanBranch(t *testing.T) {
	git := &fakeGit{}
	q := New(git, nil, nil, testConfig(), "main", "go test ./...")
	_, err := q.Add(context.Background(), "branch-a", "t1", "agent-1", []string{"a.go"})
	require.NoError(t, err)

	items, err := q.ProcessAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.MergeComplete, items[0].Status)
	assert.Equal(t, 1, git.rebaseCalls)
	assert.Equal(t, 1, git.mergeCalls)
	assert.Equal(t, 1, git.pushCalls)
}

func TestQueue_ProcessAll_DrainsMultipleInFIFOOrder(t *testing.T) {
	git := &fakeGit{}
	q := New(git, nil, nil, testConfig(), "main", "")
	_, err := q.Add(context.Background(), "branch-a", "t1", "agent-1", []string{"a.go"})
	require.NoError(t, err)
	_, err = q.Add(context.Background(), "branch-b", "t2", "agent-2", []string{"b.go"})
	require.NoError(t, err)

	items, err := q.ProcessAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "branch-a", items[0].Branch)
	assert.Equal(t, "branch-b", items[1].Branch)
	assert.Equal(t, models.MergeComplete, items[0].Status)
	assert.Equal(t, models.MergeComplete, items[1].Status)
}

func TestQueue_ProcessAll_RebaseFailureRetriesThenPermanentlyFails(t *testing.T) {
	git := &fakeGit{rebaseErr: assertErr("conflict")}
	cfg := config.MergeQueueConfig{MaxRetries: 1, BaseDelayMS: 0, MaxDelayMS: 0}
	q := New(git, nil, nil, cfg, "main", "")
	_, err := q.Add(context.Background(), "branch-a", "t1", "agent-1", []string{"a.go"})
	require.NoError(t, err)

	items, err := q.ProcessAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.MergeFailed, items[0].Status)
	assert.Equal(t, 1, items[0].RetryCount)
	assert.Equal(t, 1, git.abortCalls)

	items, err = q.ProcessAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.MergeFailed, items[0].Status)
	assert.Equal(t, 2, items[0].RetryCount, "second pass attempts again since backoff is zero")
	assert.Equal(t, 2, git.abortCalls)

	items, err = q.ProcessAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, git.abortCalls, "retry count now exceeds MaxRetries so no further attempts happen")
}

func TestQueue_ProcessAll_TestFailureWithNoRetriesFailsWithoutMerge(t *testing.T) {
	git := &fakeGit{testErr: assertErr("test failed"), testOut: "FAIL"}
	cfg := config.MergeQueueConfig{MaxRetries: 0, BaseDelayMS: 0, MaxDelayMS: 0}
	q := New(git, nil, nil, cfg, "main", "go test ./...")
	_, err := q.Add(context.Background(), "branch-a", "t1", "agent-1", nil)
	require.NoError(t, err)

	items, err := q.ProcessAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.MergeFailed, items[0].Status)
	assert.Equal(t, 0, git.mergeCalls)
}

func TestQueue_ProcessAll_EscalatesToOursStrategyAfterRepeatedFailure(t *testing.T) {
	git := &fakeGit{rebaseErr: assertErr("conflict")}
	cfg := config.MergeQueueConfig{MaxRetries: 3, BaseDelayMS: 0, MaxDelayMS: 0}
	q := New(git, nil, nil, cfg, "main", "")
	item, err := q.Add(context.Background(), "branch-a", "t1", "agent-1", []string{"a.go"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = q.ProcessAll(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, models.StrategyOurs, item.Strategy)
}

func TestQueue_DetectQueueConflicts_FlagsOverlappingFiles(t *testing.T) {
	q := New(&fakeGit{}, nil, nil, testConfig(), "main", "")
	_, err := q.Add(context.Background(), "branch-a", "t1", "agent-1", []string{"a.go", "b.go"})
	require.NoError(t, err)
	_, err = q.Add(context.Background(), "branch-b", "t2", "agent-2", []string{"b.go", "c.go"})
	require.NoError(t, err)

	conflicts := q.DetectQueueConflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, []string{"b.go"}, conflicts[0].OverlapFiles)
	assert.Equal(t, SeverityWarning, conflicts[0].Severity)
}

func TestQueue_DetectQueueConflicts_SeverityErrorOnLargeOverlap(t *testing.T) {
	q := New(&fakeGit{}, nil, nil, testConfig(), "main", "")
	files := []string{"a.go", "b.go", "c.go", "d.go"}
	_, err := q.Add(context.Background(), "branch-a", "t1", "agent-1", files)
	require.NoError(t, err)
	_, err = q.Add(context.Background(), "branch-b", "t2", "agent-2", files)
	require.NoError(t, err)

	conflicts := q.DetectQueueConflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, SeverityError, conflicts[0].Severity)
}

func TestQueue_DetectQueueConflicts_IgnoresCompletedItems(t *testing.T) {
	git := &fakeGit{}
	q := New(git, nil, nil, testConfig(), "main", "")
	_, err := q.Add(context.Background(), "branch-a", "t1", "agent-1", []string{"a.go"})
	require.NoError(t, err)
	_, err = q.ProcessAll(context.Background())
	require.NoError(t, err)

	_, err = q.Add(context.Background(), "branch-b", "t2", "agent-2", []string{"a.go"})
	require.NoError(t, err)

	conflicts := q.DetectQueueConflicts()
	assert.Empty(t, conflicts)
}

func TestQueue_CheckConflictsBeforeAdd_ExcludesOwnBranch(t *testing.T) {
	q := New(&fakeGit{}, nil, nil, testConfig(), "main", "")
	_, err := q.Add(context.Background(), "branch-a", "t1", "agent-1", []string{"a.go"})
	require.NoError(t, err)

	conflicts := q.CheckConflictsBeforeAdd([]string{"a.go"}, "branch-a")
	assert.Empty(t, conflicts)

	conflicts = q.CheckConflictsBeforeAdd([]string{"a.go"}, "branch-b")
	require.Len(t, conflicts, 1)
	assert.Equal(t, "branch-a", conflicts[0].BranchB)
}

func TestQueue_ProcessAll_RespectsBackoffWindow(t *testing.T) {
	git := &fakeGit{rebaseErr: assertErr("conflict")}
	cfg := config.MergeQueueConfig{MaxRetries: 5, BaseDelayMS: 3600000, MaxDelayMS: 3600000}
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := New(git, nil, nil, cfg, "main", "")
	q.Now = func() time.Time { return frozen }
	_, err := q.Add(context.Background(), "branch-a", "t1", "agent-1", nil)
	require.NoError(t, err)

	items, err := q.ProcessAll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.MergeFailed, items[0].Status, "backoff window has not elapsed so no further retry happens within one ProcessAll pass")

	_, err = q.ProcessAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, git.rebaseCalls, "a second pass before the backoff window elapses does not retry")
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }

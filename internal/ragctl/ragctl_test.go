package ragctl

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/devstudio-tyler/company-on/internal/document"
	"github.com/devstudio-tyler/company-on/internal/ingestion"
	"github.com/devstudio-tyler/company-on/internal/maintenance"
	"github.com/devstudio-tyler/company-on/internal/retrieval"
	apperrors "github.com/devstudio-tyler/company-on/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobs struct {
	staleAfter time.Duration
	olderThan  time.Duration
	err        error
}

func (f *fakeJobs) RegenerateEmbeddings(context.Context) (maintenance.Report, error) {
	return maintenance.Report{Processed: 3, Succeeded: 2, Failed: 1}, f.err
}

func (f *fakeJobs) ReapStaleSessions(_ context.Context, staleAfter time.Duration) (maintenance.Report, error) {
	f.staleAfter = staleAfter
	return maintenance.Report{Processed: 1, Succeeded: 1}, nil
}

func (f *fakeJobs) CleanupFailedUploads(_ context.Context, olderThan time.Duration) (maintenance.Report, error) {
	f.olderThan = olderThan
	return maintenance.Report{}, nil
}

func (f *fakeJobs) CleanupOrphanedChunks(context.Context) (int64, error) { return 4, nil }

type fakeUploads struct {
	retried []string
}

func (f *fakeUploads) GetProcessingStatus(_ context.Context, id string) (*ingestion.ProcessingStatus, error) {
	if id != "u1" {
		return nil, apperrors.NotFound("upload %s", id)
	}
	docID := int64(7)
	return &ingestion.ProcessingStatus{
		UploadID:     "u1",
		Filename:     "handbook.pdf",
		Status:       document.SessionFailed,
		DocumentID:   &docID,
		ErrorMessage: "embed: embedding backend unavailable",
		FailureClass: apperrors.ClassProcessingFailed,
		Retryable:    true,
	}, nil
}

func (f *fakeUploads) RequestRetry(_ context.Context, id string) (*ingestion.ProcessingStatus, error) {
	f.retried = append(f.retried, id)
	return &ingestion.ProcessingStatus{UploadID: id, Status: document.SessionPending, FailureClass: apperrors.ClassNone}, nil
}

func (f *fakeUploads) List(_ context.Context, status string, page, pageSize int) (*ingestion.ListResponse, error) {
	return &ingestion.ListResponse{
		Uploads:  []*ingestion.ProcessingStatus{{UploadID: "u1", Status: document.SessionCompleted, Filename: "a.txt"}},
		Total:    1,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

type fakeSearcher struct {
	query string
	limit int
}

func (f *fakeSearcher) Search(_ context.Context, query string, limit int, _, _ float64) (*retrieval.Response, error) {
	f.query, f.limit = query, limit
	return &retrieval.Response{
		Query: query,
		Mode:  retrieval.ModeHybrid,
		Total: 1,
		Results: []retrieval.Result{
			{ChunkID: 11, DocumentID: 7, Text: "연차는 입사일 기준으로\n산정한다", CombinedScore: 0.91},
		},
	}, nil
}

func run(t *testing.T, env *Env, args ...string) (string, error) {
	t.Helper()
	closed := false
	env.Close = func() { closed = true }
	root := NewRootCommand(func(context.Context, string) (*Env, error) { return env, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	if err == nil {
		assert.True(t, closed, "env should be closed after the command")
	}
	return out.String(), err
}

func TestMaintenanceCommands(t *testing.T) {
	jobs := &fakeJobs{}
	env := &Env{Jobs: jobs}

	out, err := run(t, env, "regenerate-embeddings")
	require.NoError(t, err)
	assert.Contains(t, out, "processed 3, succeeded 2, failed 1")

	_, err = run(t, env, "reap-stale", "--stale-after", "45m")
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, jobs.staleAfter)

	_, err = run(t, env, "cleanup-failed")
	require.NoError(t, err)
	assert.Equal(t, maintenance.DefaultFailedRetention, jobs.olderThan)

	out, err = run(t, env, "cleanup-orphans")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 4 chunks")
}

func TestMaintenanceErrorPropagates(t *testing.T) {
	_, err := run(t, &Env{Jobs: &fakeJobs{err: errors.New("no embedder")}}, "regenerate-embeddings")
	assert.ErrorContains(t, err, "no embedder")
}

func TestUploadCommands(t *testing.T) {
	uploads := &fakeUploads{}
	env := &Env{Uploads: uploads}

	out, err := run(t, env, "status", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "handbook.pdf")
	assert.Contains(t, out, "processing_failed")
	assert.Contains(t, out, "Retryable: true")

	_, err = run(t, env, "status", "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	out, err = run(t, env, "retry", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, uploads.retried)
	assert.NotContains(t, out, "Failure:")

	out, err = run(t, env, "list", "--page-size", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "1 of 1 uploads")
}

func TestProcessRunsPipelineInline(t *testing.T) {
	runner := runnerFunc(func(_ context.Context, id string) (*ingestion.RunResult, error) {
		return &ingestion.RunResult{UploadID: id, DocumentID: 3, Chunks: 12, TokenCount: 900, Duration: 1500 * time.Millisecond}, nil
	})
	out, err := run(t, &Env{Runner: runner}, "process", "u9")
	require.NoError(t, err)
	assert.Contains(t, out, "Upload u9 completed")
	assert.Contains(t, out, "Chunks:   12")
}

func TestSearchJoinsArguments(t *testing.T) {
	s := &fakeSearcher{}
	out, err := run(t, &Env{Searcher: s}, "search", "-n", "3", "연차", "규정")
	require.NoError(t, err)
	assert.Equal(t, "연차 규정", s.query)
	assert.Equal(t, 3, s.limit)
	assert.Contains(t, out, "1 results (hybrid)")
	assert.Contains(t, out, "연차는 입사일 기준으로 산정한다")
}

func TestMissingDependencyIsReported(t *testing.T) {
	_, err := run(t, &Env{}, "cleanup-orphans")
	assert.ErrorIs(t, err, errNotConfigured)

	_, err = run(t, &Env{}, "process", "u1")
	assert.ErrorIs(t, err, errNotConfigured)
}

func TestOpenerFailureStopsCommand(t *testing.T) {
	root := NewRootCommand(func(context.Context, string) (*Env, error) {
		return nil, errors.New("postgres unreachable")
	})
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"cleanup-orphans"})
	assert.ErrorContains(t, root.ExecuteContext(context.Background()), "postgres unreachable")
}

type runnerFunc func(ctx context.Context, uploadID string) (*ingestion.RunResult, error)

func (f runnerFunc) Run(ctx context.Context, uploadID string) (*ingestion.RunResult, error) {
	return f(ctx, uploadID)
}

func TestRunLoadTalliesModes(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[string]bool{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.URL.Query().Get("q")] = true
		mu.Unlock()
		if r.URL.Query().Get("q") == "broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"search_type":"keyword_only","results":[]}`))
	}))
	defer srv.Close()

	report, err := RunLoad(context.Background(), LoadConfig{
		BaseURL:     srv.URL,
		Concurrency: 2,
		Duration:    150 * time.Millisecond,
		Queries:     []string{"연차 규정", "broken"},
	})
	require.NoError(t, err)
	require.Positive(t, report.Requests)
	assert.Equal(t, report.Requests, report.Succeeded+report.Failed)
	assert.Equal(t, report.Succeeded, report.Modes["keyword_only"])
	assert.Positive(t, report.Codes[http.StatusInternalServerError])
	assert.True(t, slices.IsSorted(report.Latencies))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, seen["연차 규정"])
}

func TestPercentile(t *testing.T) {
	r := &LoadReport{}
	assert.Zero(t, r.Percentile(50))

	for i := 1; i <= 100; i++ {
		r.Latencies = append(r.Latencies, time.Duration(i)*time.Millisecond)
	}
	assert.Equal(t, 50*time.Millisecond, r.Percentile(50))
	assert.Equal(t, 99*time.Millisecond, r.Percentile(99))
	assert.Equal(t, 100*time.Millisecond, r.Percentile(100))
	assert.Equal(t, time.Millisecond, r.Percentile(0))
}

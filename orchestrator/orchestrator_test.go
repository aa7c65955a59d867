package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	report "github.com/goliatone/go-report"
	"github.com/goliatone/go-report/dispatcher"
	"github.com/goliatone/go-report/export"
	"github.com/goliatone/go-report/lifecycle"
	"github.com/goliatone/go-report/runner"
	"github.com/goliatone/go-report/source"
	"github.com/goliatone/go-report/status"
	"github.com/goliatone/go-report/storage"
)

func salesRequest(user string) report.Request {
	return report.Request{
		Type:   report.TypeSales,
		Format: report.FormatCSV,
		Context: report.ExecutionContext{
			AgencyID:    "agency-1",
			UserID:      user,
			Permissions: []string{"reports.view", "reports.sales.view"},
		},
	}
}

func newOrchestrator(t *testing.T, src source.DataSource, opts ...Option) (*Orchestrator, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	store := storage.NewFileStore(fs, "/out", storage.WithBaseURL("https://files.test"), storage.WithFileLogger(report.NopLogger{}))
	engine := export.NewEngine(export.WithLogger(report.NopLogger{}))
	opts = append([]Option{WithLogger(report.NopLogger{})}, opts...)
	return New(src, engine, store, opts...), fs
}

// blockingSource signals started and then waits for release or ctx.
type blockingSource struct {
	started chan string
	release chan struct{}
	ignore  bool
}

func newBlockingSource() *blockingSource {
	return &blockingSource{started: make(chan string, 16), release: make(chan struct{})}
}

func (b *blockingSource) Generate(ctx context.Context, _ string, req report.Request) (report.Data, error) {
	b.started <- req.ID
	if b.ignore {
		<-b.release
		return report.Data{}, nil
	}
	select {
	case <-ctx.Done():
		return report.Data{}, context.Cause(ctx)
	case <-b.release:
	}
	return source.Static{Rows: 2}.Generate(ctx, "", req)
}

func TestExecuteCompletes(t *testing.T) {
	o, fs := newOrchestrator(t, source.Static{Sections: 2, Rows: 3})

	res, err := o.Execute(context.Background(), salesRequest("u1"))
	require.NoError(t, err)

	assert.Equal(t, status.Completed, res.Status)
	assert.Equal(t, 6, res.Metadata.RecordCount)
	assert.True(t, strings.HasPrefix(res.URL, "https://files.test/agency-1/"))
	assert.True(t, strings.HasSuffix(res.URL, res.ID+".csv"))
	require.NotNil(t, res.Progress)
	assert.Equal(t, 100.0, res.Progress.Percentage)
	assert.Empty(t, o.Running())

	ok, err := afero.Exists(fs, "/out/"+res.Metadata.FileID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExecuteRejectsMissingPermissions(t *testing.T) {
	o, _ := newOrchestrator(t, source.Static{})
	req := salesRequest("u1")
	req.Context.Permissions = []string{"reports.view"}

	_, err := o.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, report.ErrCodeAccessDenied, report.ErrorCode(err))
	assert.Equal(t, []string{"reports.sales.view"}, report.ErrorMetadata(err)["missing"])
	assert.Equal(t, 0, o.InFlight("u1"))
}

func TestExecuteRejectsInvalidRequests(t *testing.T) {
	o, _ := newOrchestrator(t, source.Static{})

	unknown := salesRequest("u1")
	unknown.Type = "payroll"
	_, err := o.Execute(context.Background(), unknown)
	assert.Equal(t, report.ErrCodeUnknownType, report.ErrorCode(err))

	charts := salesRequest("u1")
	charts.Options.IncludeCharts = true
	_, err = o.Execute(context.Background(), charts)
	assert.Equal(t, report.ErrCodeUnsupportedOption, report.ErrorCode(err))

	wide := salesRequest("u1")
	from := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	wide.DateRange = &report.DateRange{From: from, To: from.AddDate(2, 0, 0)}
	_, err = o.Execute(context.Background(), wide)
	assert.Equal(t, report.ErrCodeInvalidDateRange, report.ErrorCode(err))
}

func TestConcurrentAdmissionCeiling(t *testing.T) {
	const ceiling = 3
	src := newBlockingSource()
	o, _ := newOrchestrator(t, src, WithMaxConcurrentPerUser(ceiling))

	var (
		wg       sync.WaitGroup
		gate     = make(chan struct{})
		rejected atomic.Int32
		done     atomic.Int32
	)
	for range ceiling + 1 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			_, err := o.Execute(context.Background(), salesRequest("u1"))
			if report.HasCode(err, report.ErrCodeConcurrencyLimit) {
				rejected.Add(1)
				return
			}
			if err == nil {
				done.Add(1)
			}
		}()
	}
	close(gate)

	for range ceiling {
		select {
		case <-src.started:
		case <-time.After(2 * time.Second):
			t.Fatal("admitted executions did not start")
		}
	}
	assert.Eventually(t, func() bool { return rejected.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, ceiling, o.InFlight("u1"))

	other, err := o.Status(o.Running()[0])
	require.NoError(t, err)
	assert.False(t, other.Terminal())

	close(src.release)
	wg.Wait()
	assert.Equal(t, int32(ceiling), done.Load())
	assert.Equal(t, int32(1), rejected.Load())
	assert.Equal(t, 0, o.InFlight("u1"))
}

func TestTimeoutWinsRace(t *testing.T) {
	src := newBlockingSource()
	src.ignore = true
	defer close(src.release)
	o, _ := newOrchestrator(t, src, WithTimeout(50*time.Millisecond))

	start := time.Now()
	res, err := o.Execute(context.Background(), salesRequest("u1"))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, report.ErrCodeTimeout, report.ErrorCode(err))
	assert.Equal(t, status.Timeout, res.Status)
	require.NotNil(t, res.Error)
	assert.Equal(t, report.ErrCodeTimeout, res.Error.Code)
	assert.Less(t, elapsed, 50*time.Millisecond+500*time.Millisecond)
	assert.Empty(t, o.Running())
	assert.Equal(t, 0, o.InFlight("u1"))

	_, err = o.Status(res.ID)
	assert.Equal(t, report.ErrCodeNotFound, report.ErrorCode(err))
}

func TestRequestTimeoutOverridesDefault(t *testing.T) {
	src := newBlockingSource()
	o, _ := newOrchestrator(t, src, WithTimeout(time.Hour))

	req := salesRequest("u1")
	req.Timeout = 30 * time.Millisecond
	res, err := o.Execute(context.Background(), req)
	assert.True(t, report.HasCode(err, report.ErrCodeTimeout))
	assert.Equal(t, status.Timeout, res.Status)
}

func TestCancelRunningReport(t *testing.T) {
	src := newBlockingSource()
	o, _ := newOrchestrator(t, src)

	type outcome struct {
		status status.Status
		err    error
	}
	results := make(chan outcome, 1)
	go func() {
		res, err := o.Execute(context.Background(), salesRequest("u1"))
		results <- outcome{res.Status, err}
	}()

	id := <-src.started
	live, err := o.Status(id)
	require.NoError(t, err)
	assert.Equal(t, status.Processing, live.Status)
	assert.Equal(t, 10.0, live.Progress.Percentage)

	assert.True(t, o.Cancel(id))
	assert.False(t, o.Cancel(id))
	assert.NotContains(t, o.Running(), id)

	select {
	case got := <-results:
		assert.NoError(t, got.err)
		assert.Equal(t, status.Cancelled, got.status)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled execution did not return")
	}
}

// slowStore stores after a delay regardless of cancellation.
type slowStore struct {
	delay  time.Duration
	inner  storage.Store
	stored chan string
}

func (s *slowStore) Store(ctx context.Context, data []byte, meta storage.Metadata) (storage.Stored, error) {
	time.Sleep(s.delay)
	res, err := s.inner.Store(context.WithoutCancel(ctx), data, meta)
	s.stored <- res.FileID
	return res, err
}

func (s *slowStore) Delete(ctx context.Context, fileID string) error {
	return s.inner.Delete(ctx, fileID)
}

func TestTimedOutReportLeavesNoArtifact(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := &slowStore{
		delay:  150 * time.Millisecond,
		inner:  storage.NewFileStore(fs, "/out", storage.WithFileLogger(report.NopLogger{})),
		stored: make(chan string, 1),
	}
	o := New(source.Static{Rows: 2}, export.NewEngine(export.WithLogger(report.NopLogger{})), store,
		WithLogger(report.NopLogger{}),
		WithTimeout(50*time.Millisecond),
	)

	res, err := o.Execute(context.Background(), salesRequest("u1"))
	require.Error(t, err)
	assert.Equal(t, report.ErrCodeTimeout, report.ErrorCode(err))
	assert.Equal(t, status.Timeout, res.Status)
	assert.Empty(t, res.URL)

	var fileID string
	select {
	case fileID = <-store.stored:
	case <-time.After(2 * time.Second):
		t.Fatal("late upload never happened")
	}
	require.NotEmpty(t, fileID)
	assert.Eventually(t, func() bool {
		ok, _ := afero.Exists(fs, "/out/"+fileID)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestCancelAfterCompletionReturnsFalse(t *testing.T) {
	o, _ := newOrchestrator(t, source.Static{})
	rep, err := lifecycle.New(salesRequest("u1"), report.DefaultCatalog())
	require.NoError(t, err)
	require.NoError(t, rep.Start())
	require.NoError(t, rep.Complete(report.Data{}, "https://files.test/r.csv"))

	o.mu.Lock()
	o.running[rep.ID()] = &execution{report: rep, userID: "u1", ctl: runner.NewManualExecutionControl()}
	o.mu.Unlock()

	assert.False(t, o.Cancel(rep.ID()))
	assert.Equal(t, status.Completed, rep.Status())
}

func TestCancelUnknownAndStatusUnknown(t *testing.T) {
	o, _ := newOrchestrator(t, source.Static{})
	assert.False(t, o.Cancel("nope"))

	_, err := o.Status("nope")
	require.Error(t, err)
	assert.Equal(t, report.ErrCodeNotFound, report.ErrorCode(err))
}

func TestSourceFailureFailsReport(t *testing.T) {
	boom := errors.New("warehouse offline")
	o, _ := newOrchestrator(t, source.Func(func(context.Context, string, report.Request) (report.Data, error) {
		return report.Data{}, boom
	}))

	res, err := o.Execute(context.Background(), salesRequest("u1"))
	require.Error(t, err)
	assert.Equal(t, report.ErrCodeExecutionFailed, report.ErrorCode(err))
	assert.Equal(t, status.Failed, res.Status)
	require.NotNil(t, res.Error)
	assert.True(t, res.Error.Recoverable)
	assert.NotEmpty(t, res.NextAction)
	assert.Empty(t, o.Running())
}

func TestSourcePanicFailsReport(t *testing.T) {
	o, _ := newOrchestrator(t, source.Func(func(context.Context, string, report.Request) (report.Data, error) {
		panic("nil map")
	}))

	res, err := o.Execute(context.Background(), salesRequest("u1"))
	require.Error(t, err)
	assert.Equal(t, status.Failed, res.Status)
	assert.Empty(t, o.Running())
}

type flakyStore struct {
	mu    sync.Mutex
	calls int
	fail  int
	inner storage.Store
}

func (f *flakyStore) Store(ctx context.Context, data []byte, meta storage.Metadata) (storage.Stored, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if n <= f.fail {
		return storage.Stored{}, report.NewError(report.ErrStorageFailed, "transient", nil, nil)
	}
	return f.inner.Store(ctx, data, meta)
}

func (f *flakyStore) Delete(ctx context.Context, fileID string) error {
	if f.inner == nil {
		return nil
	}
	return f.inner.Delete(ctx, fileID)
}

func TestUploadIsRetried(t *testing.T) {
	store := &flakyStore{fail: 1, inner: storage.NewFileStore(afero.NewMemMapFs(), "/", storage.WithFileLogger(report.NopLogger{}))}
	o := New(source.Static{Rows: 1}, export.NewEngine(export.WithLogger(report.NopLogger{})), store,
		WithLogger(report.NopLogger{}),
		WithUploadRetry(2, runner.NoDelayStrategy{}),
	)

	res, err := o.Execute(context.Background(), salesRequest("u1"))
	require.NoError(t, err)
	assert.Equal(t, status.Completed, res.Status)
	assert.Equal(t, 2, store.calls)
}

func TestUploadFailureAfterRetries(t *testing.T) {
	store := &flakyStore{fail: 10}
	o := New(source.Static{Rows: 1}, export.NewEngine(export.WithLogger(report.NopLogger{})), store,
		WithLogger(report.NopLogger{}),
		WithUploadRetry(1, runner.NoDelayStrategy{}),
	)

	res, err := o.Execute(context.Background(), salesRequest("u1"))
	require.Error(t, err)
	assert.True(t, report.HasCode(err, report.ErrCodeStorageFailed))
	assert.Equal(t, status.Failed, res.Status)
	assert.Equal(t, 2, store.calls)
}

func TestExportSubFlow(t *testing.T) {
	o, _ := newOrchestrator(t, source.Static{Rows: 4})

	rep, err := o.ExecuteReport(context.Background(), salesRequest("u1"))
	require.NoError(t, err)
	require.Equal(t, status.Completed, rep.Status())

	res, err := o.Export(context.Background(), rep, report.FormatJSON, report.Options{Compress: true})
	require.NoError(t, err)
	assert.Equal(t, status.Exported, res.Status)
	assert.Equal(t, report.FormatJSON, res.Metadata.ExportFormat)
	assert.True(t, strings.HasSuffix(res.URL, ".json.gz"))

	_, err = o.Export(context.Background(), rep, report.FormatCSV, report.Options{})
	assert.Equal(t, report.ErrCodeInvalidTransition, report.ErrorCode(err))
}

func TestExportRejectsUnsupportedOptionBeforeWork(t *testing.T) {
	o, _ := newOrchestrator(t, source.Static{Rows: 1})
	rep, err := o.ExecuteReport(context.Background(), salesRequest("u1"))
	require.NoError(t, err)

	_, err = o.Export(context.Background(), rep, report.FormatHTML, report.Options{Encrypt: true, Password: "pw"})
	assert.Equal(t, report.ErrCodeUnsupportedOption, report.ErrorCode(err))
	assert.Equal(t, status.Completed, rep.Status())
}

func TestExecutePublishesLifecycleEvents(t *testing.T) {
	d := dispatcher.NewDispatcher(dispatcher.WithLogger(report.NopLogger{}))
	var (
		started  []dispatcher.ReportStarted
		finished []dispatcher.ReportFinished
	)
	dispatcher.Subscribe(d, func(_ context.Context, evt dispatcher.ReportStarted) error {
		started = append(started, evt)
		return nil
	})
	dispatcher.Subscribe(d, func(_ context.Context, evt dispatcher.ReportFinished) error {
		finished = append(finished, evt)
		return nil
	})

	o, _ := newOrchestrator(t, source.Static{Rows: 1}, WithDispatcher(d))
	res, err := o.Execute(context.Background(), salesRequest("u1"))
	require.NoError(t, err)

	require.Len(t, started, 1)
	assert.Equal(t, res.ID, started[0].ReportID)
	assert.Equal(t, report.TypeSales, started[0].ReportType)
	assert.Equal(t, "u1", started[0].UserID)
	require.Len(t, finished, 1)
	assert.Equal(t, status.Completed, finished[0].Result.Status)
	assert.NoError(t, finished[0].Err)

	_, err = o.Execute(context.Background(), report.Request{Type: report.TypeSales, Format: report.FormatCSV})
	require.Error(t, err)
	assert.Len(t, started, 1, "rejected requests are not published")
}

func TestSubscriberFailureDoesNotFailReport(t *testing.T) {
	d := dispatcher.NewDispatcher(dispatcher.WithLogger(report.NopLogger{}))
	dispatcher.Subscribe(d, func(context.Context, dispatcher.ReportFinished) error {
		return errors.New("listener down")
	})

	o, _ := newOrchestrator(t, source.Static{Rows: 1}, WithDispatcher(d))
	res, err := o.Execute(context.Background(), salesRequest("u1"))
	require.NoError(t, err)
	assert.Equal(t, status.Completed, res.Status)
}

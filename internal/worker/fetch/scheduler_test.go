package fetch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/newsdesk/internal/ingest"
	"github.com/hitoshi/newsdesk/internal/model"
)

// --- モック定義 ---

// mockMappingRepo はMappingRepositoryのテスト用モック。
type mockMappingRepo struct {
	listActiveFunc func(ctx context.Context) ([]*model.SourceMapping, error)

	mu        sync.Mutex
	telemetry []telemetryRecord
}

type telemetryRecord struct {
	mappingID string
	status    model.RunStatus
	errMsg    string
	itemCount int
}

func (m *mockMappingRepo) FindByID(ctx context.Context, id string) (*model.SourceMapping, error) {
	return nil, nil
}

func (m *mockMappingRepo) ListActive(ctx context.Context) ([]*model.SourceMapping, error) {
	if m.listActiveFunc != nil {
		return m.listActiveFunc(ctx)
	}
	return nil, nil
}

func (m *mockMappingRepo) ListActiveBySource(ctx context.Context, sourceName string) ([]*model.SourceMapping, error) {
	return nil, nil
}

func (m *mockMappingRepo) List(ctx context.Context) ([]*model.SourceMapping, error) {
	return nil, nil
}

func (m *mockMappingRepo) Create(ctx context.Context, mapping *model.SourceMapping) error {
	return nil
}

func (m *mockMappingRepo) Update(ctx context.Context, mapping *model.SourceMapping) error {
	return nil
}

func (m *mockMappingRepo) Delete(ctx context.Context, id string) error { return nil }

func (m *mockMappingRepo) UpdateRunTelemetry(ctx context.Context, id string, at time.Time, status model.RunStatus, errMsg string, itemCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.telemetry = append(m.telemetry, telemetryRecord{id, status, errMsg, itemCount})
	return nil
}

func (m *mockMappingRepo) lastTelemetry() *telemetryRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.telemetry) == 0 {
		return nil
	}
	rec := m.telemetry[len(m.telemetry)-1]
	return &rec
}

// fakeFetcher はFeedFetcherServiceのテスト用モック。
type fakeFetcher struct {
	fetchFunc func(ctx context.Context, mapping *model.SourceMapping) ([]model.RawItem, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, mapping *model.SourceMapping) ([]model.RawItem, error) {
	if f.fetchFunc != nil {
		return f.fetchFunc(ctx, mapping)
	}
	return nil, nil
}

// fakeIngest はIngestServiceのテスト用モック。
// Prepareは全記事を準備済みとして返し、Persistは全件保存扱いにする。
type fakeIngest struct{}

func (f *fakeIngest) Prepare(ctx context.Context, mapping *model.SourceMapping, items []model.RawItem) ([]*model.News, ingest.Result, error) {
	prepared := make([]*model.News, len(items))
	for i := range items {
		prepared[i] = &model.News{SourceName: mapping.SourceName, Title: items[i].Title}
	}
	return prepared, ingest.Result{}, nil
}

func (f *fakeIngest) Persist(ctx context.Context, sourceName string, prepared []*model.News) (int, int, error) {
	return len(prepared), 0, nil
}

// fakeCommands はCommandServiceのテスト用モック。
type fakeCommands struct {
	mu        sync.Mutex
	pending   []*model.BotCommand
	claimErr  error
	completed []string
	failed    map[string]string
}

func (f *fakeCommands) ListPending(ctx context.Context, limit int) ([]*model.BotCommand, error) {
	return f.pending, nil
}

func (f *fakeCommands) Claim(ctx context.Context, id string) error {
	return f.claimErr
}

func (f *fakeCommands) Complete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeCommands) Fail(ctx context.Context, id string, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed == nil {
		f.failed = make(map[string]string)
	}
	f.failed[id] = cause.Error()
	return nil
}

// fakeSweeper はSweepServiceのテスト用モック。
type fakeSweeper struct {
	sliderRuns int32
	purgeRuns  int32
}

func (f *fakeSweeper) SliderRepair(ctx context.Context) (int64, error) {
	atomic.AddInt32(&f.sliderRuns, 1)
	return 0, nil
}

func (f *fakeSweeper) BoilerplatePurge(ctx context.Context) (int64, error) {
	atomic.AddInt32(&f.purgeRuns, 1)
	return 0, nil
}

// nopCollector はMetricsCollectorのテスト用モック。
type nopCollector struct {
	cycleErrors int32
}

func (c *nopCollector) RecordCycleSuccess(sourceName string) {}

func (c *nopCollector) RecordCycleError(sourceName string) {
	atomic.AddInt32(&c.cycleErrors, 1)
}

func (c *nopCollector) RecordIngestResult(ingested, duplicates, qualityRejected, mappingMissing int) {
}

func (c *nopCollector) RecordCommandProcessed(result string) {}

func (c *nopCollector) RecordFetchLatency(duration time.Duration) {}

func newTestScheduler(
	mappingRepo *mockMappingRepo,
	fetcher FeedFetcherService,
	commands CommandService,
	sweeper SweepService,
	collector *nopCollector,
	maxConcurrency int,
) *Scheduler {
	return NewScheduler(
		mappingRepo,
		fetcher,
		&fakeIngest{},
		commands,
		sweeper,
		collector,
		slog.Default(),
		maxConcurrency,
		time.Minute,
		time.Minute,
	)
}

func activeMapping(id, sourceName string) *model.SourceMapping {
	return &model.SourceMapping{
		ID:                   id,
		SourceName:           sourceName,
		TargetCategory:       "gundem",
		FeedURL:              "https://example.com/" + sourceName + "/rss",
		IsActive:             true,
		FetchIntervalMinutes: 15,
	}
}

// --- テスト ---

func TestRunMapping_RecordsSuccessTelemetry(t *testing.T) {
	mappingRepo := &mockMappingRepo{}
	fetcher := &fakeFetcher{
		fetchFunc: func(_ context.Context, _ *model.SourceMapping) ([]model.RawItem, error) {
			return []model.RawItem{
				{Title: "haber 1", Link: "https://example.com/1"},
				{Title: "haber 2", Link: "https://example.com/2"},
			}, nil
		},
	}
	s := newTestScheduler(mappingRepo, fetcher, &fakeCommands{}, &fakeSweeper{}, &nopCollector{}, 4)

	if err := s.runMapping(context.Background(), activeMapping("m-1", "DHA")); err != nil {
		t.Fatalf("runMapping returned error: %v", err)
	}

	rec := mappingRepo.lastTelemetry()
	if rec == nil {
		t.Fatal("テレメトリが記録されていません")
	}
	if rec.status != model.RunStatusOK {
		t.Errorf("status = %s, want OK", rec.status)
	}
	if rec.itemCount != 2 {
		t.Errorf("itemCount = %d, want 2", rec.itemCount)
	}
	if rec.errMsg != "" {
		t.Errorf("errMsg = %q, want empty", rec.errMsg)
	}
}

func TestRunMapping_RecordsErrorTelemetry(t *testing.T) {
	mappingRepo := &mockMappingRepo{}
	fetcher := &fakeFetcher{
		fetchFunc: func(_ context.Context, m *model.SourceMapping) ([]model.RawItem, error) {
			return nil, &model.FetchFailedError{
				SourceName: m.SourceName,
				FeedURL:    m.FeedURL,
				Err:        errors.New("接続タイムアウト"),
			}
		},
	}
	collector := &nopCollector{}
	s := newTestScheduler(mappingRepo, fetcher, &fakeCommands{}, &fakeSweeper{}, collector, 4)

	if err := s.runMapping(context.Background(), activeMapping("m-1", "DHA")); err == nil {
		t.Error("フェッチ失敗がエラーとして返っていません")
	}

	rec := mappingRepo.lastTelemetry()
	if rec == nil {
		t.Fatal("テレメトリが記録されていません")
	}
	if rec.status != model.RunStatusError {
		t.Errorf("status = %s, want ERROR", rec.status)
	}
	if rec.errMsg == "" {
		t.Error("エラーメッセージが記録されていません")
	}
	if atomic.LoadInt32(&collector.cycleErrors) != 1 {
		t.Errorf("cycleErrors = %d, want 1", collector.cycleErrors)
	}
}

func TestRunMapping_MutualExclusionPerSource(t *testing.T) {
	var running, maxRunning int32
	fetcher := &fakeFetcher{
		fetchFunc: func(_ context.Context, _ *model.SourceMapping) ([]model.RawItem, error) {
			cur := atomic.AddInt32(&running, 1)
			for {
				prev := atomic.LoadInt32(&maxRunning)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxRunning, prev, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil, nil
		},
	}
	s := newTestScheduler(&mockMappingRepo{}, fetcher, &fakeCommands{}, &fakeSweeper{}, &nopCollector{}, 8)

	// 同一ソースの定期実行とFORCE_RUNが重なっても多重実行されない
	mapping := activeMapping("m-1", "DHA")
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runMapping(context.Background(), mapping)
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxRunning); got != 1 {
		t.Errorf("同一ソースの最大同時実行数 = %d, want 1", got)
	}
}

func TestRunMapping_SemaphoreCapsGlobalConcurrency(t *testing.T) {
	var running, maxRunning int32
	fetcher := &fakeFetcher{
		fetchFunc: func(_ context.Context, _ *model.SourceMapping) ([]model.RawItem, error) {
			cur := atomic.AddInt32(&running, 1)
			for {
				prev := atomic.LoadInt32(&maxRunning)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxRunning, prev, cur) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil, nil
		},
	}
	s := newTestScheduler(&mockMappingRepo{}, fetcher, &fakeCommands{}, &fakeSweeper{}, &nopCollector{}, 2)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		mapping := activeMapping("m", "source")
		mapping.ID = mapping.ID + string(rune('0'+i))
		mapping.SourceName = mapping.SourceName + string(rune('0'+i))
		wg.Add(1)
		go func(m *model.SourceMapping) {
			defer wg.Done()
			s.runMapping(context.Background(), m)
		}(mapping)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxRunning); got > 2 {
		t.Errorf("最大同時実行数 = %d, want <= 2", got)
	}
}

func TestPollCommands_ForceRunSubsetCompletes(t *testing.T) {
	mappingRepo := &mockMappingRepo{
		listActiveFunc: func(_ context.Context) ([]*model.SourceMapping, error) {
			return []*model.SourceMapping{
				activeMapping("m-1", "DHA"),
				activeMapping("m-2", "AA"),
			}, nil
		},
	}

	var mu sync.Mutex
	var fetched []string
	fetcher := &fakeFetcher{
		fetchFunc: func(_ context.Context, m *model.SourceMapping) ([]model.RawItem, error) {
			mu.Lock()
			fetched = append(fetched, m.SourceName)
			mu.Unlock()
			return nil, nil
		},
	}
	commands := &fakeCommands{
		pending: []*model.BotCommand{
			{ID: "cmd-1", Command: model.CommandForceRun, Argument: "DHA", Status: model.CommandStatusPending},
		},
	}
	s := newTestScheduler(mappingRepo, fetcher, commands, &fakeSweeper{}, &nopCollector{}, 4)

	s.pollCommands(context.Background())

	if len(fetched) != 1 || fetched[0] != "DHA" {
		t.Errorf("fetched = %v, want [DHA]", fetched)
	}
	if len(commands.completed) != 1 || commands.completed[0] != "cmd-1" {
		t.Errorf("completed = %v, want [cmd-1]", commands.completed)
	}
	if len(commands.failed) != 0 {
		t.Errorf("failed = %v, want empty", commands.failed)
	}
}

func TestForceRun_PanicInOneSourceIsContained(t *testing.T) {
	mappingRepo := &mockMappingRepo{
		listActiveFunc: func(_ context.Context) ([]*model.SourceMapping, error) {
			return []*model.SourceMapping{
				activeMapping("m-1", "DHA"),
				activeMapping("m-2", "AA"),
			}, nil
		},
	}

	var mu sync.Mutex
	var fetched []string
	fetcher := &fakeFetcher{
		fetchFunc: func(_ context.Context, m *model.SourceMapping) ([]model.RawItem, error) {
			if m.SourceName == "DHA" {
				panic("フィードパーサの想定外の状態")
			}
			mu.Lock()
			fetched = append(fetched, m.SourceName)
			mu.Unlock()
			return nil, nil
		},
	}
	s := newTestScheduler(mappingRepo, fetcher, &fakeCommands{}, &fakeSweeper{}, &nopCollector{}, 4)

	// panicしたソースはエラーとして集約され、プロセスは落ちない
	err := s.forceRun(context.Background(), nil)
	if err == nil {
		t.Fatal("forceRun should return an error when a source panics")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fetched) != 1 || fetched[0] != "AA" {
		t.Errorf("fetched = %v, want [AA]", fetched)
	}
}

func TestPollCommands_ClaimConflictSkipsExecution(t *testing.T) {
	var fetchCalls int32
	fetcher := &fakeFetcher{
		fetchFunc: func(_ context.Context, _ *model.SourceMapping) ([]model.RawItem, error) {
			atomic.AddInt32(&fetchCalls, 1)
			return nil, nil
		},
	}
	commands := &fakeCommands{
		pending: []*model.BotCommand{
			{ID: "cmd-1", Command: model.CommandForceRun, Status: model.CommandStatusPending},
		},
		claimErr: model.ErrCommandClaimConflict,
	}
	s := newTestScheduler(&mockMappingRepo{}, fetcher, commands, &fakeSweeper{}, &nopCollector{}, 4)

	s.pollCommands(context.Background())

	if atomic.LoadInt32(&fetchCalls) != 0 {
		t.Error("クレーム競合に敗れたコマンドが実行されています")
	}
	if len(commands.completed) != 0 || len(commands.failed) != 0 {
		t.Error("クレームに失敗したコマンドの状態が変更されています")
	}
}

func TestPollCommands_SweepCommands(t *testing.T) {
	sweeper := &fakeSweeper{}
	commands := &fakeCommands{
		pending: []*model.BotCommand{
			{ID: "cmd-1", Command: model.CommandSliderRepair, Status: model.CommandStatusPending},
			{ID: "cmd-2", Command: model.CommandPurgeBoilerplate, Status: model.CommandStatusPending},
		},
	}
	s := newTestScheduler(&mockMappingRepo{}, &fakeFetcher{}, commands, sweeper, &nopCollector{}, 4)

	s.pollCommands(context.Background())

	if atomic.LoadInt32(&sweeper.sliderRuns) != 1 {
		t.Errorf("sliderRuns = %d, want 1", sweeper.sliderRuns)
	}
	if atomic.LoadInt32(&sweeper.purgeRuns) != 1 {
		t.Errorf("purgeRuns = %d, want 1", sweeper.purgeRuns)
	}
	if len(commands.completed) != 2 {
		t.Errorf("completed = %v, want 2件", commands.completed)
	}
}

func TestPollCommands_ForceRunUnknownSourceFails(t *testing.T) {
	mappingRepo := &mockMappingRepo{
		listActiveFunc: func(_ context.Context) ([]*model.SourceMapping, error) {
			return []*model.SourceMapping{activeMapping("m-1", "DHA")}, nil
		},
	}
	commands := &fakeCommands{
		pending: []*model.BotCommand{
			{ID: "cmd-1", Command: model.CommandForceRun, Argument: "BILINMEYEN", Status: model.CommandStatusPending},
		},
	}
	s := newTestScheduler(mappingRepo, &fakeFetcher{}, commands, &fakeSweeper{}, &nopCollector{}, 4)

	s.pollCommands(context.Background())

	if len(commands.failed) != 1 {
		t.Fatalf("failed = %v, want 1件", commands.failed)
	}
	if commands.failed["cmd-1"] == "" {
		t.Error("失敗理由が記録されていません")
	}
}

func TestRunStates_IdleAfterCycle(t *testing.T) {
	s := newTestScheduler(&mockMappingRepo{}, &fakeFetcher{}, &fakeCommands{}, &fakeSweeper{}, &nopCollector{}, 4)

	if err := s.runMapping(context.Background(), activeMapping("m-1", "DHA")); err != nil {
		t.Fatalf("runMapping returned error: %v", err)
	}

	states := s.RunStates()
	if states["DHA"] != RunStateIdle {
		t.Errorf("state = %s, want IDLE", states["DHA"])
	}
}

func TestSyncRunners_StartsAndStopsWithMappingChanges(t *testing.T) {
	var mu sync.Mutex
	mappings := []*model.SourceMapping{activeMapping("m-1", "DHA")}
	mappingRepo := &mockMappingRepo{
		listActiveFunc: func(_ context.Context) ([]*model.SourceMapping, error) {
			mu.Lock()
			defer mu.Unlock()
			return mappings, nil
		},
	}
	s := newTestScheduler(mappingRepo, &fakeFetcher{}, &fakeCommands{}, &fakeSweeper{}, &nopCollector{}, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.syncRunners(ctx)
	s.mu.Lock()
	count := len(s.runners)
	s.mu.Unlock()
	if count != 1 {
		t.Fatalf("runners = %d, want 1", count)
	}

	// マッピングの非アクティブ化は次のリフレッシュでランナーを止める
	mu.Lock()
	mappings = nil
	mu.Unlock()
	s.syncRunners(ctx)

	s.mu.Lock()
	count = len(s.runners)
	s.mu.Unlock()
	if count != 0 {
		t.Errorf("runners = %d, want 0", count)
	}

	cancel()
	s.wg.Wait()
}

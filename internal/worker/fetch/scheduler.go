// Package fetch はニュースソースのバックグラウンド取り込み処理を提供する。
// ソース単位のランナー、フェッチャー、コマンドポーラーを含む。
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/newsdesk/internal/ingest"
	"github.com/hitoshi/newsdesk/internal/metrics"
	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/repository"
)

// FeedFetcherService はフィードフェッチの実行インターフェース。
type FeedFetcherService interface {
	// Fetch はマッピングのフィードをフェッチし、記事をRawItemに正規化して返す。
	Fetch(ctx context.Context, mapping *model.SourceMapping) ([]model.RawItem, error)
}

// IngestService は取り込みパイプラインのインターフェース。
type IngestService interface {
	Prepare(ctx context.Context, mapping *model.SourceMapping, items []model.RawItem) ([]*model.News, ingest.Result, error)
	Persist(ctx context.Context, sourceName string, prepared []*model.News) (int, int, error)
}

// CommandService はコマンドキュー操作のインターフェース。
type CommandService interface {
	ListPending(ctx context.Context, limit int) ([]*model.BotCommand, error)
	Claim(ctx context.Context, id string) error
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, cause error) error
}

// SweepService はコマンド経由で実行される修復スイープのインターフェース。
type SweepService interface {
	SliderRepair(ctx context.Context) (int64, error)
	BoilerplatePurge(ctx context.Context) (int64, error)
}

// RunState はソースランナーの実行状態を表す。診断APIで公開される。
type RunState string

const (
	// RunStateIdle は次のティックを待機している状態。
	RunStateIdle RunState = "IDLE"
	// RunStateFetching はフィードをフェッチしている状態。
	RunStateFetching RunState = "FETCHING"
	// RunStateResolving はカテゴリ解決とフィルタリングを実行している状態。
	RunStateResolving RunState = "RESOLVING"
	// RunStatePersisting は記事を永続化している状態。
	RunStatePersisting RunState = "PERSISTING"
)

// commandBatchSize は1回のポーリングでクレームを試みるコマンド数の上限。
const commandBatchSize = 10

// Scheduler はソース単位の取り込みランナー群とコマンドポーラーを管理する。
// アクティブなマッピングごとに専用のゴルーチンが各自の間隔のティッカーで
// 実行され、ソース単位のミューテックスが同一ソースの多重実行を防ぐ。
// グローバルなsemaphoreが全体の並列フェッチ数を制限する。
type Scheduler struct {
	mappingRepo repository.MappingRepository
	fetcher     FeedFetcherService
	ingestSvc   IngestService
	commands    CommandService
	sweeper     SweepService
	collector   metrics.MetricsCollector
	logger      *slog.Logger

	refreshInterval time.Duration
	pollInterval    time.Duration
	sem             chan struct{}

	mu          sync.Mutex
	runners     map[string]*runner
	states      map[string]RunState
	sourceLocks map[string]*sync.Mutex
	wg          sync.WaitGroup
}

// runner は1つのマッピングを担当する実行単位。
type runner struct {
	mapping *model.SourceMapping
	cancel  context.CancelFunc
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値8を使用する。
func NewScheduler(
	mappingRepo repository.MappingRepository,
	fetcher FeedFetcherService,
	ingestSvc IngestService,
	commands CommandService,
	sweeper SweepService,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxConcurrency int,
	refreshInterval time.Duration,
	pollInterval time.Duration,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 8
	}
	return &Scheduler{
		mappingRepo:     mappingRepo,
		fetcher:         fetcher,
		ingestSvc:       ingestSvc,
		commands:        commands,
		sweeper:         sweeper,
		collector:       collector,
		logger:          logger,
		refreshInterval: refreshInterval,
		pollInterval:    pollInterval,
		sem:             make(chan struct{}, maxConcurrency),
		runners:         make(map[string]*runner),
		states:          make(map[string]RunState),
		sourceLocks:     make(map[string]*sync.Mutex),
	}
}

// Start はスケジューラを起動する。
// マッピング一覧の定期リフレッシュとコマンドポーリングを行い、
// コンテキストがキャンセルされるまで実行を継続する。
// オペレータのマッピングCRUDは次のリフレッシュで再起動なしに反映される。
func (s *Scheduler) Start(ctx context.Context) {
	refreshTicker := time.NewTicker(s.refreshInterval)
	defer refreshTicker.Stop()
	pollTicker := time.NewTicker(s.pollInterval)
	defer pollTicker.Stop()

	s.logger.Info("取り込みスケジューラを開始しました",
		slog.Duration("refresh_interval", s.refreshInterval),
		slog.Duration("poll_interval", s.pollInterval),
		slog.Int("max_concurrency", cap(s.sem)),
	)

	s.syncRunners(ctx)
	s.pollCommands(ctx)

	for {
		select {
		case <-ctx.Done():
			s.stopAllRunners()
			s.wg.Wait()
			s.logger.Info("取り込みスケジューラを停止しました")
			return
		case <-refreshTicker.C:
			s.syncRunners(ctx)
		case <-pollTicker.C:
			s.pollCommands(ctx)
		}
	}
}

// syncRunners はアクティブなマッピング一覧とランナー群を同期する。
// 非アクティブ化・削除されたマッピングのランナーは停止し、設定が
// 変わったマッピングのランナーは新しい設定で再作成する。
func (s *Scheduler) syncRunners(ctx context.Context) {
	mappings, err := s.mappingRepo.ListActive(ctx)
	if err != nil {
		s.logger.Error("アクティブマッピング一覧の取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	active := make(map[string]*model.SourceMapping, len(mappings))
	for _, m := range mappings {
		active[m.ID] = m
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.runners {
		m, ok := active[id]
		if ok && m.FeedURL == r.mapping.FeedURL &&
			m.SourceName == r.mapping.SourceName &&
			m.Interval() == r.mapping.Interval() {
			continue
		}
		r.cancel()
		delete(s.runners, id)
		s.logger.Info("ソースランナーを停止しました",
			slog.String("mapping_id", id),
			slog.String("source_name", r.mapping.SourceName),
		)
	}

	for id, m := range active {
		if _, ok := s.runners[id]; ok {
			continue
		}
		runnerCtx, cancel := context.WithCancel(ctx)
		s.runners[id] = &runner{mapping: m, cancel: cancel}
		s.wg.Add(1)
		go s.runLoop(runnerCtx, m)
		s.logger.Info("ソースランナーを開始しました",
			slog.String("mapping_id", id),
			slog.String("source_name", m.SourceName),
			slog.Duration("interval", m.Interval()),
		)
	}
}

// stopAllRunners は全ランナーをキャンセルする。
func (s *Scheduler) stopAllRunners() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.runners {
		r.cancel()
		delete(s.runners, id)
	}
}

// runLoop はランナー本体をpanic監視付きで実行する。
// ランナーのクラッシュは当該ソースのみを再起動し、他ソースには影響しない。
func (s *Scheduler) runLoop(ctx context.Context, mapping *model.SourceMapping) {
	defer s.wg.Done()
	for {
		if !s.superviseLoop(ctx, mapping) {
			return
		}
		s.logger.Warn("ソースランナーを再起動します",
			slog.String("source_name", mapping.SourceName),
		)
		// 連続panicでの暴走を避ける
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// superviseLoop はティッカーループを実行する。
// panicから回復した場合はtrueを返し、呼び出し側がループを再起動する。
func (s *Scheduler) superviseLoop(ctx context.Context, mapping *model.SourceMapping) (restart bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("ソースランナーがpanicしました",
				slog.String("source_name", mapping.SourceName),
				slog.Any("panic", r),
			)
			restart = true
		}
	}()

	ticker := time.NewTicker(mapping.Interval())
	defer ticker.Stop()

	// 起動直後に1回実行
	s.runMapping(ctx, mapping)

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			s.runMapping(ctx, mapping)
		}
	}
}

// runMapping は1つのマッピングの取り込みサイクルを1回実行する。
// ソース単位のミューテックスで同一ソースの多重実行を防ぎ、semaphoreで
// 全体の並列数を制限する。失敗は当該マッピングのテレメトリに記録される
// のみで、エラーはFORCE_RUNの結果集約のためにのみ返される。
func (s *Scheduler) runMapping(ctx context.Context, mapping *model.SourceMapping) error {
	lock := s.sourceLock(mapping.SourceName)
	lock.Lock()
	defer lock.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	start := time.Now()
	s.setState(mapping.SourceName, RunStateFetching)
	defer s.setState(mapping.SourceName, RunStateIdle)

	items, err := s.fetcher.Fetch(ctx, mapping)
	s.collector.RecordFetchLatency(time.Since(start))
	if err != nil {
		return s.recordCycleError(ctx, mapping, err)
	}

	s.setState(mapping.SourceName, RunStateResolving)
	prepared, result, err := s.ingestSvc.Prepare(ctx, mapping, items)
	if err != nil {
		return s.recordCycleError(ctx, mapping, err)
	}

	s.setState(mapping.SourceName, RunStatePersisting)
	ingested, duplicates, err := s.ingestSvc.Persist(ctx, mapping.SourceName, prepared)
	result.Ingested += ingested
	result.Duplicates += duplicates
	if err != nil {
		return s.recordCycleError(ctx, mapping, err)
	}

	s.collector.RecordIngestResult(
		result.Ingested, result.Duplicates, result.QualityRejected, result.MappingMissing)
	s.collector.RecordCycleSuccess(mapping.SourceName)

	if err := s.mappingRepo.UpdateRunTelemetry(
		ctx, mapping.ID, time.Now(), model.RunStatusOK, "", result.Ingested); err != nil {
		s.logger.Error("実行テレメトリの更新に失敗しました",
			slog.String("mapping_id", mapping.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("取り込みサイクルが完了しました",
		slog.String("source_name", mapping.SourceName),
		slog.Int("ingested", result.Ingested),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("quality_rejected", result.QualityRejected),
		slog.Int("mapping_missing", result.MappingMissing),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// recordCycleError はサイクル失敗をテレメトリとメトリクスに記録する。
func (s *Scheduler) recordCycleError(ctx context.Context, mapping *model.SourceMapping, cause error) error {
	s.collector.RecordCycleError(mapping.SourceName)

	s.logger.Error("取り込みサイクルに失敗しました",
		slog.String("source_name", mapping.SourceName),
		slog.String("feed_url", mapping.FeedURL),
		slog.String("error", cause.Error()),
	)

	if err := s.mappingRepo.UpdateRunTelemetry(
		ctx, mapping.ID, time.Now(), model.RunStatusError, cause.Error(), 0); err != nil {
		s.logger.Error("実行テレメトリの更新に失敗しました",
			slog.String("mapping_id", mapping.ID),
			slog.String("error", err.Error()),
		)
	}
	return cause
}

// pollCommands はPENDINGのコマンドをクレームして実行する。
// クレーム競合に敗れたコマンドは別のワーカーが処理するためスキップする。
func (s *Scheduler) pollCommands(ctx context.Context) {
	cmds, err := s.commands.ListPending(ctx, commandBatchSize)
	if err != nil {
		s.logger.Error("PENDINGコマンドの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, cmd := range cmds {
		if err := s.commands.Claim(ctx, cmd.ID); err != nil {
			if errors.Is(err, model.ErrCommandClaimConflict) {
				continue
			}
			s.logger.Error("コマンドのクレームに失敗しました",
				slog.String("command_id", cmd.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.logger.Info("コマンドをクレームしました",
			slog.String("command_id", cmd.ID),
			slog.String("command", string(cmd.Command)),
			slog.String("argument", cmd.Argument),
		)

		if execErr := s.executeCommand(ctx, cmd); execErr != nil {
			if err := s.commands.Fail(ctx, cmd.ID, execErr); err != nil {
				s.logger.Error("コマンドの失敗記録に失敗しました",
					slog.String("command_id", cmd.ID),
					slog.String("error", err.Error()),
				)
			}
			s.collector.RecordCommandProcessed("failed")
			continue
		}

		if err := s.commands.Complete(ctx, cmd.ID); err != nil {
			s.logger.Error("コマンドの完了記録に失敗しました",
				slog.String("command_id", cmd.ID),
				slog.String("error", err.Error()),
			)
		}
		s.collector.RecordCommandProcessed("completed")
	}
}

// executeCommand はクレーム済みコマンドを種別に応じて実行する。
func (s *Scheduler) executeCommand(ctx context.Context, cmd *model.BotCommand) error {
	switch cmd.Command {
	case model.CommandForceRun:
		return s.forceRun(ctx, cmd.SourceSubset())
	case model.CommandPurgeBoilerplate:
		_, err := s.sweeper.BoilerplatePurge(ctx)
		return err
	case model.CommandSliderRepair:
		_, err := s.sweeper.SliderRepair(ctx)
		return err
	default:
		return fmt.Errorf("未サポートのコマンド種別です: %s", cmd.Command)
	}
}

// forceRun は全アクティブソース（subsetが指定された場合はその部分集合）の
// 即時取り込みを実行する。ソース単位のミューテックスは通常実行と共有され、
// 定期実行との同時進行でも同一ソースが多重実行されることはない。
func (s *Scheduler) forceRun(ctx context.Context, subset []string) error {
	mappings, err := s.mappingRepo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("アクティブマッピング一覧の取得に失敗しました: %w", err)
	}

	if len(subset) > 0 {
		wanted := make(map[string]bool, len(subset))
		for _, name := range subset {
			wanted[name] = true
		}
		filtered := mappings[:0]
		for _, m := range mappings {
			if wanted[m.SourceName] {
				filtered = append(filtered, m)
			}
		}
		mappings = filtered
	}

	if len(mappings) == 0 {
		return fmt.Errorf("対象のアクティブなソースがありません: %v", subset)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(mappings))
	for i, m := range mappings {
		wg.Add(1)
		go func(i int, m *model.SourceMapping) {
			defer wg.Done()
			errs[i] = s.runMappingSupervised(ctx, m)
		}(i, m)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// runMappingSupervised はrunMappingをpanic監視付きで実行する。
// FORCE_RUNの1ソースのpanicはそのソースのエラーとして集約され、
// ワーカープロセスを道連れにしない。
func (s *Scheduler) runMappingSupervised(ctx context.Context, mapping *model.SourceMapping) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("即時取り込みがpanicしました",
				slog.String("source_name", mapping.SourceName),
				slog.Any("panic", r),
			)
			err = fmt.Errorf("ソース %s の即時取り込みがpanicしました: %v", mapping.SourceName, r)
		}
	}()
	return s.runMapping(ctx, mapping)
}

// sourceLock はソース名に対応するミューテックスを返す。
func (s *Scheduler) sourceLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.sourceLocks[name]
	if !ok {
		lock = &sync.Mutex{}
		s.sourceLocks[name] = lock
	}
	return lock
}

// setState はソースの実行状態を更新する。
func (s *Scheduler) setState(sourceName string, state RunState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[sourceName] = state
}

// RunStates は全ソースの現在の実行状態のスナップショットを返す。
// 診断APIから参照される。
func (s *Scheduler) RunStates() map[string]RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make(map[string]RunState, len(s.states))
	for name, state := range s.states {
		snapshot[name] = state
	}
	return snapshot
}

// Package sweep はデータ整合性の修復スイープを提供する。
// 画像を失った記事のスライダー解除、画像必須の見出し枠の整理、
// 定型文に汚染された既存記事の遡及パージを冪等なバッチとして実行する。
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/newsdesk/internal/repository"
)

// Sweeper は修復スイープの実行サービス。
// すべてのスイープは冪等であり、修復対象がない場合は何もしない。
type Sweeper struct {
	newsRepo     repository.NewsRepository
	headlineRepo repository.HeadlineRepository
	settingRepo  repository.SettingRepository
	logger       *slog.Logger
}

// NewSweeper はSweeperの新しいインスタンスを生成する。
func NewSweeper(
	newsRepo repository.NewsRepository,
	headlineRepo repository.HeadlineRepository,
	settingRepo repository.SettingRepository,
	logger *slog.Logger,
) *Sweeper {
	return &Sweeper{
		newsRepo:     newsRepo,
		headlineRepo: headlineRepo,
		settingRepo:  settingRepo,
		logger:       logger,
	}
}

// SliderRepair は画像のない記事のis_sliderを一括で解除する。
// スライダー掲載⇒画像あり、の不変条件を回復する。
func (s *Sweeper) SliderRepair(ctx context.Context) (int64, error) {
	start := time.Now()

	cleared, err := s.newsRepo.ClearOrphanedSliders(ctx)
	if err != nil {
		s.logger.Error("スライダー修復スイープの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("スライダー修復の実行に失敗: %w", err)
	}

	s.logger.Info("スライダー修復スイープが完了しました",
		slog.Int64("cleared_count", cleared),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return cleared, nil
}

// HeadlineRepair は画像必須の見出し枠に割り当てられたまま画像を失った
// 記事の割り当てを解除する。
func (s *Sweeper) HeadlineRepair(ctx context.Context) (int64, error) {
	start := time.Now()

	removed, err := s.headlineRepo.DeleteImageRequiredWithoutImage(ctx)
	if err != nil {
		s.logger.Error("見出し枠修復スイープの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("見出し枠修復の実行に失敗: %w", err)
	}

	s.logger.Info("見出し枠修復スイープが完了しました",
		slog.Int64("removed_count", removed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return removed, nil
}

// BoilerplatePurge は各ソースの定型文パターンに合致する既存記事を
// 遡及的に削除する。品質フィルタ導入前に取り込まれた汚染記事の
// 一掃用で、ソース別の削除件数をログに記録する。
func (s *Sweeper) BoilerplatePurge(ctx context.Context) (int64, error) {
	start := time.Now()

	settings, err := s.settingRepo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("ソース設定一覧の取得に失敗: %w", err)
	}

	var total int64
	for _, setting := range settings {
		if len(setting.BoilerplatePatterns) == 0 {
			continue
		}

		var sourceTotal int64
		for _, pattern := range setting.BoilerplatePatterns {
			if pattern == "" {
				continue
			}
			deleted, err := s.newsRepo.DeleteByBoilerplate(ctx, setting.SourceName, pattern)
			if err != nil {
				s.logger.Error("定型文パージの実行に失敗しました",
					slog.String("source_name", setting.SourceName),
					slog.String("pattern", pattern),
					slog.String("error", err.Error()),
				)
				return total, fmt.Errorf("定型文パージの実行に失敗: %w", err)
			}
			sourceTotal += deleted
		}

		s.logger.Info("ソースの定型文パージが完了しました",
			slog.String("source_name", setting.SourceName),
			slog.Int64("deleted_count", sourceTotal),
		)
		total += sourceTotal
	}

	s.logger.Info("定型文パージスイープが完了しました",
		slog.Int64("deleted_count", total),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return total, nil
}

// RunAll は全スイープを順に実行する。定期実行ループから呼ばれる。
// 途中で失敗しても実行済みスイープの結果は保持される。
func (s *Sweeper) RunAll(ctx context.Context) error {
	if _, err := s.SliderRepair(ctx); err != nil {
		return err
	}
	if _, err := s.HeadlineRepair(ctx); err != nil {
		return err
	}
	if _, err := s.BoilerplatePurge(ctx); err != nil {
		return err
	}
	return nil
}

// Start は指定間隔でRunAllを繰り返す定期実行ループを開始する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("修復スイープループを開始しました",
		slog.Duration("interval", interval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("修復スイープループを停止しました")
			return
		case <-ticker.C:
			if err := s.RunAll(ctx); err != nil {
				s.logger.Error("修復スイープの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

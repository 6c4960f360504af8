// Package curation は記事の公開・スライダー・見出し枠の管理を提供する。
// 公開ポリシーの適用と、スライダー・主見出し枠の「画像必須」不変条件の
// 維持に責任を持つ。
package curation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/repository"
)

// Engine は公開・キュレーション操作のサービス。
type Engine struct {
	newsRepo     repository.NewsRepository
	headlineRepo repository.HeadlineRepository
	settingRepo  repository.SettingRepository
}

// NewEngine はEngineの新しいインスタンスを生成する。
func NewEngine(
	newsRepo repository.NewsRepository,
	headlineRepo repository.HeadlineRepository,
	settingRepo repository.SettingRepository,
) *Engine {
	return &Engine{
		newsRepo:     newsRepo,
		headlineRepo: headlineRepo,
		settingRepo:  settingRepo,
	}
}

// OnIngested は取り込み直後の記事に公開ポリシーを適用する。
// ソース設定のauto_publishがtrueの場合のみ即時公開する。
// published_atがcreated_atより前になることはない。
// 記事の永続化は呼び出し側（取り込みサービス）が行う。
func (e *Engine) OnIngested(ctx context.Context, n *model.News) error {
	setting, err := e.settingRepo.FindBySource(ctx, n.SourceName)
	if err != nil {
		return fmt.Errorf("ソース設定の取得に失敗しました: %w", err)
	}
	if setting == nil || !setting.AutoPublish {
		return nil
	}

	n.IsPublished = true
	n.PublishedAt = publishTime(n.CreatedAt)
	return nil
}

// publishTime は公開時刻を返す。created_atより前にはならない。
func publishTime(createdAt time.Time) *time.Time {
	now := time.Now()
	if now.Before(createdAt) {
		now = createdAt
	}
	return &now
}

// Publish は記事を手動で公開する。レビュー担当者の操作用。
// 既に公開済みの場合はpublished_atを変更しない。
func (e *Engine) Publish(ctx context.Context, id string) (*model.News, error) {
	news, err := e.findNews(ctx, id)
	if err != nil {
		return nil, err
	}

	if !news.IsPublished {
		news.IsPublished = true
		news.PublishedAt = publishTime(news.CreatedAt)
	}
	news.UpdatedAt = time.Now()

	if err := e.newsRepo.Update(ctx, news); err != nil {
		return nil, fmt.Errorf("記事の公開に失敗しました: %w", err)
	}
	return news, nil
}

// Unpublish は記事を非公開に戻す。published_atは履歴として保持される。
func (e *Engine) Unpublish(ctx context.Context, id string) (*model.News, error) {
	news, err := e.findNews(ctx, id)
	if err != nil {
		return nil, err
	}

	news.IsPublished = false
	news.UpdatedAt = time.Now()

	if err := e.newsRepo.Update(ctx, news); err != nil {
		return nil, fmt.Errorf("記事の非公開化に失敗しました: %w", err)
	}
	return news, nil
}

// SetImage は記事の画像URLを更新し、スライダー状態を再計算する。
// 画像を外した場合はis_sliderが強制的に解除され、画像必須の見出し枠
// からも除外される。
func (e *Engine) SetImage(ctx context.Context, id, imageURL string) (*model.News, error) {
	news, err := e.findNews(ctx, id)
	if err != nil {
		return nil, err
	}

	news.ImageURL = imageURL
	news.UpdatedAt = time.Now()
	if !news.HasImage() && news.IsSlider {
		news.IsSlider = false
		slog.Info("画像削除に伴いスライダー掲載を解除",
			"news_id", news.ID,
			"source_name", news.SourceName,
		)
	}

	if err := e.newsRepo.Update(ctx, news); err != nil {
		return nil, fmt.Errorf("記事画像の更新に失敗しました: %w", err)
	}

	if !news.HasImage() {
		// 画像を失った記事が画像必須枠に残らないようにする
		removed, err := e.headlineRepo.DeleteImageRequiredWithoutImage(ctx)
		if err != nil {
			return nil, fmt.Errorf("見出し枠の整合修復に失敗しました: %w", err)
		}
		if removed > 0 {
			slog.Info("画像必須の見出し枠から記事を除外",
				"news_id", news.ID,
				"removed", removed,
			)
		}
	}

	return news, nil
}

// MarkSlider は記事をスライダーに掲載する。画像のない記事は拒否される。
func (e *Engine) MarkSlider(ctx context.Context, id string) (*model.News, error) {
	news, err := e.findNews(ctx, id)
	if err != nil {
		return nil, err
	}

	if !news.HasImage() {
		return nil, fmt.Errorf("記事 %s: %w", id, model.ErrImageRequired)
	}

	news.IsSlider = true
	news.UpdatedAt = time.Now()

	if err := e.newsRepo.Update(ctx, news); err != nil {
		return nil, fmt.Errorf("スライダー掲載に失敗しました: %w", err)
	}
	return news, nil
}

// UnmarkSlider は記事のスライダー掲載を解除する。
func (e *Engine) UnmarkSlider(ctx context.Context, id string) (*model.News, error) {
	news, err := e.findNews(ctx, id)
	if err != nil {
		return nil, err
	}

	news.IsSlider = false
	news.UpdatedAt = time.Now()

	if err := e.newsRepo.Update(ctx, news); err != nil {
		return nil, fmt.Errorf("スライダー掲載の解除に失敗しました: %w", err)
	}
	return news, nil
}

// AssignHeadline は記事を見出し枠の指定ランクへ割り当てる。
// 画像必須の枠種別には画像のある記事のみ割り当てられる。
// 同一 (slot_type, rank) の既存の占有者は置き換えられ、その場合
// 返される枠のIDは置き換え先の既存行のIDとなる。
func (e *Engine) AssignHeadline(
	ctx context.Context,
	slotType model.SlotType,
	rank int,
	newsID string,
) (*model.HeadlineSlot, error) {
	if !slotType.IsValid() || rank < 1 {
		return nil, fmt.Errorf("slot_type=%s rank=%d: %w", slotType, rank, model.ErrInvalidSlot)
	}

	news, err := e.findNews(ctx, newsID)
	if err != nil {
		return nil, err
	}
	if slotType.RequiresImage() && !news.HasImage() {
		return nil, fmt.Errorf("記事 %s を%s枠に割り当てられません: %w",
			newsID, slotType, model.ErrImageRequired)
	}

	slot := &model.HeadlineSlot{
		ID:        uuid.New().String(),
		SlotType:  slotType,
		Rank:      rank,
		NewsID:    newsID,
		CreatedAt: time.Now(),
	}
	if err := e.headlineRepo.Assign(ctx, slot); err != nil {
		return nil, fmt.Errorf("見出し枠の割り当てに失敗しました: %w", err)
	}

	slog.Info("見出し枠を割り当て",
		"slot_type", string(slotType),
		"rank", rank,
		"news_id", newsID,
	)
	return slot, nil
}

// RemoveHeadline は指定IDの見出し枠を解除する。
func (e *Engine) RemoveHeadline(ctx context.Context, id string) error {
	if err := e.headlineRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("見出し枠の解除に失敗しました: %w", err)
	}
	return nil
}

// ListHeadlines は全見出し枠を記事情報付きで返す。
func (e *Engine) ListHeadlines(ctx context.Context) ([]model.HeadlineWithNews, error) {
	slots, err := e.headlineRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("見出し枠一覧の取得に失敗しました: %w", err)
	}
	return slots, nil
}

// MarkRecentSliderEligible は指定ソースの直近記事のうち、公開済みかつ
// 画像のあるものを一括でスライダーに掲載する。冪等な一括操作であり、
// オペレータが明示的に実行する。
func (e *Engine) MarkRecentSliderEligible(
	ctx context.Context,
	sourceName string,
	since time.Time,
) (int64, error) {
	marked, err := e.newsRepo.MarkSliderBySource(ctx, sourceName, since)
	if err != nil {
		return 0, fmt.Errorf("スライダー一括掲載に失敗しました: %w", err)
	}

	slog.Info("スライダー一括掲載完了",
		"source_name", sourceName,
		"since", since,
		"marked", marked,
	)
	return marked, nil
}

// ResetAutoPublish は全ソースのauto_publishを一括で無効化する。
// 誤取り込みの拡散を止める緊急停止用の操作で、無効化した設定数を返す。
// 各ソースの定型文パターンはそのまま維持される。
func (e *Engine) ResetAutoPublish(ctx context.Context) (int, error) {
	settings, err := e.settingRepo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("ソース設定一覧の取得に失敗しました: %w", err)
	}

	reset := 0
	for _, s := range settings {
		if !s.AutoPublish {
			continue
		}
		s.AutoPublish = false
		s.UpdatedAt = time.Now()
		if err := e.settingRepo.Upsert(ctx, s); err != nil {
			return reset, fmt.Errorf("ソース %s の自動公開の無効化に失敗しました: %w", s.SourceName, err)
		}
		reset++
	}

	slog.Info("自動公開の一括無効化完了", "reset", reset)
	return reset, nil
}

// findNews は記事を取得し、存在しない場合はmodel.ErrNewsNotFoundを返す。
func (e *Engine) findNews(ctx context.Context, id string) (*model.News, error) {
	news, err := e.newsRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	if news == nil {
		return nil, fmt.Errorf("記事 %s: %w", id, model.ErrNewsNotFound)
	}
	return news, nil
}

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/repository"
	"github.com/hitoshi/newsdesk/internal/security"
)

// CategoryResolver はソース側カテゴリから内部カテゴリへの解決インターフェース。
// category.Resolverを抽象化してテスタビリティを向上させる。
type CategoryResolver interface {
	Resolve(ctx context.Context, sourceName, nativeCategory string) (string, error)
}

// QualityChecker は記事の品質チェックのインターフェース。
type QualityChecker interface {
	Check(ctx context.Context, sourceName string, raw *model.RawItem) error
}

// PublicationPolicy は取り込み直後の記事に公開ポリシーを適用する
// インターフェース。curation.Engineを抽象化する。
type PublicationPolicy interface {
	OnIngested(ctx context.Context, n *model.News) error
}

// Service はフィード記事の取り込みパイプラインを提供する。
// 1記事の失敗（重複・品質・マッピング欠落）は残りの記事の処理を止めない。
type Service struct {
	newsRepo  repository.NewsRepository
	resolver  CategoryResolver
	quality   QualityChecker
	policy    PublicationPolicy
	sanitizer security.ContentSanitizerService
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	newsRepo repository.NewsRepository,
	resolver CategoryResolver,
	quality QualityChecker,
	policy PublicationPolicy,
	sanitizer security.ContentSanitizerService,
) *Service {
	return &Service{
		newsRepo:  newsRepo,
		resolver:  resolver,
		quality:   quality,
		policy:    policy,
		sanitizer: sanitizer,
	}
}

// Result は1回の取り込み実行の集計結果。
type Result struct {
	Ingested        int
	Duplicates      int
	QualityRejected int
	MappingMissing  int
}

// Total は処理した記事の総数を返す。
func (r Result) Total() int {
	return r.Ingested + r.Duplicates + r.QualityRejected + r.MappingMissing
}

// Prepare はフェッチ済みの記事を永続化直前の状態まで処理する。
// 各記事は 重複排除の事前チェック → 品質チェック → カテゴリ解決 →
// サニタイズ → 公開ポリシー適用 の順で処理され、拒否された記事は
// 種別ごとに集計される。DBエラーなどパイプライン自体の障害のみが
// エラーとして返る。
func (s *Service) Prepare(
	ctx context.Context,
	mapping *model.SourceMapping,
	items []model.RawItem,
) ([]*model.News, Result, error) {
	var result Result
	var prepared []*model.News

	for i := range items {
		raw := &items[i]

		if raw.Link == "" || raw.Title == "" {
			slog.Warn("タイトルまたはURLのない記事をスキップ",
				"source_name", mapping.SourceName,
				"title", raw.Title,
			)
			result.QualityRejected++
			continue
		}

		// 重複排除の事前チェック。INSERTとの競合は一意制約で吸収される
		exists, err := s.newsRepo.ExistsByOriginalURL(ctx, mapping.SourceName, raw.Link)
		if err != nil {
			return nil, result, fmt.Errorf("重複チェックに失敗しました: %w", err)
		}
		if exists {
			result.Duplicates++
			continue
		}

		if err := s.quality.Check(ctx, mapping.SourceName, raw); err != nil {
			if errors.Is(err, model.ErrQualityRejected) {
				slog.Info("品質チェックで記事を拒否",
					"source_name", mapping.SourceName,
					"link", raw.Link,
					"reason", err.Error(),
				)
				result.QualityRejected++
				continue
			}
			return nil, result, err
		}

		category, err := s.resolver.Resolve(ctx, mapping.SourceName, raw.NativeCategory)
		if err != nil {
			if errors.Is(err, model.ErrMappingMissing) {
				slog.Warn("カテゴリ未解決のため記事を拒否",
					"source_name", mapping.SourceName,
					"native_category", raw.NativeCategory,
					"link", raw.Link,
				)
				result.MappingMissing++
				continue
			}
			return nil, result, err
		}

		news, err := s.buildNews(ctx, mapping.SourceName, category, raw)
		if err != nil {
			return nil, result, err
		}
		prepared = append(prepared, news)
	}

	return prepared, result, nil
}

// Persist は準備済みの記事を永続化する。
// 事前チェック後に別ワーカーが挿入した記事は重複として集計される。
// 戻り値は保存数、重複数、エラー。
func (s *Service) Persist(
	ctx context.Context,
	sourceName string,
	prepared []*model.News,
) (ingested int, duplicates int, err error) {
	for _, news := range prepared {
		if err := s.newsRepo.Create(ctx, news); err != nil {
			if errors.Is(err, model.ErrDuplicateItem) {
				duplicates++
				continue
			}
			return ingested, duplicates, fmt.Errorf("記事の保存に失敗しました: %w", err)
		}
		ingested++
	}
	return ingested, duplicates, nil
}

// IngestItems はPrepareとPersistをまとめて実行する。
// 管理APIやテストからの単発取り込み用。
func (s *Service) IngestItems(
	ctx context.Context,
	mapping *model.SourceMapping,
	items []model.RawItem,
) (Result, error) {
	prepared, result, err := s.Prepare(ctx, mapping, items)
	if err != nil {
		return result, err
	}

	ingested, duplicates, err := s.Persist(ctx, mapping.SourceName, prepared)
	result.Ingested += ingested
	result.Duplicates += duplicates
	if err != nil {
		return result, err
	}

	slog.Info("記事取り込み完了",
		"source_name", mapping.SourceName,
		"ingested", result.Ingested,
		"duplicates", result.Duplicates,
		"quality_rejected", result.QualityRejected,
		"mapping_missing", result.MappingMissing,
	)

	return result, nil
}

// buildNews はRawItemからサニタイズ・公開ポリシー適用済みのNewsを構築する。
func (s *Service) buildNews(
	ctx context.Context,
	sourceName, category string,
	raw *model.RawItem,
) (*model.News, error) {
	now := time.Now()

	news := &model.News{
		ID:          uuid.New().String(),
		SourceName:  sourceName,
		Category:    category,
		Title:       raw.Title,
		Summary:     s.sanitizer.Sanitize(raw.Summary),
		Content:     s.sanitizer.Sanitize(raw.Content),
		OriginalURL: raw.Link,
		ImageURL:    raw.ImageURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.policy.OnIngested(ctx, news); err != nil {
		return nil, fmt.Errorf("公開ポリシーの適用に失敗しました: %w", err)
	}

	return news, nil
}

// Package repository はデータ永続化のインターフェースを定義する。
// スケジューラとキュレーションエンジンはここで定義されたインターフェースにのみ
// 依存し、ストレージバックエンドの差し替えを可能にする。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/newsdesk/internal/model"
)

// MappingRepository はソースマッピングの永続化インターフェース。
type MappingRepository interface {
	// FindByID は指定IDのマッピングを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.SourceMapping, error)

	// ListActive はアクティブなマッピングをsource_name, source_category順で返す。
	// 非アクティブなマッピングはスケジューラから完全にスキップされる。
	ListActive(ctx context.Context) ([]*model.SourceMapping, error)

	// ListActiveBySource は指定ソースのアクティブなマッピング一覧を返す。
	// カテゴリ解決で使用される。
	ListActiveBySource(ctx context.Context, sourceName string) ([]*model.SourceMapping, error)

	// List は全マッピングを返す。オペレータ画面用。
	List(ctx context.Context) ([]*model.SourceMapping, error)

	// Create はマッピングを作成する。
	Create(ctx context.Context, m *model.SourceMapping) error

	// Update はマッピングの設定項目を更新する。テレメトリは更新しない。
	Update(ctx context.Context, m *model.SourceMapping) error

	// Delete は指定IDのマッピングを削除する。
	Delete(ctx context.Context, id string) error

	// UpdateRunTelemetry は1回のフェッチサイクル結果をマッピングに記録する。
	// last_scraped_at, last_status, last_error, last_item_countを更新する。
	// 「なぜソースXが動いていないのか」を調べるオペレータ向けの診断面となる。
	UpdateRunTelemetry(ctx context.Context, id string, at time.Time, status model.RunStatus, errMsg string, itemCount int) error
}

// SettingRepository はソース単位のボット設定の永続化インターフェース。
type SettingRepository interface {
	// FindBySource は指定ソースの設定を取得する。見つからない場合はnilを返す。
	FindBySource(ctx context.Context, sourceName string) (*model.BotSetting, error)

	// List は全設定を返す。
	List(ctx context.Context) ([]*model.BotSetting, error)

	// Upsert はソース設定を冪等にUPSERTする。
	Upsert(ctx context.Context, s *model.BotSetting) error
}

// NewsRepository はニュース記事の永続化インターフェース。
type NewsRepository interface {
	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.News, error)

	// ExistsByOriginalURL は (source_name, original_url) の記事が既に
	// 存在するかを返す。重複排除の事前チェックに使用される。
	ExistsByOriginalURL(ctx context.Context, sourceName, originalURL string) (bool, error)

	// Create は新規記事を作成する。
	// (source_name, original_url) の一意制約違反はmodel.ErrDuplicateItemとして返す。
	// 事前チェックとINSERTの間の競合はこの制約で吸収される。
	Create(ctx context.Context, n *model.News) error

	// Update は記事を上書き更新する。
	Update(ctx context.Context, n *model.News) error

	// List はフィルタ条件に合致する記事をpublished_at, created_at降順で返す。
	List(ctx context.Context, filter model.NewsFilter) ([]*model.News, error)

	// Delete は指定IDの記事を削除する。
	// 依存する見出し枠はCASCADE削除される。
	Delete(ctx context.Context, id string) error

	// ClearOrphanedSliders は画像を持たない記事のis_sliderを一括で落とす。
	// 冪等な修復スイープであり、影響行数を返す。
	ClearOrphanedSliders(ctx context.Context) (int64, error)

	// MarkSliderBySource は指定ソース・指定期間の公開済み・画像付き記事に
	// is_sliderを一括設定する。冪等であり、影響行数を返す。
	MarkSliderBySource(ctx context.Context, sourceName string, since time.Time) (int64, error)

	// DeleteByBoilerplate は本文または要約に指定パターンを含む指定ソースの
	// 記事を削除する。遡及パージ用で、影響行数を返す。
	DeleteByBoilerplate(ctx context.Context, sourceName, pattern string) (int64, error)
}

// HeadlineRepository は見出し枠の永続化インターフェース。
type HeadlineRepository interface {
	// List は全見出し枠を記事情報付きでslot_type, rank順に返す。
	List(ctx context.Context) ([]model.HeadlineWithNews, error)

	// FindByID は指定IDの見出し枠を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.HeadlineSlot, error)

	// Assign は指定ランクへ記事を割り当てる。
	// 同一 (slot_type, rank) の既存占有者は置き換えられ、重複は作られない。
	// 置き換えの場合は既存行のIDが残るため、確定した行IDをslot.IDへ書き戻す。
	Assign(ctx context.Context, slot *model.HeadlineSlot) error

	// Delete は指定IDの見出し枠を削除する。
	// 見つからない場合はmodel.ErrHeadlineNotFoundを返す。
	Delete(ctx context.Context, id string) error

	// DeleteByNewsID は指定記事の全見出し枠を削除する。
	DeleteByNewsID(ctx context.Context, newsID string) error

	// DeleteImageRequiredWithoutImage は画像必須の枠種別に割り当てられた
	// まま記事の画像が失われた行を削除する。修復スイープ用で、影響行数を返す。
	DeleteImageRequiredWithoutImage(ctx context.Context) (int64, error)
}

// CommandRepository はコマンドキューの永続化インターフェース。
type CommandRepository interface {
	// FindByID は指定IDのコマンドを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.BotCommand, error)

	// Create はPENDING状態のコマンドを作成する。
	Create(ctx context.Context, c *model.BotCommand) error

	// ListPending はPENDINGのコマンドを作成順で返す。
	ListPending(ctx context.Context, limit int) ([]*model.BotCommand, error)

	// ListByStatus は指定状態のコマンドを作成順で返す。
	ListByStatus(ctx context.Context, status model.CommandStatus, limit int) ([]*model.BotCommand, error)

	// Claim はPENDING→PROCESSINGの条件付き更新でコマンドをクレームする。
	// 既に別ワーカーがクレームしていた場合はmodel.ErrCommandClaimConflictを返す。
	// 複数スケジューラインスタンスの二重実行はこの楽観的更新で防がれる。
	Claim(ctx context.Context, id string, at time.Time) error

	// Finish はPROCESSINGのコマンドを終端状態へ遷移させる。
	Finish(ctx context.Context, id string, status model.CommandStatus, errMsg string) error

	// ListStuck はPROCESSINGのままolderThanより古くから滞留している
	// コマンドを返す。運用異常の診断面であり、自動解決はしない。
	ListStuck(ctx context.Context, olderThan time.Time) ([]*model.BotCommand, error)

	// ForceResolve は滞留コマンドを手動で終端状態へ遷移させる。
	// オペレータの明示的な復旧操作専用で、PROCESSING以外の行には適用されない。
	ForceResolve(ctx context.Context, id string, status model.CommandStatus) error
}

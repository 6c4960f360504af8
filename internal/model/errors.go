// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 取り込みパイプラインのエラー分類。
// ソース単位のエラーはスケジューラのプロセスを停止させない。
var (
	// ErrMappingMissing はソースにアクティブなマッピングが存在しないことを表す。
	// 該当アイテムは既定カテゴリへ黙ってフォールバックせず、拒否される。
	ErrMappingMissing = errors.New("アクティブなマッピングが存在しません")

	// ErrDuplicateItem は同一ソース・同一original_urlの記事が既に存在することを表す。
	// 再取り込み時の期待される結果であり、カウントの上でスキップされる。
	ErrDuplicateItem = errors.New("記事は既に登録されています")

	// ErrQualityRejected は本文が定型文に支配されており品質フィルタで
	// 拒否されたことを表す。カウント・ログの上でスキップされる。
	ErrQualityRejected = errors.New("品質フィルタにより拒否されました")

	// ErrCommandClaimConflict は楽観的クレームの競合に敗れたことを表す。
	// 別のワーカーが処理を継続するため、敗者側は何もしない。
	ErrCommandClaimConflict = errors.New("コマンドは別のワーカーにクレームされています")

	// ErrStuckCommand はPROCESSINGのままタイムアウトを超過したコマンドへの
	// 不正な操作を表す。明示的な手動遷移でのみ解決される。
	ErrStuckCommand = errors.New("コマンドがPROCESSINGのまま滞留しています")

	// ErrImageRequired は画像必須の操作（スライダー掲載、主見出し枠への
	// 割り当て）を画像なし記事に適用しようとしたことを表す。
	ErrImageRequired = errors.New("この操作には画像付きの記事が必要です")

	// ErrInvalidSlot は未サポートの枠種別または不正なランクの指定を表す。
	ErrInvalidSlot = errors.New("無効な見出し枠の指定です")

	// ErrNewsNotFound は指定された記事が存在しないことを表す。
	ErrNewsNotFound = errors.New("記事が見つかりません")

	// ErrMappingNotFound は指定されたマッピングが存在しないことを表す。
	ErrMappingNotFound = errors.New("マッピングが見つかりません")

	// ErrMappingConflict は同一ソース・同一フィードURLのアクティブな
	// マッピングが既に存在することを表す。
	ErrMappingConflict = errors.New("同一ソース・フィードURLのアクティブなマッピングが既に存在します")

	// ErrHeadlineNotFound は指定された見出し枠が存在しないことを表す。
	ErrHeadlineNotFound = errors.New("見出し枠が見つかりません")

	// ErrCommandNotFound は指定されたコマンドが存在しないことを表す。
	ErrCommandNotFound = errors.New("コマンドが見つかりません")
)

// FetchFailedError はフィードのフェッチまたはパースの失敗を表す。
// 当該ソースのテレメトリがERRORになるのみで、他ソースの実行には影響しない。
type FetchFailedError struct {
	SourceName string
	FeedURL    string
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("フィードのフェッチに失敗しました (source=%s url=%s): %v", e.SourceName, e.FeedURL, e.Err)
}

// Unwrap は原因エラーを返す。
func (e *FetchFailedError) Unwrap() error {
	return e.Err
}

// Package model はドメインモデルを定義する。
package model

import "time"

// SourceMapping は外部ソースのフィードと内部カテゴリの対応付けを表す。
// 1行が1つのフィードURLと1つのネイティブカテゴリの組み合わせに対応し、
// スケジューラのポーリング対象とカテゴリ解決の両方を駆動する。
// source_categoryが空文字列の行はそのソースのデフォルト（フォールバック）マッピングを表す。
type SourceMapping struct {
	ID                   string
	SourceName           string
	SourceCategory       string // ソース側のネイティブカテゴリ。空文字列はデフォルトマッピング
	TargetCategory       string // 内部カテゴリスラッグ（例: "spor", "gundem"）
	FeedURL              string
	IsActive             bool
	FetchIntervalMinutes int
	LastScrapedAt        *time.Time
	LastStatus           RunStatus
	LastError            string
	LastItemCount        int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// RunStatus はマッピングの直近実行結果を表す。
type RunStatus string

const (
	// RunStatusNone は一度も実行されていない状態。
	RunStatusNone RunStatus = ""
	// RunStatusOK は直近のフェッチサイクルが成功した状態。
	RunStatusOK RunStatus = "OK"
	// RunStatusError は直近のフェッチサイクルが失敗した状態。
	RunStatusError RunStatus = "ERROR"
)

// DefaultFetchIntervalMinutes はfetch_interval_minutes未設定時のポーリング間隔。
const DefaultFetchIntervalMinutes = 15

// Interval はマッピングのポーリング間隔をtime.Durationとして返す。
// 未設定（0以下）の場合はデフォルト間隔を返す。
func (m *SourceMapping) Interval() time.Duration {
	minutes := m.FetchIntervalMinutes
	if minutes <= 0 {
		minutes = DefaultFetchIntervalMinutes
	}
	return time.Duration(minutes) * time.Minute
}

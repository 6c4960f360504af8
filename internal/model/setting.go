// Package model はドメインモデルを定義する。
package model

import "time"

// BotSetting はソース単位のボット設定を表す。
// マッピングのis_activeとは独立しており、両者に強制的な連動はない。
type BotSetting struct {
	ID         string
	SourceName string
	// AutoPublish がtrueの場合、取り込まれた記事は即時公開される。
	// falseの場合は非公開のまま手動レビュー待ちとなる。
	AutoPublish bool
	// BoilerplatePatterns はこのソースの低価値な定型文（出典表記など）の
	// 検出パターン。品質フィルタと遡及パージの両方で使用される。
	// 検出ルールは運用上の調整対象であり、ソースごとに設定で管理する。
	BoilerplatePatterns []string
	UpdatedAt           time.Time
}

// Package model はドメインモデルを定義する。
package model

import "time"

// HeadlineSlot はニュース記事の見出し枠への割り当てを表す。
// (slot_type, rank) の組は一意であり、同一ランクへの新規割り当ては
// 既存の占有者を置き換える。
type HeadlineSlot struct {
	ID        string
	SlotType  SlotType
	Rank      int
	NewsID    string
	CreatedAt time.Time
}

// SlotType は見出し枠の種別を表す。
type SlotType string

const (
	// SlotTypePrimary はトップの主見出し枠。画像必須。
	SlotTypePrimary SlotType = "primary"
	// SlotTypeSecondary は副見出し枠。画像は任意。
	SlotTypeSecondary SlotType = "secondary"
)

// IsValid はサポートされている枠種別かどうかを返す。
func (t SlotType) IsValid() bool {
	return t == SlotTypePrimary || t == SlotTypeSecondary
}

// RequiresImage はこの枠種別が画像付き記事のみを受け付けるかどうかを返す。
func (t SlotType) RequiresImage() bool {
	return t == SlotTypePrimary
}

// HeadlineWithNews は見出し枠と記事情報を結合したモデル。
// フロントエンド読み出しAPI用にJOINで取得される。
type HeadlineWithNews struct {
	HeadlineSlot
	Title    string
	Category string
	ImageURL string
}

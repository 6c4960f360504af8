// Package model はドメインモデルを定義する。
package model

import "time"

// News は取り込み済みのニュース記事を表す。
// (source_name, original_url) が重複排除キーとなり、一意制約で保証される。
type News struct {
	ID          string
	SourceName  string
	Category    string // 解決済みの内部カテゴリスラッグ
	Title       string
	Summary     string // サニタイズ済み
	Content     string // サニタイズ済みHTML
	OriginalURL string
	ImageURL    string
	IsPublished bool
	IsSlider    bool
	PublishedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasImage は記事が画像を持つかどうかを返す。
// スライダー掲載と画像必須の見出し枠はこの条件を前提とする。
func (n *News) HasImage() bool {
	return n.ImageURL != ""
}

// RawItem はフィードパーサーから取得した未保存の記事データを表す。
// フェッチャーがフィードをパースした後、取り込みサービスに渡される。
type RawItem struct {
	Title          string
	Link           string
	NativeCategory string // ソース側カテゴリ。マッピングで内部カテゴリに解決される
	Content        string // 未サニタイズのHTML。ソースによっては空
	Summary        string // 未サニタイズ。ソースによっては空
	ImageURL       string
	PublishedAt    *time.Time
}

// Body は記事本文を返す。フル本文を優先し、無ければスニペットを代用する。
// ソースによって本文とスニペットのどちらが提供されるかが異なるため、
// 取り込み側は常にこのメソッド経由で本文を取得する。
func (r *RawItem) Body() string {
	if r.Content != "" {
		return r.Content
	}
	return r.Summary
}

// NewsFilter はニュース一覧取得時の絞り込み条件を表す。
// ゼロ値のフィールドは条件として適用されない。
type NewsFilter struct {
	SourceName    string
	Category      string
	PublishedOnly bool
	SliderOnly    bool
	Limit         int
}

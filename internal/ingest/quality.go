// Package ingest はフィード記事の取り込み処理を提供する。
// 重複排除・品質フィルタ・カテゴリ解決・サニタイズを経て記事を永続化する。
package ingest

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/repository"
)

// minTextRunes は記事本文として認める最小のテキスト長（ルーン数）。
// これより短い本文はフィード側の不具合か定型文のみの記事とみなす。
const minTextRunes = 32

// QualityFilter は記事の品質チェックを提供する。
// ソース単位の定型文パターン（bot_settings.boilerplate_patterns）を使い、
// 本文が定型文に占有されている記事や本文が実質空の記事を拒否する。
type QualityFilter struct {
	settingRepo repository.SettingRepository
}

// NewQualityFilter はQualityFilterの新しいインスタンスを生成する。
func NewQualityFilter(settingRepo repository.SettingRepository) *QualityFilter {
	return &QualityFilter{settingRepo: settingRepo}
}

// Check は記事が品質基準を満たすかを検査する。
// 基準を満たさない場合はmodel.ErrQualityRejectedをラップしたエラーを返す。
// 判定は本文からタグを除去したプレーンテキストに対して行う。
func (f *QualityFilter) Check(ctx context.Context, sourceName string, raw *model.RawItem) error {
	text := extractText(raw.Body())

	if utf8.RuneCountInString(text) < minTextRunes {
		return fmt.Errorf("本文が短すぎます (%d文字): %w",
			utf8.RuneCountInString(text), model.ErrQualityRejected)
	}

	setting, err := f.settingRepo.FindBySource(ctx, sourceName)
	if err != nil {
		return fmt.Errorf("ソース設定の取得に失敗しました: %w", err)
	}
	if setting == nil || len(setting.BoilerplatePatterns) == 0 {
		return nil
	}

	// 定型文パターンをすべて取り除いた残りが実質空なら、
	// 記事は定型文に占有されているとみなして拒否する
	remainder := strings.ToLower(text)
	matched := ""
	for _, pattern := range setting.BoilerplatePatterns {
		p := strings.ToLower(strings.TrimSpace(pattern))
		if p == "" {
			continue
		}
		if strings.Contains(remainder, p) && matched == "" {
			matched = pattern
		}
		remainder = strings.ReplaceAll(remainder, p, "")
	}
	remainder = strings.TrimSpace(remainder)

	if matched != "" && utf8.RuneCountInString(remainder) < minTextRunes {
		return fmt.Errorf("定型文パターンが本文を占有しています (%q): %w",
			matched, model.ErrQualityRejected)
	}

	return nil
}

// extractText はHTML本文からタグを除去したプレーンテキストを返す。
// script/style要素の中身はテキストとして扱わない。
// 連続する空白は1つに正規化される。
func extractText(rawHTML string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(rawHTML))
	var parts []string
	skipDepth := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return strings.Join(parts, " ")

		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "script", "style":
				skipDepth++
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "script", "style":
				if skipDepth > 0 {
					skipDepth--
				}
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := strings.TrimSpace(string(tokenizer.Text()))
			if text != "" {
				parts = append(parts, strings.Join(strings.Fields(text), " "))
			}
		}
	}
}

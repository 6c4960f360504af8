// Package category はソースのネイティブカテゴリから内部カテゴリへの解決を提供する。
package category

import (
	"context"
	"fmt"
	"strings"

	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/repository"
)

// Resolver はマッピングレジストリに基づくカテゴリ解決を行う。
// 解決は純粋かつ決定的であり、同一の (ソース, ネイティブカテゴリ) 入力は
// 常に同一の内部カテゴリに解決される。書き込みの副作用は持たない。
// カテゴリは下流の公開・絞り込みを駆動するため、マッピングの意図と
// 実際に保存される分布が突き合わせ可能であることが前提となる。
type Resolver struct {
	mappingRepo repository.MappingRepository
}

// NewResolver はResolverの新しいインスタンスを生成する。
func NewResolver(mappingRepo repository.MappingRepository) *Resolver {
	return &Resolver{mappingRepo: mappingRepo}
}

// Resolve は (ソース, ネイティブカテゴリ) を内部カテゴリスラッグに解決する。
// 解決アルゴリズム:
//  1. アクティブなマッピングに対する (source, source_category) の完全一致
//  2. ソースのデフォルトマッピング（source_category = ''）のtarget_category
//  3. ソースのアクティブなマッピングが1件だけならそのtarget_category
//
// ソースにアクティブなマッピングが1件も存在しない場合はmodel.ErrMappingMissingを
// 返す。既定カテゴリへの黙ったフォールバックは行わない。
func (r *Resolver) Resolve(ctx context.Context, sourceName, nativeCategory string) (string, error) {
	mappings, err := r.mappingRepo.ListActiveBySource(ctx, sourceName)
	if err != nil {
		return "", fmt.Errorf("マッピングの取得に失敗: %w", err)
	}
	if len(mappings) == 0 {
		return "", fmt.Errorf("ソース %q: %w", sourceName, model.ErrMappingMissing)
	}

	native := normalizeCategory(nativeCategory)

	// 完全一致
	for _, m := range mappings {
		if m.SourceCategory != "" && normalizeCategory(m.SourceCategory) == native {
			return m.TargetCategory, nil
		}
	}

	// デフォルトマッピング
	for _, m := range mappings {
		if m.SourceCategory == "" {
			return m.TargetCategory, nil
		}
	}

	// 単一マッピングのソースはそのターゲットがデフォルトとなる
	if len(mappings) == 1 {
		return mappings[0].TargetCategory, nil
	}

	return "", fmt.Errorf("ソース %q カテゴリ %q: %w", sourceName, nativeCategory, model.ErrMappingMissing)
}

// normalizeCategory はカテゴリ比較のための正規化を行う。
// 前後の空白を除去し小文字化する。
func normalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

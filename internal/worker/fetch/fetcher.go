package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"

	"github.com/hitoshi/newsdesk/internal/model"
)

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Fetcher は個別ソースのフィードのHTTPフェッチとパースを行う。
// SSRF検証付きクライアントでフィードを取得し、gofeedでパースして
// RawItemに正規化する。状態は持たず、失敗はFetchFailedErrorとして返す。
type Fetcher struct {
	ssrfGuard   SSRFValidator
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
func NewFetcher(
	ssrfGuard SSRFValidator,
	logger *slog.Logger,
	timeout time.Duration,
	maxBodySize int64,
) *Fetcher {
	return &Fetcher{
		ssrfGuard:   ssrfGuard,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// Fetch はマッピングのフィードURLをフェッチし、記事をRawItemに正規化して返す。
// あらゆる失敗はmodel.FetchFailedErrorにラップされ、呼び出し側が
// テレメトリをERRORとして記録する。他ソースの実行には影響しない。
func (f *Fetcher) Fetch(ctx context.Context, mapping *model.SourceMapping) ([]model.RawItem, error) {
	start := time.Now()

	if err := f.ssrfGuard.ValidateURL(mapping.FeedURL); err != nil {
		f.logger.Error("SSRF検証に失敗しました",
			slog.String("source_name", mapping.SourceName),
			slog.String("feed_url", mapping.FeedURL),
			slog.String("error", err.Error()),
		)
		return nil, fetchFailed(mapping, fmt.Errorf("SSRF検証に失敗: %w", err))
	}

	client := f.ssrfGuard.NewSafeClient(f.timeout, f.maxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mapping.FeedURL, nil)
	if err != nil {
		return nil, fetchFailed(mapping, fmt.Errorf("リクエスト作成に失敗: %w", err))
	}

	req.Header.Set("User-Agent", "Newsdesk/1.0 News Bot")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := client.Do(req)
	if err != nil {
		f.logger.Error("HTTPリクエストに失敗しました",
			slog.String("source_name", mapping.SourceName),
			slog.String("feed_url", mapping.FeedURL),
			slog.String("error", err.Error()),
		)
		return nil, fetchFailed(mapping, fmt.Errorf("HTTPリクエスト失敗: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.logger.Warn("フィードが異常ステータスを返しました",
			slog.String("source_name", mapping.SourceName),
			slog.String("feed_url", mapping.FeedURL),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fetchFailed(mapping, fmt.Errorf("HTTPステータス %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, fetchFailed(mapping, fmt.Errorf("レスポンス読み取り失敗: %w", err))
	}

	parser := gofeed.NewParser()
	parsedFeed, err := parser.ParseString(string(body))
	if err != nil {
		f.logger.Error("フィードのパースに失敗しました",
			slog.String("source_name", mapping.SourceName),
			slog.String("feed_url", mapping.FeedURL),
			slog.String("error", err.Error()),
		)
		return nil, fetchFailed(mapping, fmt.Errorf("フィードパース失敗: %w", err))
	}

	items := convertGofeedItems(parsedFeed.Items)

	f.logger.Info("フィードフェッチが完了しました",
		slog.String("source_name", mapping.SourceName),
		slog.String("feed_url", mapping.FeedURL),
		slog.Int("items_total", len(items)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return items, nil
}

// fetchFailed は原因エラーをソース情報付きのFetchFailedErrorにラップする。
func fetchFailed(mapping *model.SourceMapping, err error) error {
	return &model.FetchFailedError{
		SourceName: mapping.SourceName,
		FeedURL:    mapping.FeedURL,
		Err:        err,
	}
}

// convertGofeedItems はgofeedの記事をmodel.RawItemに変換する。
func convertGofeedItems(items []*gofeed.Item) []model.RawItem {
	rawItems := make([]model.RawItem, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		raw := model.RawItem{
			Title:   item.Title,
			Link:    item.Link,
			Content: item.Content,
			Summary: item.Description,
		}

		// ソース側カテゴリ: フィードの先頭カテゴリを採用
		if len(item.Categories) > 0 {
			raw.NativeCategory = item.Categories[0]
		}

		// 公開日時
		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			raw.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			raw.PublishedAt = &t
		}

		// LinkがなくGUIDがURL形式の場合はGUIDをLinkとして使用
		if raw.Link == "" && item.GUID != "" &&
			(strings.HasPrefix(item.GUID, "http://") || strings.HasPrefix(item.GUID, "https://")) {
			raw.Link = item.GUID
		}

		raw.ImageURL = extractImageURL(item, raw.Body())

		rawItems = append(rawItems, raw)
	}

	return rawItems
}

// extractImageURL は記事の画像URLを優先順位付きで抽出する。
// 優先順位: enclosure > media拡張 > フィードのimage要素 > 本文中の先頭img。
func extractImageURL(item *gofeed.Item, body string) string {
	for _, enc := range item.Enclosures {
		if enc != nil && enc.URL != "" && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}

	if media, ok := item.Extensions["media"]; ok {
		for _, key := range []string{"content", "thumbnail"} {
			for _, ext := range media[key] {
				if u := ext.Attrs["url"]; u != "" {
					return u
				}
			}
		}
	}

	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}

	return firstImageSrc(body)
}

// firstImageSrc はHTML本文から最初のimgタグのsrc属性を抽出する。
func firstImageSrc(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}

	tokenizer := html.NewTokenizer(strings.NewReader(rawHTML))
	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			return ""
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}

		tn, hasAttr := tokenizer.TagName()
		if string(tn) != "img" || !hasAttr {
			continue
		}
		for {
			key, val, more := tokenizer.TagAttr()
			if strings.ToLower(string(key)) == "src" {
				src := strings.TrimSpace(string(val))
				if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
					return src
				}
			}
			if !more {
				break
			}
		}
	}
}

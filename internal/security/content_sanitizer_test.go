package security

import (
	"strings"
	"testing"
)

// TestSanitize_AllowedTags は許可タグが正しく通過することを検証する。
func TestSanitize_AllowedTags(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name  string
		input string
		// want に含まれるべき部分文字列
		wantContains []string
	}{
		{
			name:         "pタグが許可される",
			input:        "<p>速報記事の本文</p>",
			wantContains: []string{"<p>速報記事の本文</p>"},
		},
		{
			name:         "brタグが許可される",
			input:        "第1段落<br>第2段落",
			wantContains: []string{"<br>", "第1段落", "第2段落"},
		},
		{
			name:         "aタグが許可される",
			input:        `<a href="https://example.com/haber">続きを読む</a>`,
			wantContains: []string{"<a", "href", "https://example.com/haber", "続きを読む", "</a>"},
		},
		{
			name:         "ulタグとliタグが許可される",
			input:        "<ul><li>項目1</li><li>項目2</li></ul>",
			wantContains: []string{"<ul>", "<li>", "項目1", "項目2", "</li>", "</ul>"},
		},
		{
			name:         "blockquoteタグが許可される",
			input:        "<blockquote>大臣の発言</blockquote>",
			wantContains: []string{"<blockquote>大臣の発言</blockquote>"},
		},
		{
			name:         "strongタグとemタグが許可される",
			input:        "<strong>強調</strong>と<em>斜体</em>",
			wantContains: []string{"<strong>強調</strong>", "<em>斜体</em>"},
		},
		{
			name:         "httpsのimgタグが許可される",
			input:        `<img src="https://cdn.example.com/photo.jpg" alt="現場写真">`,
			wantContains: []string{"<img", "https://cdn.example.com/photo.jpg", "alt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, 期待する部分文字列 %q が含まれていません", tt.input, got, want)
				}
			}
		})
	}
}

// TestSanitize_DisallowedTags は危険なタグと属性が除去されることを検証する。
func TestSanitize_DisallowedTags(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name  string
		input string
		// 出力に含まれてはならない部分文字列
		wantExcludes []string
	}{
		{
			name:         "scriptタグが除去される",
			input:        `<p>本文</p><script>alert("xss")</script>`,
			wantExcludes: []string{"<script", "alert"},
		},
		{
			name:         "iframeタグが除去される",
			input:        `<iframe src="https://evil.example.com"></iframe>`,
			wantExcludes: []string{"<iframe"},
		},
		{
			name:         "styleタグが除去される",
			input:        `<style>body { display: none }</style><p>本文</p>`,
			wantExcludes: []string{"<style"},
		},
		{
			name:         "onclickイベント属性が除去される",
			input:        `<p onclick="steal()">本文</p>`,
			wantExcludes: []string{"onclick", "steal"},
		},
		{
			name:         "httpスキームのimgが除去される",
			input:        `<img src="http://example.com/a.jpg">`,
			wantExcludes: []string{"http://example.com/a.jpg"},
		},
		{
			name:         "javascriptスキームのimgが除去される",
			input:        `<img src="javascript:alert(1)">`,
			wantExcludes: []string{"javascript"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, excluded := range tt.wantExcludes {
				if strings.Contains(got, excluded) {
					t.Errorf("Sanitize(%q) = %q, 除去されるべき %q が残っています", tt.input, got, excluded)
				}
			}
		})
	}
}

// TestSanitize_LinkAttributes はaタグへの安全属性の自動付与を検証する。
func TestSanitize_LinkAttributes(t *testing.T) {
	sanitizer := NewContentSanitizer()

	got := sanitizer.Sanitize(`<a href="https://example.com/haber/123">記事</a>`)

	if !strings.Contains(got, `target="_blank"`) {
		t.Errorf("target=\"_blank\" が付与されていません: %q", got)
	}
	if !strings.Contains(got, "noopener") || !strings.Contains(got, "noreferrer") {
		t.Errorf("rel=\"noopener noreferrer\" が付与されていません: %q", got)
	}
}

// TestSanitize_EmptyInput は空文字列の入力に空文字列が返ることを検証する。
func TestSanitize_EmptyInput(t *testing.T) {
	sanitizer := NewContentSanitizer()

	if got := sanitizer.Sanitize(""); got != "" {
		t.Errorf("Sanitize(\"\") = %q, want \"\"", got)
	}
}

// TestSanitize_Idempotent は同一入力に対して常に同一出力が返ることを検証する。
func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewContentSanitizer()

	input := `<p>本文</p><script>alert(1)</script><img src="https://cdn.example.com/a.jpg">`
	first := sanitizer.Sanitize(input)
	second := sanitizer.Sanitize(first)

	if first != second {
		t.Errorf("サニタイズが冪等ではありません: first=%q second=%q", first, second)
	}
}

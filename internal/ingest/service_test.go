package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/newsdesk/internal/model"
	"github.com/hitoshi/newsdesk/internal/security"
)

// --- モック定義 ---

// mockNewsRepo はNewsRepositoryのテスト用モック。
type mockNewsRepo struct {
	existsFunc func(ctx context.Context, sourceName, originalURL string) (bool, error)
	createFunc func(ctx context.Context, n *model.News) error
	created    []*model.News
}

func (m *mockNewsRepo) FindByID(ctx context.Context, id string) (*model.News, error) {
	return nil, nil
}

func (m *mockNewsRepo) ExistsByOriginalURL(ctx context.Context, sourceName, originalURL string) (bool, error) {
	if m.existsFunc != nil {
		return m.existsFunc(ctx, sourceName, originalURL)
	}
	return false, nil
}

func (m *mockNewsRepo) Create(ctx context.Context, n *model.News) error {
	if m.createFunc != nil {
		if err := m.createFunc(ctx, n); err != nil {
			return err
		}
	}
	m.created = append(m.created, n)
	return nil
}

func (m *mockNewsRepo) Update(ctx context.Context, n *model.News) error { return nil }

func (m *mockNewsRepo) List(ctx context.Context, filter model.NewsFilter) ([]*model.News, error) {
	return nil, nil
}

func (m *mockNewsRepo) Delete(ctx context.Context, id string) error { return nil }

func (m *mockNewsRepo) ClearOrphanedSliders(ctx context.Context) (int64, error) { return 0, nil }

func (m *mockNewsRepo) MarkSliderBySource(ctx context.Context, sourceName string, since time.Time) (int64, error) {
	return 0, nil
}

func (m *mockNewsRepo) DeleteByBoilerplate(ctx context.Context, sourceName, pattern string) (int64, error) {
	return 0, nil
}

// mockResolver はCategoryResolverのテスト用モック。
type mockResolver struct {
	resolveFunc func(ctx context.Context, sourceName, nativeCategory string) (string, error)
}

func (m *mockResolver) Resolve(ctx context.Context, sourceName, nativeCategory string) (string, error) {
	if m.resolveFunc != nil {
		return m.resolveFunc(ctx, sourceName, nativeCategory)
	}
	return "gundem", nil
}

// mockQuality はQualityCheckerのテスト用モック。
type mockQuality struct {
	checkFunc func(ctx context.Context, sourceName string, raw *model.RawItem) error
}

func (m *mockQuality) Check(ctx context.Context, sourceName string, raw *model.RawItem) error {
	if m.checkFunc != nil {
		return m.checkFunc(ctx, sourceName, raw)
	}
	return nil
}

// mockPolicy はPublicationPolicyのテスト用モック。
type mockPolicy struct {
	onIngestedFunc func(ctx context.Context, n *model.News) error
}

func (m *mockPolicy) OnIngested(ctx context.Context, n *model.News) error {
	if m.onIngestedFunc != nil {
		return m.onIngestedFunc(ctx, n)
	}
	return nil
}

func newTestService(newsRepo *mockNewsRepo, resolver *mockResolver, quality *mockQuality, policy *mockPolicy) *Service {
	return NewService(newsRepo, resolver, quality, policy, security.NewContentSanitizer())
}

func testMapping() *model.SourceMapping {
	return &model.SourceMapping{
		ID:         "m-1",
		SourceName: "DHA",
		FeedURL:    "https://www.dha.com.tr/rss",
		IsActive:   true,
	}
}

func rawItem(link string) model.RawItem {
	return model.RawItem{
		Title:          "Ekonomi paketi açıklandı",
		Link:           link,
		NativeCategory: "Ekonomi",
		Content:        "<p>Yeni ekonomi paketinin detayları basın toplantısında paylaşıldı.</p>",
		ImageURL:       "https://img.dha.com.tr/1.jpg",
	}
}

// --- テスト ---

func TestIngestItems_PersistsNewArticle(t *testing.T) {
	newsRepo := &mockNewsRepo{}
	resolver := &mockResolver{
		resolveFunc: func(_ context.Context, _, nativeCategory string) (string, error) {
			if nativeCategory != "Ekonomi" {
				t.Errorf("Resolve native category = %q, want %q", nativeCategory, "Ekonomi")
			}
			return "ekonomi", nil
		},
	}
	published := false
	policy := &mockPolicy{
		onIngestedFunc: func(_ context.Context, n *model.News) error {
			published = true
			n.IsPublished = true
			return nil
		},
	}
	svc := newTestService(newsRepo, resolver, &mockQuality{}, policy)

	result, err := svc.IngestItems(context.Background(), testMapping(),
		[]model.RawItem{rawItem("https://www.dha.com.tr/ekonomi/1")})
	if err != nil {
		t.Fatalf("IngestItems returned error: %v", err)
	}
	if result.Ingested != 1 {
		t.Errorf("Ingested = %d, want 1", result.Ingested)
	}
	if len(newsRepo.created) != 1 {
		t.Fatalf("created len = %d, want 1", len(newsRepo.created))
	}

	news := newsRepo.created[0]
	if news.ID == "" {
		t.Error("IDが採番されていません")
	}
	if news.SourceName != "DHA" {
		t.Errorf("SourceName = %q, want %q", news.SourceName, "DHA")
	}
	if news.Category != "ekonomi" {
		t.Errorf("Category = %q, want %q", news.Category, "ekonomi")
	}
	if !published || !news.IsPublished {
		t.Error("公開ポリシーが適用されていません")
	}
}

func TestIngestItems_SanitizesContent(t *testing.T) {
	newsRepo := &mockNewsRepo{}
	svc := newTestService(newsRepo, &mockResolver{}, &mockQuality{}, &mockPolicy{})

	item := rawItem("https://www.dha.com.tr/gundem/2")
	item.Content = `<p>本文</p><script>alert("xss")</script>`
	item.Summary = `<p>要約</p><iframe src="https://evil.example.com"></iframe>`

	if _, err := svc.IngestItems(context.Background(), testMapping(), []model.RawItem{item}); err != nil {
		t.Fatalf("IngestItems returned error: %v", err)
	}
	if len(newsRepo.created) != 1 {
		t.Fatalf("created len = %d, want 1", len(newsRepo.created))
	}

	news := newsRepo.created[0]
	if strings.Contains(news.Content, "<script") {
		t.Errorf("Contentにscriptタグが残っています: %q", news.Content)
	}
	if strings.Contains(news.Summary, "<iframe") {
		t.Errorf("Summaryにiframeタグが残っています: %q", news.Summary)
	}
}

func TestIngestItems_SkipsDuplicateOnPrecheck(t *testing.T) {
	newsRepo := &mockNewsRepo{
		existsFunc: func(_ context.Context, _, _ string) (bool, error) {
			return true, nil
		},
	}
	svc := newTestService(newsRepo, &mockResolver{}, &mockQuality{}, &mockPolicy{})

	result, err := svc.IngestItems(context.Background(), testMapping(),
		[]model.RawItem{rawItem("https://www.dha.com.tr/spor/3")})
	if err != nil {
		t.Fatalf("IngestItems returned error: %v", err)
	}
	if result.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", result.Duplicates)
	}
	if len(newsRepo.created) != 0 {
		t.Errorf("重複記事が保存されています: %d件", len(newsRepo.created))
	}
}

func TestIngestItems_TreatsInsertRaceAsDuplicate(t *testing.T) {
	// 事前チェックは通過するが、保存時に別ワーカーが先に挿入していたケース
	newsRepo := &mockNewsRepo{
		createFunc: func(_ context.Context, _ *model.News) error {
			return model.ErrDuplicateItem
		},
	}
	svc := newTestService(newsRepo, &mockResolver{}, &mockQuality{}, &mockPolicy{})

	result, err := svc.IngestItems(context.Background(), testMapping(),
		[]model.RawItem{rawItem("https://www.dha.com.tr/spor/4")})
	if err != nil {
		t.Fatalf("IngestItems returned error: %v", err)
	}
	if result.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", result.Duplicates)
	}
	if result.Ingested != 0 {
		t.Errorf("Ingested = %d, want 0", result.Ingested)
	}
}

func TestIngestItems_CountsQualityRejections(t *testing.T) {
	quality := &mockQuality{
		checkFunc: func(_ context.Context, _ string, raw *model.RawItem) error {
			if strings.HasSuffix(raw.Link, "/bad") {
				return model.ErrQualityRejected
			}
			return nil
		},
	}
	newsRepo := &mockNewsRepo{}
	svc := newTestService(newsRepo, &mockResolver{}, quality, &mockPolicy{})

	result, err := svc.IngestItems(context.Background(), testMapping(), []model.RawItem{
		rawItem("https://www.dha.com.tr/gundem/bad"),
		rawItem("https://www.dha.com.tr/gundem/5"),
	})
	if err != nil {
		t.Fatalf("IngestItems returned error: %v", err)
	}
	if result.QualityRejected != 1 {
		t.Errorf("QualityRejected = %d, want 1", result.QualityRejected)
	}
	if result.Ingested != 1 {
		t.Errorf("Ingested = %d, want 1", result.Ingested)
	}
}

func TestIngestItems_CountsMappingMissing(t *testing.T) {
	resolver := &mockResolver{
		resolveFunc: func(_ context.Context, _, _ string) (string, error) {
			return "", model.ErrMappingMissing
		},
	}
	newsRepo := &mockNewsRepo{}
	svc := newTestService(newsRepo, resolver, &mockQuality{}, &mockPolicy{})

	result, err := svc.IngestItems(context.Background(), testMapping(),
		[]model.RawItem{rawItem("https://www.dha.com.tr/magazin/6")})
	if err != nil {
		t.Fatalf("IngestItems returned error: %v", err)
	}
	if result.MappingMissing != 1 {
		t.Errorf("MappingMissing = %d, want 1", result.MappingMissing)
	}
	if len(newsRepo.created) != 0 {
		t.Errorf("マッピング未解決の記事が保存されています: %d件", len(newsRepo.created))
	}
}

func TestIngestItems_SkipsItemsWithoutLinkOrTitle(t *testing.T) {
	newsRepo := &mockNewsRepo{}
	svc := newTestService(newsRepo, &mockResolver{}, &mockQuality{}, &mockPolicy{})

	noLink := rawItem("")
	noTitle := rawItem("https://www.dha.com.tr/gundem/7")
	noTitle.Title = ""

	result, err := svc.IngestItems(context.Background(), testMapping(),
		[]model.RawItem{noLink, noTitle})
	if err != nil {
		t.Fatalf("IngestItems returned error: %v", err)
	}
	if result.QualityRejected != 2 {
		t.Errorf("QualityRejected = %d, want 2", result.QualityRejected)
	}
	if result.Total() != 2 {
		t.Errorf("Total = %d, want 2", result.Total())
	}
}

func TestIngestItems_ReingestIsIdempotent(t *testing.T) {
	// 1回目の取り込みで保存された記事は2回目では重複として扱われる
	seen := map[string]bool{}
	newsRepo := &mockNewsRepo{
		existsFunc: func(_ context.Context, _, originalURL string) (bool, error) {
			return seen[originalURL], nil
		},
		createFunc: func(_ context.Context, n *model.News) error {
			seen[n.OriginalURL] = true
			return nil
		},
	}
	svc := newTestService(newsRepo, &mockResolver{}, &mockQuality{}, &mockPolicy{})

	items := []model.RawItem{rawItem("https://www.dha.com.tr/spor/8")}

	first, err := svc.IngestItems(context.Background(), testMapping(), items)
	if err != nil {
		t.Fatalf("IngestItems returned error: %v", err)
	}
	second, err := svc.IngestItems(context.Background(), testMapping(), items)
	if err != nil {
		t.Fatalf("IngestItems returned error: %v", err)
	}

	if first.Ingested != 1 || second.Ingested != 0 {
		t.Errorf("Ingested = (%d, %d), want (1, 0)", first.Ingested, second.Ingested)
	}
	if second.Duplicates != 1 {
		t.Errorf("2回目のDuplicates = %d, want 1", second.Duplicates)
	}
}

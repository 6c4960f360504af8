package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/newsdesk/internal/model"
)

// --- モック定義 ---

// mockMappingService はMappingServiceInterfaceのモック実装。
type mockMappingService struct {
	listFn     func(ctx context.Context) ([]*model.SourceMapping, error)
	findByIDFn func(ctx context.Context, id string) (*model.SourceMapping, error)
	createFn   func(ctx context.Context, m *model.SourceMapping) error
	updateFn   func(ctx context.Context, m *model.SourceMapping) error
	deleteFn   func(ctx context.Context, id string) error
}

func (m *mockMappingService) List(ctx context.Context) ([]*model.SourceMapping, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockMappingService) FindByID(ctx context.Context, id string) (*model.SourceMapping, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockMappingService) Create(ctx context.Context, sm *model.SourceMapping) error {
	if m.createFn != nil {
		return m.createFn(ctx, sm)
	}
	return nil
}

func (m *mockMappingService) Update(ctx context.Context, sm *model.SourceMapping) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, sm)
	}
	return nil
}

func (m *mockMappingService) Delete(ctx context.Context, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

// mockFeedURLValidator はFeedURLValidatorInterfaceのモック実装。
// validateFn未設定時は全URLを許可する。
type mockFeedURLValidator struct {
	validateFn func(rawURL string) error
}

func (m *mockFeedURLValidator) ValidateURL(rawURL string) error {
	if m.validateFn != nil {
		return m.validateFn(rawURL)
	}
	return nil
}

// --- テストヘルパー ---

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// jsonBody はテスト用にJSONリクエストボディを構築するヘルパー。
func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("failed to encode request body: %v", err)
	}
	return buf
}

// --- テスト ---

func TestMappingHandler_ListMappings_IncludesTelemetry(t *testing.T) {
	scrapedAt := time.Now().UTC().Truncate(time.Second)
	svc := &mockMappingService{
		listFn: func(ctx context.Context) ([]*model.SourceMapping, error) {
			return []*model.SourceMapping{
				{
					ID:             "map-1",
					SourceName:     "DHA",
					SourceCategory: "spor",
					TargetCategory: "spor",
					FeedURL:        "https://www.dha.com.tr/rss/spor",
					IsActive:       true,
					LastScrapedAt:  &scrapedAt,
					LastStatus:     model.RunStatusError,
					LastError:      "フィードの取得に失敗しました",
					LastItemCount:  0,
				},
			}, nil
		},
	}

	h := NewMappingHandler(svc, &mockFeedURLValidator{})
	w := httptest.NewRecorder()
	h.ListMappings(w, httptest.NewRequest(http.MethodGet, "/api/mappings", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var result []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("result length = %d, want 1", len(result))
	}

	m := result[0]
	if m["source_name"] != "DHA" {
		t.Errorf("source_name = %v", m["source_name"])
	}
	if m["last_status"] != "ERROR" {
		t.Errorf("last_status = %v, want ERROR", m["last_status"])
	}
	if m["last_error"] != "フィードの取得に失敗しました" {
		t.Errorf("last_error = %v", m["last_error"])
	}
}

func TestMappingHandler_CreateMapping_Success(t *testing.T) {
	var created *model.SourceMapping
	svc := &mockMappingService{
		createFn: func(ctx context.Context, m *model.SourceMapping) error {
			created = m
			return nil
		},
	}

	h := NewMappingHandler(svc, &mockFeedURLValidator{})
	body := jsonBody(t, map[string]any{
		"source_name":            "AA",
		"source_category":        "ekonomi",
		"target_category":        "ekonomi",
		"feed_url":               "https://www.aa.com.tr/rss/ekonomi",
		"is_active":              true,
		"fetch_interval_minutes": 10,
	})

	w := httptest.NewRecorder()
	h.CreateMapping(w, httptest.NewRequest(http.MethodPost, "/api/mappings", body))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	if created == nil {
		t.Fatal("Createが呼ばれていません")
	}
	if created.ID == "" {
		t.Error("IDが採番されていません")
	}
	if created.SourceName != "AA" || created.FetchIntervalMinutes != 10 {
		t.Errorf("created = %+v", created)
	}
}

func TestMappingHandler_CreateMapping_MissingFeedURL(t *testing.T) {
	h := NewMappingHandler(&mockMappingService{}, &mockFeedURLValidator{})
	body := jsonBody(t, map[string]any{
		"source_name":     "AA",
		"target_category": "ekonomi",
	})

	w := httptest.NewRecorder()
	h.CreateMapping(w, httptest.NewRequest(http.MethodPost, "/api/mappings", body))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestMappingHandler_GetMapping_NotFound(t *testing.T) {
	svc := &mockMappingService{
		findByIDFn: func(ctx context.Context, id string) (*model.SourceMapping, error) {
			return nil, nil
		},
	}

	h := NewMappingHandler(svc, &mockFeedURLValidator{})
	req := withChiURLParam(httptest.NewRequest(http.MethodGet, "/api/mappings/nope", nil), "id", "nope")
	w := httptest.NewRecorder()
	h.GetMapping(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestMappingHandler_UpdateMapping_PreservesTelemetry(t *testing.T) {
	scrapedAt := time.Now().UTC().Truncate(time.Second)
	var updated *model.SourceMapping
	svc := &mockMappingService{
		findByIDFn: func(ctx context.Context, id string) (*model.SourceMapping, error) {
			return &model.SourceMapping{
				ID:            "map-1",
				SourceName:    "DHA",
				FeedURL:       "https://www.dha.com.tr/rss/spor",
				LastScrapedAt: &scrapedAt,
				LastStatus:    model.RunStatusOK,
				LastItemCount: 12,
			}, nil
		},
		updateFn: func(ctx context.Context, m *model.SourceMapping) error {
			updated = m
			return nil
		},
	}

	h := NewMappingHandler(svc, &mockFeedURLValidator{})
	body := jsonBody(t, map[string]any{
		"source_name":     "DHA",
		"target_category": "spor",
		"feed_url":        "https://www.dha.com.tr/rss/yeni-spor",
		"is_active":       false,
	})
	req := withChiURLParam(httptest.NewRequest(http.MethodPut, "/api/mappings/map-1", body), "id", "map-1")
	w := httptest.NewRecorder()
	h.UpdateMapping(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if updated == nil {
		t.Fatal("Updateが呼ばれていません")
	}
	if updated.FeedURL != "https://www.dha.com.tr/rss/yeni-spor" {
		t.Errorf("FeedURL = %q", updated.FeedURL)
	}
	if updated.IsActive {
		t.Error("IsActiveがfalseに更新されていません")
	}
	// テレメトリは更新リクエストで消えない
	if updated.LastStatus != model.RunStatusOK || updated.LastItemCount != 12 {
		t.Errorf("テレメトリが失われています: %+v", updated)
	}
}

func TestMappingHandler_DeleteMapping_Success(t *testing.T) {
	deleted := ""
	svc := &mockMappingService{
		findByIDFn: func(ctx context.Context, id string) (*model.SourceMapping, error) {
			return &model.SourceMapping{ID: id}, nil
		},
		deleteFn: func(ctx context.Context, id string) error {
			deleted = id
			return nil
		},
	}

	h := NewMappingHandler(svc, &mockFeedURLValidator{})
	req := withChiURLParam(httptest.NewRequest(http.MethodDelete, "/api/mappings/map-1", nil), "id", "map-1")
	w := httptest.NewRecorder()
	h.DeleteMapping(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if deleted != "map-1" {
		t.Errorf("deleted = %q, want map-1", deleted)
	}
}

func TestMappingHandler_CreateMapping_ActiveDuplicateConflict(t *testing.T) {
	svc := &mockMappingService{
		createFn: func(ctx context.Context, m *model.SourceMapping) error {
			return model.ErrMappingConflict
		},
	}

	h := NewMappingHandler(svc, &mockFeedURLValidator{})
	body := jsonBody(t, map[string]any{
		"source_name":     "DHA",
		"target_category": "spor",
		"feed_url":        "https://www.dha.com.tr/rss/spor",
		"is_active":       true,
	})

	w := httptest.NewRecorder()
	h.CreateMapping(w, httptest.NewRequest(http.MethodPost, "/api/mappings", body))

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Code != "MAPPING_CONFLICT" {
		t.Errorf("code = %q, want MAPPING_CONFLICT", resp.Code)
	}
}

func TestMappingHandler_UpdateMapping_ActiveDuplicateConflict(t *testing.T) {
	svc := &mockMappingService{
		findByIDFn: func(ctx context.Context, id string) (*model.SourceMapping, error) {
			return &model.SourceMapping{ID: id, SourceName: "DHA"}, nil
		},
		updateFn: func(ctx context.Context, m *model.SourceMapping) error {
			return model.ErrMappingConflict
		},
	}

	h := NewMappingHandler(svc, &mockFeedURLValidator{})
	body := jsonBody(t, map[string]any{
		"source_name":     "DHA",
		"target_category": "spor",
		"feed_url":        "https://www.dha.com.tr/rss/spor",
		"is_active":       true,
	})

	req := withChiURLParam(httptest.NewRequest(http.MethodPut, "/api/mappings/m1", body), "id", "m1")
	w := httptest.NewRecorder()
	h.UpdateMapping(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409: %s", w.Code, w.Body.String())
	}
}

func TestMappingHandler_CreateMapping_RejectsUnsafeFeedURL(t *testing.T) {
	var created bool
	svc := &mockMappingService{
		createFn: func(ctx context.Context, m *model.SourceMapping) error {
			created = true
			return nil
		},
	}
	validator := &mockFeedURLValidator{
		validateFn: func(rawURL string) error {
			return errors.New("プライベートIPアドレスへのアクセスは許可されていません")
		},
	}

	h := NewMappingHandler(svc, validator)
	body := jsonBody(t, map[string]any{
		"source_name":     "DHA",
		"target_category": "spor",
		"feed_url":        "http://169.254.169.254/rss",
		"is_active":       true,
	})

	w := httptest.NewRecorder()
	h.CreateMapping(w, httptest.NewRequest(http.MethodPost, "/api/mappings", body))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
	if created {
		t.Error("検証に失敗したURLでCreateが呼ばれています")
	}

	var resp struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Code != "INVALID_FEED_URL" {
		t.Errorf("code = %q, want INVALID_FEED_URL", resp.Code)
	}
}

func TestMappingHandler_UpdateMapping_RejectsUnsafeFeedURL(t *testing.T) {
	validator := &mockFeedURLValidator{
		validateFn: func(rawURL string) error {
			return errors.New("ループバックアドレスへのアクセスは許可されていません")
		},
	}

	h := NewMappingHandler(&mockMappingService{}, validator)
	body := jsonBody(t, map[string]any{
		"source_name":     "DHA",
		"target_category": "spor",
		"feed_url":        "http://127.0.0.1/rss",
		"is_active":       true,
	})

	req := withChiURLParam(httptest.NewRequest(http.MethodPut, "/api/mappings/m1", body), "id", "m1")
	w := httptest.NewRecorder()
	h.UpdateMapping(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
}

package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/hitoshi/kiroku/internal/model"
	"github.com/hitoshi/kiroku/internal/stats"
)

type mockIngestService struct {
	ingestBatchFn func(ctx context.Context, events []*model.Event) (int, error)
}

func (m *mockIngestService) IngestBatch(ctx context.Context, events []*model.Event) (int, error) {
	return m.ingestBatchFn(ctx, events)
}

type mockStatsService struct {
	usersFn  func(ctx context.Context) ([]*model.UserAggregate, error)
	userFn   func(ctx context.Context, userID string) (*stats.UserDetail, error)
	globalFn func(ctx context.Context) (*model.GlobalStats, error)
	dailyFn  func(ctx context.Context) (map[string]model.DailyBucket, error)
}

func (m *mockStatsService) Users(ctx context.Context) ([]*model.UserAggregate, error) {
	return m.usersFn(ctx)
}

func (m *mockStatsService) User(ctx context.Context, userID string) (*stats.UserDetail, error) {
	return m.userFn(ctx, userID)
}

func (m *mockStatsService) Global(ctx context.Context) (*model.GlobalStats, error) {
	return m.globalFn(ctx)
}

func (m *mockStatsService) Daily(ctx context.Context) (map[string]model.DailyBucket, error) {
	return m.dailyFn(ctx)
}

type mockEventQueryService struct {
	queryFn    func(ctx context.Context, filter model.EventFilter) ([]*model.Event, int64, error)
	eraseAllFn func(ctx context.Context) error
}

func (m *mockEventQueryService) Query(ctx context.Context, filter model.EventFilter) ([]*model.Event, int64, error) {
	return m.queryFn(ctx, filter)
}

func (m *mockEventQueryService) EraseAll(ctx context.Context) error {
	return m.eraseAllFn(ctx)
}

// chiのURLパラメータをリクエストに注入するテストヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

// バッチ取り込みの成功レスポンスを検証
func TestBulkIngest_Success(t *testing.T) {
	var got []*model.Event
	ingest := &mockIngestService{
		ingestBatchFn: func(ctx context.Context, events []*model.Event) (int, error) {
			got = events
			return len(events), nil
		},
	}
	h := NewAnalyticsHandler(ingest, &mockStatsService{}, &mockEventQueryService{})

	payload := `[{"userId":"u1","sessionId":"s1","type":"slide_change","timestamp":1000,"data":{"slideNumber":3}}]`
	req := httptest.NewRequest(http.MethodPost, "/api/analytics/events/bulk", strings.NewReader(payload))
	rec := httptest.NewRecorder()

	h.BulkIngest(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
	if body["message"] != "stored 1 events" {
		t.Errorf("message = %v, want %q", body["message"], "stored 1 events")
	}
	if len(got) != 1 || got[0].UserID != "u1" || got[0].Type != "slide_change" {
		t.Errorf("ingested events = %+v", got)
	}
}

// 配列以外のボディが400で拒否されることを検証
func TestBulkIngest_RejectsNonArrayBody(t *testing.T) {
	ingest := &mockIngestService{
		ingestBatchFn: func(ctx context.Context, events []*model.Event) (int, error) {
			t.Fatal("ingest should not run for an invalid body")
			return 0, nil
		},
	}
	h := NewAnalyticsHandler(ingest, &mockStatsService{}, &mockEventQueryService{})

	tests := []struct {
		name string
		body string
	}{
		{"オブジェクト", `{"userId":"u1"}`},
		{"文字列", `"hello"`},
		{"null", `null`},
		{"空白に続くnull", "  \n null"},
		{"空ボディ", ``},
		{"不正なJSON", `[{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/analytics/events/bulk", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			h.BulkIngest(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			body := decodeBody(t, rec)
			if body["success"] != false {
				t.Errorf("success = %v, want false", body["success"])
			}
			if body["error"] != "events payload must be a JSON array" {
				t.Errorf("error = %v", body["error"])
			}
		})
	}
}

// 空の配列が成功として受け付けられることを検証
func TestBulkIngest_EmptyArray(t *testing.T) {
	ingest := &mockIngestService{
		ingestBatchFn: func(ctx context.Context, events []*model.Event) (int, error) {
			return 0, nil
		},
	}
	h := NewAnalyticsHandler(ingest, &mockStatsService{}, &mockEventQueryService{})

	req := httptest.NewRequest(http.MethodPost, "/api/analytics/events/bulk", strings.NewReader(`[]`))
	rec := httptest.NewRecorder()

	h.BulkIngest(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["message"] != "stored 0 events" {
		t.Errorf("message = %v, want %q", body["message"], "stored 0 events")
	}
}

// ストレージエラーが500エンベロープに変換され、詳細が漏れないことを検証
func TestBulkIngest_StorageError(t *testing.T) {
	ingest := &mockIngestService{
		ingestBatchFn: func(ctx context.Context, events []*model.Event) (int, error) {
			return 0, model.NewStorageError("disk full", errors.New("no space left on device"))
		},
	}
	h := NewAnalyticsHandler(ingest, &mockStatsService{}, &mockEventQueryService{})

	req := httptest.NewRequest(http.MethodPost, "/api/analytics/events/bulk", strings.NewReader(`[{"userId":"u1"}]`))
	rec := httptest.NewRecorder()

	h.BulkIngest(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "storage operation failed" {
		t.Errorf("error = %v, internal details must not leak", body["error"])
	}
}

// ユーザー一覧レスポンスの形を検証
func TestListUsers(t *testing.T) {
	statsService := &mockStatsService{
		usersFn: func(ctx context.Context) ([]*model.UserAggregate, error) {
			return []*model.UserAggregate{
				{UserID: "u1", EventCount: 3, SessionCount: 1, FirstEvent: 1000, LastEvent: 3000},
			}, nil
		},
	}
	h := NewAnalyticsHandler(&mockIngestService{}, statsService, &mockEventQueryService{})

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/users", nil)
	rec := httptest.NewRecorder()

	h.ListUsers(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	users, ok := body["users"].([]any)
	if !ok || len(users) != 1 {
		t.Fatalf("users = %v, want one entry", body["users"])
	}
	user := users[0].(map[string]any)
	if user["userId"] != "u1" {
		t.Errorf("userId = %v, want u1", user["userId"])
	}
	if user["eventCount"] != float64(3) {
		t.Errorf("eventCount = %v, want 3", user["eventCount"])
	}
	if user["sessions"] != float64(1) {
		t.Errorf("sessions = %v, want 1", user["sessions"])
	}
}

// ユーザー詳細の取得とイベント・集計の同梱を検証
func TestGetUser(t *testing.T) {
	statsService := &mockStatsService{
		userFn: func(ctx context.Context, userID string) (*stats.UserDetail, error) {
			return &stats.UserDetail{
				UserID: userID,
				Events: []*model.Event{{ID: "e1", UserID: userID, Timestamp: 1000}},
				Stats:  &model.UserAggregate{UserID: userID, EventCount: 1, SessionCount: 1},
			}, nil
		},
	}
	h := NewAnalyticsHandler(&mockIngestService{}, statsService, &mockEventQueryService{})

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/users/u1", nil)
	req = withChiURLParam(req, "userId", "u1")
	rec := httptest.NewRecorder()

	h.GetUser(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	user, ok := body["user"].(map[string]any)
	if !ok {
		t.Fatalf("user = %v", body["user"])
	}
	if user["userId"] != "u1" {
		t.Errorf("userId = %v, want u1", user["userId"])
	}
	if _, ok := user["events"].([]any); !ok {
		t.Error("user detail should contain the events list")
	}
	if _, ok := user["stats"].(map[string]any); !ok {
		t.Error("user detail should contain the aggregate stats")
	}
}

// 存在しないユーザーに対して404を返すことを検証
func TestGetUser_NotFound(t *testing.T) {
	statsService := &mockStatsService{
		userFn: func(ctx context.Context, userID string) (*stats.UserDetail, error) {
			return nil, model.NewNotFoundError("no events found for user: " + userID)
		},
	}
	h := NewAnalyticsHandler(&mockIngestService{}, statsService, &mockEventQueryService{})

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/users/missing", nil)
	req = withChiURLParam(req, "userId", "missing")
	rec := httptest.NewRecorder()

	h.GetUser(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
}

// クエリパラメータがフィルタに変換されることを検証
func TestListEvents_QueryParams(t *testing.T) {
	var gotFilter model.EventFilter
	events := &mockEventQueryService{
		queryFn: func(ctx context.Context, filter model.EventFilter) ([]*model.Event, int64, error) {
			gotFilter = filter
			return []*model.Event{}, 42, nil
		},
	}
	h := NewAnalyticsHandler(&mockIngestService{}, &mockStatsService{}, events)

	req := httptest.NewRequest(http.MethodGet,
		"/api/analytics/events?userId=u1&eventType=slide_change&sessionId=s1&limit=10&offset=20", nil)
	rec := httptest.NewRecorder()

	h.ListEvents(rec, req)

	want := model.EventFilter{UserID: "u1", Type: "slide_change", SessionID: "s1", Limit: 10, Offset: 20}
	if gotFilter != want {
		t.Errorf("filter = %+v, want %+v", gotFilter, want)
	}

	body := decodeBody(t, rec)
	if body["total"] != float64(42) {
		t.Errorf("total = %v, want 42 (total matches, not page size)", body["total"])
	}
	if body["limit"] != float64(10) || body["offset"] != float64(20) {
		t.Errorf("limit/offset = %v/%v, want 10/20", body["limit"], body["offset"])
	}
}

// パラメータ未指定時にデフォルト値が適用されることを検証
func TestListEvents_Defaults(t *testing.T) {
	var gotFilter model.EventFilter
	events := &mockEventQueryService{
		queryFn: func(ctx context.Context, filter model.EventFilter) ([]*model.Event, int64, error) {
			gotFilter = filter
			return []*model.Event{}, 0, nil
		},
	}
	h := NewAnalyticsHandler(&mockIngestService{}, &mockStatsService{}, events)

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/events", nil)
	rec := httptest.NewRecorder()

	h.ListEvents(rec, req)

	if gotFilter.Limit != defaultEventsPerPage {
		t.Errorf("limit = %d, want %d", gotFilter.Limit, defaultEventsPerPage)
	}
	if gotFilter.Offset != 0 {
		t.Errorf("offset = %d, want 0", gotFilter.Offset)
	}
}

// limit=0が明示指定として尊重されることを検証
func TestListEvents_ExplicitZeroLimit(t *testing.T) {
	var gotFilter model.EventFilter
	events := &mockEventQueryService{
		queryFn: func(ctx context.Context, filter model.EventFilter) ([]*model.Event, int64, error) {
			gotFilter = filter
			return []*model.Event{}, 5, nil
		},
	}
	h := NewAnalyticsHandler(&mockIngestService{}, &mockStatsService{}, events)

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/events?limit=0", nil)
	rec := httptest.NewRecorder()

	h.ListEvents(rec, req)

	if gotFilter.Limit != 0 {
		t.Errorf("limit = %d, want 0", gotFilter.Limit)
	}
	body := decodeBody(t, rec)
	if body["total"] != float64(5) {
		t.Errorf("total = %v, want 5", body["total"])
	}
}

// グローバル統計レスポンスの形を検証
func TestGlobalStats(t *testing.T) {
	statsService := &mockStatsService{
		globalFn: func(ctx context.Context) (*model.GlobalStats, error) {
			return &model.GlobalStats{
				TotalUsers:  2,
				TotalEvents: 5,
				EventTypeBreakdown: []model.EventTypeCount{
					{Type: "a", Count: 3},
					{Type: "b", Count: 2},
				},
			}, nil
		},
	}
	h := NewAnalyticsHandler(&mockIngestService{}, statsService, &mockEventQueryService{})

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/stats", nil)
	rec := httptest.NewRecorder()

	h.GlobalStats(rec, req)

	body := decodeBody(t, rec)
	statsBody, ok := body["stats"].(map[string]any)
	if !ok {
		t.Fatalf("stats = %v", body["stats"])
	}
	if statsBody["totalEvents"] != float64(5) {
		t.Errorf("totalEvents = %v, want 5", statsBody["totalEvents"])
	}
	breakdown, ok := statsBody["eventTypeBreakdown"].([]any)
	if !ok || len(breakdown) != 2 {
		t.Fatalf("breakdown = %v, want 2 entries", statsBody["eventTypeBreakdown"])
	}
}

// 日次統計レスポンスの形を検証
func TestDailyStats(t *testing.T) {
	statsService := &mockStatsService{
		dailyFn: func(ctx context.Context) (map[string]model.DailyBucket, error) {
			return map[string]model.DailyBucket{
				"2025-05-01": {Events: 3, DistinctUsers: 2},
			}, nil
		},
	}
	h := NewAnalyticsHandler(&mockIngestService{}, statsService, &mockEventQueryService{})

	req := httptest.NewRequest(http.MethodGet, "/api/analytics/stats/daily", nil)
	rec := httptest.NewRecorder()

	h.DailyStats(rec, req)

	body := decodeBody(t, rec)
	daily, ok := body["daily"].(map[string]any)
	if !ok {
		t.Fatalf("daily = %v", body["daily"])
	}
	bucket, ok := daily["2025-05-01"].(map[string]any)
	if !ok {
		t.Fatalf("bucket = %v", daily["2025-05-01"])
	}
	if bucket["events"] != float64(3) || bucket["distinctUsers"] != float64(2) {
		t.Errorf("bucket = %v, want {3 2}", bucket)
	}
}

// 全消去の実行と成功レスポンスを検証
func TestReset(t *testing.T) {
	erased := false
	events := &mockEventQueryService{
		eraseAllFn: func(ctx context.Context) error {
			erased = true
			return nil
		},
	}
	h := NewAnalyticsHandler(&mockIngestService{}, &mockStatsService{}, events)

	req := httptest.NewRequest(http.MethodPost, "/api/analytics/reset", nil)
	rec := httptest.NewRecorder()

	h.Reset(rec, req)

	if !erased {
		t.Error("EraseAll should have been called")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["message"] != "all analytics data erased" {
		t.Errorf("message = %v", body["message"])
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		value      string
		defaultVal int
		want       int
	}{
		{"", 100, 100},
		{"0", 100, 0},
		{"50", 100, 50},
		{"-1", 100, 100},
		{"abc", 100, 100},
	}

	for _, tt := range tests {
		if got := parseIntParam(tt.value, tt.defaultVal); got != tt.want {
			t.Errorf("parseIntParam(%q, %d) = %d, want %d", tt.value, tt.defaultVal, got, tt.want)
		}
	}
}

package model

import "time"

// UserAggregate はユーザーごとの派生サマリー。
// 常にそのユーザーの全イベントから再計算可能なキャッシュであり、
// 真実の源泉はイベント本体である。
type UserAggregate struct {
	UserID string `json:"userId"`

	// EventCount はこのユーザーの累計イベント数。
	EventCount int64 `json:"eventCount"`

	// FirstEvent / LastEvent はクライアント申告タイムスタンプの最小・最大値（ミリ秒）。
	FirstEvent int64 `json:"firstEvent"`
	LastEvent  int64 `json:"lastEvent"`

	// SessionCount は観測した distinct sessionId の数。
	SessionCount int64 `json:"sessions"`

	// UpdatedAt は集計を最後に再計算した時刻。
	UpdatedAt time.Time `json:"updatedAt"`
}

// EventTypeCount はイベント種別ごとの件数。
type EventTypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// GlobalStats は全イベントに対するグローバル統計。
// TotalUsers / TotalSessions は distinct userId / sessionId の数。
type GlobalStats struct {
	TotalUsers          int64            `json:"totalUsers"`
	TotalEvents         int64            `json:"totalEvents"`
	TotalSessions       int64            `json:"totalSessions"`
	EventTypesCount     int64            `json:"eventTypesCount"`
	FirstEventTimestamp int64            `json:"firstEventTimestamp"`
	LastEventTimestamp  int64            `json:"lastEventTimestamp"`
	EventTypeBreakdown  []EventTypeCount `json:"eventTypeBreakdown"`
}

// DailyBucket は1日分（UTC日付）のイベント統計。
type DailyBucket struct {
	Events        int64 `json:"events"`
	DistinctUsers int64 `json:"distinctUsers"`
}

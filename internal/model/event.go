// Package model はドメインモデルを定義する。
package model

// Event は学習者の1操作を表すイベントレコード。
// クライアントがバッチで送信し、取り込み時点以降は不変として扱う。
type Event struct {
	// ID はサーバー側で採番するイベントID（UUID）。
	ID string `json:"id,omitempty"`

	// UserID はクライアント生成の学習者識別子。空でも受け付ける。
	UserID string `json:"userId,omitempty"`

	// SessionID は連続利用セッションの識別子。
	SessionID string `json:"sessionId,omitempty"`

	// Type はイベント種別タグ（例: slide_change, guess_submit）。
	Type string `json:"type,omitempty"`

	// Data はイベント固有のペイロード。スキーマレスなまま保存する。
	Data map[string]any `json:"data,omitempty"`

	// Timestamp はクライアント申告の発生時刻（UNIXエポックミリ秒）。
	// クライアント制御の値であり、信頼が必要な用途には使用しない。
	Timestamp int64 `json:"timestamp,omitempty"`

	// ServerTimestamp は取り込み時刻（UNIXエポックミリ秒）。
	// ストアが書き込み時に必ず設定し、順序付けの正とする。
	ServerTimestamp int64 `json:"serverTimestamp,omitempty"`
}

// EventFilter はイベント検索の絞り込み条件とページネーションを保持する。
// ゼロ値のフィールドは条件として適用しない。
type EventFilter struct {
	UserID    string
	Type      string
	SessionID string

	// Limit は最大取得件数。0の場合は空の結果を返す。
	Limit int
	// Offset は読み飛ばし件数。
	Offset int
}

// Package export はイベント集合のJSON/CSVダウンロード表現への変換を提供する。
package export

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/hitoshi/kiroku/internal/model"
)

// Document はJSONエクスポートの全体構造。
type Document struct {
	ExportDate  string         `json:"exportDate"`
	TotalEvents int            `json:"totalEvents"`
	Events      []*model.Event `json:"events"`
}

// ToJSON はイベント集合をメタデータ付きのJSONドキュメントに変換する。
func ToJSON(events []*model.Event) ([]byte, error) {
	if events == nil {
		events = []*model.Event{}
	}
	doc := Document{
		ExportDate:  time.Now().UTC().Format(time.RFC3339),
		TotalEvents: len(events),
		Events:      events,
	}
	return json.Marshal(doc)
}

// ToCSV はイベント集合をCSVテキストに変換する。空の入力に対しては空文字列を返す。
//
// カラム集合は全イベントのトップレベルキーの和集合に、各イベントのペイロードの
// キーを data_<key> として平坦化したものを加えたもの。カラム順序は決定性のため
// 全カラムをアルファベット順に整列する。
//
// 値のエンコード規則:
//   - 欠損値は空文字列
//   - オブジェクト・配列はJSON文字列化した上でダブルクォートで囲み、内部のクォートは二重化
//   - カンマを含む文字列はダブルクォートで囲み、内部のクォートは二重化
//   - その他のスカラーは文字列形式のままクォートしない
func ToCSV(events []*model.Event) string {
	if len(events) == 0 {
		return ""
	}

	flattened := make([]map[string]any, len(events))
	columnSet := make(map[string]struct{})
	for i, ev := range events {
		m := flatten(ev)
		flattened[i] = m
		for key := range m {
			columnSet[key] = struct{}{}
		}
	}

	columns := make([]string, 0, len(columnSet))
	for key := range columnSet {
		columns = append(columns, key)
	}
	sort.Strings(columns)

	var b strings.Builder
	b.WriteString(strings.Join(columns, ","))

	for _, m := range flattened {
		b.WriteString("\n")
		for i, col := range columns {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(encodeValue(m[col]))
		}
	}

	return b.String()
}

// flatten はイベントをワイヤ表現のキーで平坦なマップに変換する。
// ゼロ値のフィールドはワイヤ上に現れないため含めない。
func flatten(ev *model.Event) map[string]any {
	m := map[string]any{}
	if ev.ID != "" {
		m["id"] = ev.ID
	}
	if ev.UserID != "" {
		m["userId"] = ev.UserID
	}
	if ev.SessionID != "" {
		m["sessionId"] = ev.SessionID
	}
	if ev.Type != "" {
		m["type"] = ev.Type
	}
	if ev.Timestamp != 0 {
		m["timestamp"] = ev.Timestamp
	}
	if ev.ServerTimestamp != 0 {
		m["serverTimestamp"] = ev.ServerTimestamp
	}
	for key, value := range ev.Data {
		m["data_"+key] = value
	}
	return m
}

// encodeValue は単一セルの値をCSV表現に変換する。
func encodeValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		if strings.Contains(val, ",") {
			return quote(val)
		}
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		// オブジェクト・配列はJSON文字列として埋め込む。
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return quote(string(b))
	}
}

// quote は値をダブルクォートで囲み、内部のクォートを二重化する。
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

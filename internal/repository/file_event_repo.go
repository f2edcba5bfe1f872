package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/kiroku/internal/model"
)

// AppendBatch はイベントのバッチをevents.jsonとユーザー別ファイルに追記する。
// ファイルごとの書き込みは直列化されるが、バッチ全体のアトミック性は保証しない
// （グローバルファイルへの書き込み後、ユーザー別ファイルへの書き込みで失敗しうる）。
func (s *FileStore) AppendBatch(ctx context.Context, events []*model.Event) (int, []string, error) {
	if len(events) == 0 {
		return 0, nil, nil
	}

	s.global.RLock()
	defer s.global.RUnlock()

	serverTS := s.now().UnixMilli()

	byUser := make(map[string][]*model.Event)
	var userIDs []string

	for _, ev := range events {
		// サーバー側で採番・付与する。クライアント値は信頼しない。
		ev.ID = uuid.NewString()
		ev.ServerTimestamp = serverTS

		if _, ok := byUser[ev.UserID]; !ok {
			userIDs = append(userIDs, ev.UserID)
		}
		byUser[ev.UserID] = append(byUser[ev.UserID], ev)
	}

	if err := s.appendToFile(s.eventsPath(), events); err != nil {
		return 0, nil, err
	}

	for _, userID := range userIDs {
		if err := s.appendToFile(s.userPath(userID), byUser[userID]); err != nil {
			return 0, nil, err
		}
	}

	return len(events), userIDs, nil
}

// appendToFile は対象ファイルのミューテックスを保持した状態で
// read-modify-writeを実行する。
func (s *FileStore) appendToFile(path string, events []*model.Event) error {
	l := s.lockFile(path)
	l.Lock()
	defer l.Unlock()

	existing, err := readEventsFile(path)
	if err != nil {
		return err
	}
	existing = append(existing, events...)
	return writeEventsFile(path, existing)
}

// Query は全イベントをスキャンしてフィルタ条件に合致するものを返す。
// client timestamp降順に整列し、同一timestampの相対順序は保存順を維持する。
func (s *FileStore) Query(ctx context.Context, filter model.EventFilter) ([]*model.Event, int64, error) {
	s.global.RLock()
	defer s.global.RUnlock()

	all, err := s.readLocked(s.eventsPath())
	if err != nil {
		return nil, 0, err
	}

	matched := []*model.Event{}
	for _, ev := range all {
		if filter.UserID != "" && ev.UserID != filter.UserID {
			continue
		}
		if filter.Type != "" && ev.Type != filter.Type {
			continue
		}
		if filter.SessionID != "" && ev.SessionID != filter.SessionID {
			continue
		}
		matched = append(matched, ev)
	}

	sortEventsDesc(matched)
	total := int64(len(matched))

	if filter.Limit <= 0 || filter.Offset >= len(matched) {
		return []*model.Event{}, total, nil
	}

	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end], total, nil
}

// ListByUser は指定ユーザーのイベントファイルを読み込んで返す。
// イベントが存在しない場合はKindNotFoundのエラーを返す。
func (s *FileStore) ListByUser(ctx context.Context, userID string) ([]*model.Event, error) {
	s.global.RLock()
	defer s.global.RUnlock()

	events, err := s.readLocked(s.userPath(userID))
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, model.NewNotFoundError(fmt.Sprintf("no events found for user: %s", userID))
	}

	sortEventsDesc(events)
	return events, nil
}

// EraseAll はデータディレクトリ直下の全JSONファイルを削除する。
// バックアップディレクトリは削除しない。
func (s *FileStore) EraseAll(ctx context.Context) error {
	s.global.Lock()
	defer s.global.Unlock()

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return model.NewStorageError("failed to read data directory", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(s.dataDir, entry.Name())); err != nil {
			return model.NewStorageError("failed to remove data file", err)
		}
	}

	return nil
}

// readLocked は対象ファイルのミューテックスを保持してファイルを読み込む。
// 書き込み中の中間状態を観測しないための直列化。
func (s *FileStore) readLocked(path string) ([]*model.Event, error) {
	l := s.lockFile(path)
	l.Lock()
	defer l.Unlock()
	return readEventsFile(path)
}

// sortEventsDesc はイベントをclient timestamp降順に安定ソートする。
func sortEventsDesc(events []*model.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp > events[j].Timestamp
	})
}

// compile-time interface check
var _ EventRepository = (*FileStore)(nil)

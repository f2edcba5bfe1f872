package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/hitoshi/kiroku/internal/model"
)

const (
	eventsFileName = "events.json"
	backupsDirName = "backups"
	backupPrefix   = "backup_"
)

// FileStore はデータディレクトリ上のJSONファイルを使用するイベントストア。
// events.json に全イベント、user_<userId>.json にユーザー別イベントを保持する。
//
// read-modify-write全体をファイル名キーのミューテックスで直列化するため、
// 同一ファイルへの並行書き込みによるlost-updateは発生しない。
// EraseAllとバックアップはストア全体の排他ロックを取得する。
type FileStore struct {
	dataDir string

	// now はserverTimestamp付与とバックアップ命名に使用する時刻源。テストで差し替える。
	now func() time.Time

	// global はストア全体の操作（EraseAll・バックアップ）と
	// 個別ファイル操作の排他に使用する。
	global sync.RWMutex

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore はFileStoreを生成し、データディレクトリを作成する。
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, backupsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &FileStore{
		dataDir: dataDir,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// PingContext はデータディレクトリが書き込み可能であることを確認する。
func (s *FileStore) PingContext(ctx context.Context) error {
	probe := filepath.Join(s.dataDir, ".probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("data directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("failed to remove probe file: %w", err)
	}
	return nil
}

// CreateBackup は全データファイルのスナップショットを作成する。
// バックアップ名は backup_<ISO8601のコロンをダッシュに置換> 形式。
// スナップショット中の書き込みはストア全体のロックでブロックされる。
func (s *FileStore) CreateBackup(ctx context.Context) (string, error) {
	s.global.Lock()
	defer s.global.Unlock()

	timestamp := strings.ReplaceAll(s.now().UTC().Format(time.RFC3339), ":", "-")
	name := backupPrefix + timestamp
	backupDir := filepath.Join(s.dataDir, backupsDirName, name)

	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", model.NewStorageError("failed to create backup directory", err)
	}

	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return "", model.NewStorageError("failed to read data directory", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		src := filepath.Join(s.dataDir, entry.Name())
		dst := filepath.Join(backupDir, entry.Name())
		data, err := os.ReadFile(src)
		if err != nil {
			return "", model.NewStorageError("failed to read data file for backup", err)
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return "", model.NewStorageError("failed to write backup file", err)
		}
	}

	return name, nil
}

// ListBackups は既存バックアップの名前一覧を新しい順で返す。
func (s *FileStore) ListBackups(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dataDir, backupsDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, model.NewStorageError("failed to read backups directory", err)
	}

	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), backupPrefix) {
			names = append(names, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	return names, nil
}

// lockFile はファイル名に対応するミューテックスを取得または作成して返す。
func (s *FileStore) lockFile(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// eventsPath は全イベントファイルのパスを返す。
func (s *FileStore) eventsPath() string {
	return filepath.Join(s.dataDir, eventsFileName)
}

// userPath は指定ユーザーのイベントファイルのパスを返す。
// userIdはクライアント生成の不透明な文字列のため、パス区切り等を
// サニタイズしてデータディレクトリ外への書き込みを防ぐ。
func (s *FileStore) userPath(userID string) string {
	return filepath.Join(s.dataDir, "user_"+sanitizeFileKey(userID)+".json")
}

// sanitizeFileKey はファイル名に使用できない文字をアンダースコアに置換する。
func sanitizeFileKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
}

// readEventsFile はJSON配列ファイルをEventスライスとして読み込む。
// ファイルが存在しない場合は空のスライスを返す。
func readEventsFile(path string) ([]*model.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*model.Event{}, nil
		}
		return nil, model.NewStorageError("failed to read events file", err)
	}

	events := []*model.Event{}
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, model.NewStorageError("failed to parse events file", err)
	}
	return events, nil
}

// writeEventsFile はEventスライスをJSON配列としてファイルに書き込む。
// 一時ファイルへの書き込みとrenameにより、書き込み途中のファイルが
// 読み手から観測されることを防ぐ。
func writeEventsFile(path string, events []*model.Event) error {
	data, err := json.Marshal(events)
	if err != nil {
		return model.NewStorageError("failed to marshal events", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return model.NewStorageError("failed to write events file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return model.NewStorageError("failed to rename events file", err)
	}
	return nil
}

// compile-time interface checks
var (
	_ BackupManager = (*FileStore)(nil)
	_ HealthChecker = (*FileStore)(nil)
)

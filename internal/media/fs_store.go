package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

const stagingDir = "staging"

// FSStore はローカルディスクにメディアを保存する。
// ステージングは <root>/staging/<key>/、プロモート先は <root>/<kind>/<id>/ に置き、
// プロモートはディレクトリのリネームで行う。
type FSStore struct {
	root string
}

// NewFSStore はFSStoreを生成し、ルートとステージングディレクトリを作成する。
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(filepath.Join(root, stagingDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) stagingPath(key string) (string, error) {
	if err := validateSegment(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, stagingDir, key), nil
}

func (s *FSStore) destPath(dest string) (string, error) {
	if err := validateDestination(dest); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(dest)), nil
}

// Stage はステージングディレクトリを作り直してファイルを書き込む。
func (s *FSStore) Stage(_ context.Context, stagingKey string, obj Object, data []byte) error {
	dir, err := s.stagingPath(stagingKey)
	if err != nil {
		return err
	}
	if err := validateSegment(obj.Name); err != nil {
		return err
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to clear staging %s: %w", stagingKey, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging %s: %w", stagingKey, err)
	}
	if err := os.WriteFile(filepath.Join(dir, obj.Name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write staging %s: %w", stagingKey, err)
	}
	return nil
}

// Staged はステージング済みファイルを返す。
func (s *FSStore) Staged(_ context.Context, stagingKey string) (*Object, error) {
	dir, err := s.stagingPath(stagingKey)
	if err != nil {
		return nil, err
	}
	return firstFile(dir)
}

// Move はステージングディレクトリをプロモート先へリネームする。
func (s *FSStore) Move(_ context.Context, stagingKey, dest string) (*Object, error) {
	src, err := s.stagingPath(stagingKey)
	if err != nil {
		return nil, err
	}
	dst, err := s.destPath(dest)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(dst), err)
	}

	// 既存のプロモート先は退避しておき、リネームが成功してから削除する
	backup := ""
	if _, err := os.Stat(dst); err == nil {
		backup = filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".old-"+stagingKey)
		if err := os.RemoveAll(backup); err != nil {
			return nil, fmt.Errorf("failed to clear %s: %w", backup, err)
		}
		if err := os.Rename(dst, backup); err != nil {
			return nil, fmt.Errorf("failed to set aside %s: %w", dest, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat %s: %w", dest, err)
	}

	if err := os.Rename(src, dst); err != nil {
		if backup != "" {
			if rerr := os.Rename(backup, dst); rerr != nil {
				return nil, fmt.Errorf("failed to move %s to %s: %w (restore failed: %v)", stagingKey, dest, err, rerr)
			}
		}
		return nil, fmt.Errorf("failed to move %s to %s: %w", stagingKey, dest, err)
	}

	if backup != "" {
		if err := os.RemoveAll(backup); err != nil {
			slog.Warn("退避したメディアの削除に失敗しました",
				slog.String("path", backup),
				slog.String("error", err.Error()),
			)
		}
	}
	return firstFile(dst)
}

// Lookup はプロモート先のファイルを返す。
func (s *FSStore) Lookup(_ context.Context, dest string) (*Object, error) {
	dir, err := s.destPath(dest)
	if err != nil {
		return nil, err
	}
	return firstFile(dir)
}

// Remove はプロモート先ディレクトリを削除する。
func (s *FSStore) Remove(_ context.Context, dest string) error {
	dir, err := s.destPath(dest)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove %s: %w", dest, err)
	}
	return nil
}

// ListStaged はステージングディレクトリ直下のキーを返す。
func (s *FSStore) ListStaged(_ context.Context) ([]StagedEntry, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, stagingDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []StagedEntry{}, nil
		}
		return nil, fmt.Errorf("failed to list staging: %w", err)
	}

	staged := make([]StagedEntry, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		staged = append(staged, StagedEntry{Key: e.Name(), ModTime: info.ModTime()})
	}
	return staged, nil
}

// Discard はステージングディレクトリを削除する。
func (s *FSStore) Discard(_ context.Context, stagingKey string) error {
	dir, err := s.stagingPath(stagingKey)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to discard %s: %w", stagingKey, err)
	}
	return nil
}

// firstFile はディレクトリ内の最初の通常ファイルを返す。ディレクトリが無ければ (nil, nil)。
func firstFile(dir string) (*Object, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", e.Name(), err)
		}
		return &Object{
			Name:        e.Name(),
			ContentType: contentTypeFromName(e.Name()),
			Size:        info.Size(),
			ModTime:     info.ModTime(),
		}, nil
	}
	return nil, nil
}

var _ Store = (*FSStore)(nil)

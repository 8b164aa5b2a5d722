package cache

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// NewStore 以 basePath 为根目录构建配置树缓存，整站复用一份实例。
func NewStore(basePath string) (Store, error) {
	if basePath == "" {
		return nil, errors.New("config cache path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve config cache path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create config cache path: %w", err)
	}

	return &fileStore{basePath: abs}, nil
}

// fileStore 用单把互斥锁串行化解包，rename 的原子性保证读侧无需加锁。
type fileStore struct {
	basePath string

	mu sync.Mutex
}

func (s *fileStore) Has(hash string) bool {
	path, err := s.treePath(hash)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (s *fileStore) Path(hash string) (string, error) {
	path, err := s.treePath(hash)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	if !info.IsDir() {
		return "", ErrNotFound
	}
	return path, nil
}

func (s *fileStore) Extract(hash string, tarball io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	finalPath, err := s.treePath(hash)
	if err != nil {
		return err
	}
	if info, statErr := os.Stat(finalPath); statErr == nil && info.IsDir() {
		return nil
	}

	tempDir, err := os.MkdirTemp(s.basePath, ".extract-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}

	if err := extractTar(tempDir, tarball); err != nil {
		os.RemoveAll(tempDir)
		return err
	}

	if err := os.Rename(tempDir, finalPath); err != nil {
		os.RemoveAll(tempDir)
		// 并发提交同一 hash 时以先到者为准。
		if info, statErr := os.Stat(finalPath); statErr == nil && info.IsDir() {
			return nil
		}
		return fmt.Errorf("commit config tree: %w", err)
	}
	return nil
}

func (s *fileStore) Remove(hash string) error {
	path, err := s.treePath(hash)
	if err != nil {
		return err
	}
	return os.RemoveAll(path)
}

// treePath 校验 hash 后拼出目录路径，防止路径穿越。
func (s *fileStore) treePath(hash string) (string, error) {
	if hash == "" || strings.HasPrefix(hash, ".") || strings.ContainsAny(hash, `/\`) {
		return "", ErrInvalidHash
	}
	return filepath.Join(s.basePath, hash), nil
}

// extractTar 把 tar 流（自动识别 gzip）解包到 dest，拒绝越界路径。
func extractTar(dest string, r io.Reader) error {
	buffered := bufio.NewReader(r)
	if magic, err := buffered.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, gzErr := gzip.NewReader(buffered)
		if gzErr != nil {
			return fmt.Errorf("open gzip stream: %w", gzErr)
		}
		defer gz.Close()
		return untar(dest, gz)
	}
	return untar(dest, buffered)
}

func untar(dest string, r io.Reader) error {
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		target, err := secureJoin(dest, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := writeFile(target, tr, header.FileInfo().Mode()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(header.Linkname, target); err != nil && !errors.Is(err, fs.ErrExist) {
				return err
			}
		default:
			// 其余类型（设备文件等）在配置树里没有意义，直接跳过。
		}
	}
}

func writeFile(target string, r io.Reader, mode fs.FileMode) error {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}

// secureJoin 将 tar 条目名限定在 dest 之内。
func secureJoin(dest, name string) (string, error) {
	cleaned := filepath.Clean("/" + name)
	target := filepath.Join(dest, cleaned)
	if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
		return "", fmt.Errorf("tar entry escapes destination: %s", name)
	}
	return target, nil
}

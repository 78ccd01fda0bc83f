// Package project 将生成的产物写入项目目录并打包
//
// 目录布局：
//
//	<root>/<slug>/index.html
//	<root>/<slug>.zip        （条目为 <slug>/index.html，路径相对于 root）
//
// 同一 slug 的重复生成直接覆盖，最后写入者生效。
// 文件先写入临时文件再 rename，读取方不会看到写了一半的 index.html 或压缩包。
package project

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"chemsim/internal/shared/model"
	"chemsim/internal/shared/objstore"
	"chemsim/pkg/logging"
)

var (
	// ErrNotFound 项目目录或压缩包不存在
	ErrNotFound = errors.New("project not found")
	// ErrInvalidSlug slug 含有 [a-z0-9_] 以外的字符
	ErrInvalidSlug = errors.New("invalid project slug")
)

// Status 基于文件系统推断的项目状态
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// Mirror 压缩包镜像目标（对象存储）
type Mirror interface {
	UploadFile(ctx context.Context, key, path, contentType string) error
}

// Materializer 项目写入器
type Materializer struct {
	root   string
	mirror Mirror
	logger *logging.Logger
}

// Option 可选配置
type Option func(*Materializer)

// WithMirror 写入压缩包后同步上传到对象存储
func WithMirror(m Mirror) Option {
	return func(mt *Materializer) { mt.mirror = m }
}

// WithLogger 设置日志器
func WithLogger(l *logging.Logger) Option {
	return func(mt *Materializer) { mt.logger = l }
}

// New 创建项目写入器
func New(root string, opts ...Option) *Materializer {
	m := &Materializer{root: filepath.Clean(root), logger: logging.Discard()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Root 项目根目录
func (m *Materializer) Root() string {
	return m.root
}

// EnsureRoot 创建项目根目录
func (m *Materializer) EnsureRoot() error {
	return os.MkdirAll(m.root, 0755)
}

// ProjectDir 项目目录路径
func (m *Materializer) ProjectDir(slug string) string {
	return filepath.Join(m.root, slug)
}

// ArchivePath 压缩包路径
func (m *Materializer) ArchivePath(slug string) string {
	return filepath.Join(m.root, slug+".zip")
}

// Materialize 写入 index.html 并打包，返回压缩包路径
func (m *Materializer) Materialize(ctx context.Context, artifact model.Artifact, slug string) (string, error) {
	if !model.ValidSlug(slug) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := m.ProjectDir(slug)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create project dir: %w", err)
	}

	filename := artifact.Filename
	if filename == "" {
		filename = model.ArtifactFilename
	}
	if err := writeFileAtomic(filepath.Join(dir, filename), []byte(artifact.Content)); err != nil {
		return "", fmt.Errorf("write %s: %w", filename, err)
	}

	archive := m.ArchivePath(slug)
	if err := m.writeArchive(dir, archive); err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}

	if m.mirror != nil {
		key := objstore.ArchiveKey(slug)
		if err := m.mirror.UploadFile(ctx, key, archive, "application/zip"); err != nil {
			m.logger.WithSlug(slug).WithError(err).Warn("archive mirror upload failed")
		} else {
			m.logger.WithSlug(slug).Info("archive mirrored", "key", key)
		}
	}

	return archive, nil
}

// Status 根据文件系统判断项目状态
//
//   - index.html 存在 → completed
//   - 仅目录存在 → processing
//   - 都不存在 → ErrNotFound
func (m *Materializer) Status(slug string) (Status, error) {
	if !model.ValidSlug(slug) {
		return "", ErrInvalidSlug
	}
	dir := m.ProjectDir(slug)
	if _, err := os.Stat(filepath.Join(dir, model.ArtifactFilename)); err == nil {
		return StatusCompleted, nil
	}
	info, err := os.Stat(dir)
	if err == nil && info.IsDir() {
		return StatusProcessing, nil
	}
	return "", ErrNotFound
}

// Archive 返回已存在的压缩包路径
func (m *Materializer) Archive(slug string) (string, error) {
	if !model.ValidSlug(slug) {
		return "", ErrInvalidSlug
	}
	path := m.ArchivePath(slug)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", ErrNotFound
	}
	return path, nil
}

// writeArchive 将项目目录打包为 zip（条目路径相对于项目根目录）
func (m *Materializer) writeArchive(dir, archive string) error {
	tmp, err := os.CreateTemp(filepath.Dir(archive), "."+filepath.Base(archive)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	zw := zip.NewWriter(tmp)
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		rel, err := filepath.Rel(m.root, path)
		if err != nil {
			return err
		}
		return addFile(zw, path, filepath.ToSlash(rel))
	})
	if walkErr != nil {
		zw.Close()
		tmp.Close()
		return walkErr
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, archive)
}

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// writeFileAtomic 写临时文件后 rename
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// UsedFileName 记录 module:use 选中的模块，位于存储目录下。
const UsedFileName = "modules.used"

// UsedFile 持久化“当前正在使用”的模块名，供生成类命令省略模块参数。
type UsedFile struct {
	path string
}

// NewUsedFile 在 storagePath 下定位 modules.used。
func NewUsedFile(storagePath string) *UsedFile {
	return &UsedFile{path: filepath.Join(storagePath, UsedFileName)}
}

// Path 返回文件路径。
func (u *UsedFile) Path() string {
	return u.path
}

// Use 以临时文件 + rename 的方式写入模块名。
func (u *UsedFile) Use(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalidName
	}
	if err := os.MkdirAll(filepath.Dir(u.path), 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(u.path), ".modules-used-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(name); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write used module: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, u.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit used module: %w", err)
	}
	return nil
}

// Current 返回当前使用的模块名；未设置时 ok 为 false。
func (u *UsedFile) Current() (string, bool, error) {
	raw, err := os.ReadFile(u.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("read used module: %w", err)
	}
	name := strings.TrimSpace(string(raw))
	return name, name != "", nil
}

// Forget 删除记录，文件不存在时忽略。
func (u *UsedFile) Forget() error {
	if err := os.Remove(u.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("forget used module: %w", err)
	}
	return nil
}

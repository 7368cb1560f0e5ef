package registry

import (
	"context"
	"errors"

	"github.com/modkit/modkit/internal/activation"
	"github.com/modkit/modkit/internal/module"
)

// DefaultChunkSize 是 Chunks 未指定页大小时的默认值。
const DefaultChunkSize = 50

var (
	// ErrModuleNotFound 只由 Enable/Disable 返回；读路径对未知模块返回空结果。
	ErrModuleNotFound = errors.New("module not found")
	// ErrInvalidName 拒绝空白模块名的写入。
	ErrInvalidName = activation.ErrInvalidName
)

// Repository 是 Registry 与 CachingRegistry 共同实现的能力接口。
type Repository interface {
	// Scan 重新询问模块来源。
	Scan(ctx context.Context) ([]module.Module, error)
	// All 返回已知模块，优先使用进程内记忆。
	All(ctx context.Context) ([]module.Module, error)
	// Find 大小写不敏感地查找模块。
	Find(ctx context.Context, name string) (module.Module, bool, error)
	ByStatus(ctx context.Context, active bool) ([]module.Module, error)
	AllEnabled(ctx context.Context) ([]module.Module, error)
	AllDisabled(ctx context.Context) ([]module.Module, error)
	Status(ctx context.Context, name string) (module.Status, error)
	// Chunks 将 All 的结果按 size 分页，size<=0 时使用 DefaultChunkSize。
	Chunks(ctx context.Context, size int) ([][]module.Module, error)

	Enable(ctx context.Context, name string) error
	Disable(ctx context.Context, name string) error
	SetActive(ctx context.Context, name string, active bool) error
	BulkSetActive(ctx context.Context, names []string, active bool) error
	Delete(ctx context.Context, name string) error
	Reset(ctx context.Context) error

	// ResetModules 丢弃进程内记忆的模块列表，下一次 All 会重新扫描。
	ResetModules()
}

func chunk(mods []module.Module, size int) [][]module.Module {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(mods) == 0 {
		return nil
	}
	pages := make([][]module.Module, 0, (len(mods)+size-1)/size)
	for start := 0; start < len(mods); start += size {
		end := start + size
		if end > len(mods) {
			end = len(mods)
		}
		pages = append(pages, mods[start:end:end])
	}
	return pages
}

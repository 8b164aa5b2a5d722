package cache

import (
	"errors"
	"io"
)

// Store 负责管理按内容哈希寻址的配置树缓存。磁盘布局遵循：
//
//	<basePath>/<hash>/...   # 解包后的配置树
//
// 同一 hash 的内容视为不可变，重复提交是幂等的。
type Store interface {
	// Has 报告 hash 对应的配置树是否已存在。
	Has(hash string) bool

	// Path 返回配置树的绝对路径。若不存在则返回 ErrNotFound。
	Path(hash string) (string, error)

	// Extract 将 tar 格式（可选 gzip 压缩）的配置树解包到 hash 目录。
	// 实现需通过临时目录 + rename 保证原子性；目标已存在时为 no-op。
	Extract(hash string, tarball io.Reader) error

	// Remove 删除整棵配置树，通常用于无效提交的清理。
	Remove(hash string) error
}

// ErrNotFound 表示配置树不存在。
var ErrNotFound = errors.New("config tree not found")

// ErrInvalidHash 表示 hash 含有非法字符，拒绝落盘。
var ErrInvalidHash = errors.New("invalid config hash")

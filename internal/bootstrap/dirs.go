package bootstrap

import (
	"fmt"
	"os"
)

// EnsureDirectories 逐个创建目录及缺失的父级（mkdir -p 语义），已存在时
// 不报错。首个创建失败即返回，调用方必须中止后续步骤。
func EnsureDirectories(paths ...string) error {
	for _, path := range paths {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("创建缓存目录 %s 失败: %w", path, err)
		}
	}
	return nil
}

package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// ConfEntry 描述一条 make.conf 配置：Keys 中的所有子串（大小写不敏感）
// 同时出现在某一行时视为已配置，否则把 Line 追加为新行。
type ConfEntry struct {
	Keys []string
	Line string
}

// MakeConfEntries 返回 bootstrap 需要保证存在的三条配置，顺序固定：
// 构建缓存开关 → 包目录 → 并行度。numCPU 只在 MAKEOPTS 缺失被追加时
// 生效，已有配置不会被重写。
func MakeConfEntries(binpkgDir string, numCPU int) []ConfEntry {
	return []ConfEntry{
		{
			Keys: []string{"features", "buildpkg"},
			Line: `FEATURES="${FEATURES} buildpkg"`,
		},
		{
			Keys: []string{"pkgdir"},
			Line: fmt.Sprintf("PKGDIR=%q", binpkgDir),
		},
		{
			Keys: []string{"makeopts"},
			Line: fmt.Sprintf(`MAKEOPTS="-j%d"`, numCPU),
		},
	}
}

// EnsureConfigLine 检查 path 中是否已有匹配 keys 的行，缺失时把 line
// 追加到文件末尾并返回 true。匹配只看键的出现，不比较取值；既有内容
// 从不被改写或重排。文件不存在按“未匹配”处理，追加时顺带创建。
func EnsureConfigLine(path string, keys []string, line string) (bool, error) {
	content, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("读取配置文件失败: %w", err)
	}

	if containsLine(string(content), keys) {
		return false, nil
	}

	return true, appendLine(path, content, line)
}

// containsLine 逐行做大小写不敏感的子串匹配，要求全部 keys 命中同一行。
func containsLine(content string, keys []string) bool {
	for _, raw := range strings.Split(content, "\n") {
		lower := strings.ToLower(raw)
		matched := true
		for _, key := range keys {
			if !strings.Contains(lower, strings.ToLower(key)) {
				matched = false
				break
			}
		}
		if matched && len(keys) > 0 {
			return true
		}
	}
	return false
}

// appendLine 以追加模式写入新行；原文件末尾缺少换行时先补齐，避免与
// 最后一行粘连。
func appendLine(path string, existing []byte, line string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("打开配置文件失败: %w", err)
	}

	payload := line + "\n"
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		payload = "\n" + payload
	}

	_, writeErr := f.WriteString(payload)
	closeErr := f.Close()
	if writeErr != nil {
		return fmt.Errorf("写入配置行失败: %w", writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("关闭配置文件失败: %w", closeErr)
	}
	return nil
}

package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// BuildFields 提供构建任务相关字段，供队列与 HTTP 层日志复用。
func BuildFields(buildID, status string, packages int) logrus.Fields {
	return logrus.Fields{
		"build_id": buildID,
		"status":   status,
		"packages": packages,
	}
}

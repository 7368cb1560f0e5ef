package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RegistryFields 提供注册表操作名、模块名与缓存命中状态字段。
func RegistryFields(op, moduleName string, cacheHit bool) logrus.Fields {
	fields := logrus.Fields{
		"op":        op,
		"cache_hit": cacheHit,
	}
	if moduleName != "" {
		fields["module"] = moduleName
	}
	return fields
}

// RequestFields 描述一次管理接口请求。
func RequestFields(requestID, method, path string, status int) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
		"status":     status,
	}
}

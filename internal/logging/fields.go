package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 scope/分类/策略/响应来源字段，供拦截请求日志复用。
func RequestFields(scope, domain, class, strategy, source string) logrus.Fields {
	return logrus.Fields{
		"scope":    scope,
		"domain":   domain,
		"class":    class,
		"strategy": strategy,
		"source":   source,
	}
}

// PartitionFields 描述一次针对分区的操作。
func PartitionFields(scope, partition, action string) logrus.Fields {
	return logrus.Fields{
		"scope":     scope,
		"partition": partition,
		"action":    action,
	}
}

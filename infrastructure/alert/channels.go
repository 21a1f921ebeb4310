package alert

import (
	"sort"

	"go.uber.org/zap"

	"theo-quoter/infrastructure/logger"
)

// LogChannel 把告警写入结构化日志
type LogChannel struct {
	log  *logger.Logger
	name string
}

// NewLogChannel 创建日志告警通道
func NewLogChannel(name string, log *logger.Logger) *LogChannel {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogChannel{log: log, name: name}
}

// Send 按级别映射到 zap 的 info/warn/error。
func (c *LogChannel) Send(a Alert) error {
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]zap.Field, 0, len(keys)+2)
	fields = append(fields, zap.String("alert_level", string(a.Level)), zap.Time("alert_ts", a.Timestamp))
	for _, k := range keys {
		fields = append(fields, zap.Any(k, a.Fields[k]))
	}

	switch a.Level {
	case LevelInfo:
		c.log.Info(a.Message, fields...)
	case LevelWarning:
		c.log.Warn(a.Message, fields...)
	default:
		c.log.Error(a.Message, fields...)
	}
	return nil
}

// Name 返回通道名称
func (c *LogChannel) Name() string {
	return c.name
}

package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "streetgen"

// Logger 在 InitLogger 之前为空实现，便于测试直接使用
var Logger = zap.NewNop()

// InitLogger release 模式输出 JSON，其余模式输出彩色开发日志；每条日志带 service 和 mode
func InitLogger(mode string) error {
	var config zap.Config

	if mode == "release" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
		"mode":    mode,
	}

	logger, err := config.Build()
	if err != nil {
		return err
	}

	Logger = logger
	return nil
}

func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

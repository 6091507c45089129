package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FRAMEBRIDGE_"

// LoggingConfig 日志配置
type LoggingConfig struct {
	// Level 日志等级 (trace, debug, info, warn, error)
	Level string `yaml:"level" json:"level"`

	// Format 日志格式 (text, json)
	Format string `yaml:"format" json:"format"`

	// Output 输出目标 (stdout, stderr, file)
	Output string `yaml:"output" json:"output"`

	// File 日志文件路径
	File string `yaml:"file" json:"file"`

	EnableTimestamp bool `yaml:"enable_timestamp" json:"enable_timestamp"`
	EnableCaller    bool `yaml:"enable_caller" json:"enable_caller"`
	EnableColors    bool `yaml:"enable_colors" json:"enable_colors"`
}

// DefaultLoggingConfig 返回默认日志配置
func DefaultLoggingConfig() *LoggingConfig {
	return &LoggingConfig{
		Level:           "info",
		Format:          "text",
		Output:          "stderr",
		EnableTimestamp: true,
		EnableColors:    false,
	}
}

// Validate 验证日志配置
func (c *LoggingConfig) Validate() error {
	if _, err := ParseLogLevel(c.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Level)
	}

	if c.Format != "text" && c.Format != "json" {
		return fmt.Errorf("invalid log format: %s, must be 'text' or 'json'", c.Format)
	}

	switch c.Output {
	case "stdout", "stderr":
	case "file":
		if c.File == "" {
			return fmt.Errorf("log file path is required when output is 'file'")
		}
	default:
		return fmt.Errorf("invalid log output: %s, must be 'stdout', 'stderr', or 'file'", c.Output)
	}

	return nil
}

// Merge 合并日志配置
func (c *LoggingConfig) Merge(other *LoggingConfig) error {
	if other == nil {
		return nil
	}

	if other.Level != "" {
		c.Level = other.Level
	}
	if other.Format != "" {
		c.Format = other.Format
	}
	if other.Output != "" {
		c.Output = other.Output
	}
	if other.File != "" {
		c.File = other.File
	}
	c.EnableTimestamp = other.EnableTimestamp
	c.EnableCaller = other.EnableCaller
	c.EnableColors = other.EnableColors

	return c.Validate()
}

// ApplyEnv overrides fields from FRAMEBRIDGE_LOG_* variables.
func (c *LoggingConfig) ApplyEnv() {
	if level := os.Getenv(EnvPrefix + "LOG_LEVEL"); level != "" {
		c.Level = strings.ToLower(level)
	}
	if format := os.Getenv(EnvPrefix + "LOG_FORMAT"); format != "" {
		c.Format = strings.ToLower(format)
	}
	if output := os.Getenv(EnvPrefix + "LOG_OUTPUT"); output != "" {
		c.Output = strings.ToLower(output)
	}
	if file := os.Getenv(EnvPrefix + "LOG_FILE"); file != "" {
		c.File = file
		if os.Getenv(EnvPrefix+"LOG_OUTPUT") == "" {
			c.Output = "file"
		}
	}
	if v := os.Getenv(EnvPrefix + "LOG_TIMESTAMP"); v != "" {
		c.EnableTimestamp = strings.EqualFold(v, "true")
	}
	if v := os.Getenv(EnvPrefix + "LOG_CALLER"); v != "" {
		c.EnableCaller = strings.EqualFold(v, "true")
	}
	if v := os.Getenv(EnvPrefix + "LOG_COLORS"); v != "" {
		c.EnableColors = strings.EqualFold(v, "true")
	}
}

// ParseLogLevel 解析日志等级，大小写不敏感
func ParseLogLevel(level string) (logrus.Level, error) {
	return logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
}

// SetupLogger 根据配置设置全局 logrus
func SetupLogger(config *LoggingConfig) error {
	if config == nil {
		config = DefaultLoggingConfig()
	}
	return configureLogger(logrus.StandardLogger(), config)
}

func configureLogger(logger *logrus.Logger, config *LoggingConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	level, err := ParseLogLevel(config.Level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	logger.SetLevel(level)

	var output io.Writer
	switch config.Output {
	case "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	case "file":
		file, err := os.OpenFile(config.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", config.File, err)
		}
		output = file
	}
	logger.SetOutput(output)

	if config.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05.000"})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
			FullTimestamp:   config.EnableTimestamp,
			ForceColors:     config.EnableColors,
			DisableColors:   !config.EnableColors,
		})
	}

	logger.SetReportCaller(config.EnableCaller)
	return nil
}

// GetLoggerWithPrefix 获取带组件名的logger
func GetLoggerWithPrefix(prefix string) *logrus.Entry {
	return logrus.WithField("component", prefix)
}

// GetStandardLoggerWithPrefix 获取标准库兼容的logger，供 http.Server.ErrorLog 使用
func GetStandardLoggerWithPrefix(prefix string) *log.Logger {
	return log.New(&logrusWriter{entry: GetLoggerWithPrefix(prefix)}, "", 0)
}

// logrusWriter 将 logrus.Entry 包装为 io.Writer
type logrusWriter struct {
	entry *logrus.Entry
}

func (w *logrusWriter) Write(p []byte) (n int, err error) {
	w.entry.Warn(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

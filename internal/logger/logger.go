package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger represents the application logger
type Logger struct {
	*logrus.Logger
	config LogConfig
}

// LogConfig contains logger configuration
type LogConfig struct {
	Level       string
	Format      string // "json" or "text"
	LogToFile   bool
	LogFilePath string
}

// NewLogger creates a new logger instance
func NewLogger(config LogConfig) (*Logger, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	log.SetLevel(level)

	log.SetOutput(os.Stdout)

	switch strings.ToLower(config.Format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	case "text":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
			ForceColors:     true,
			DisableQuote:    true,
		})
	default:
		log.SetFormatter(&CustomFormatter{})
	}

	if config.LogToFile && config.LogFilePath != "" {
		logDir := filepath.Dir(config.LogFilePath)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}

		file, err := os.OpenFile(config.LogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", config.LogFilePath, err)
		}
		log.SetOutput(file)
	}

	return &Logger{
		Logger: log,
		config: config,
	}, nil
}

// CustomFormatter provides a clean, timestamped format for console output
type CustomFormatter struct{}

func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	timestamp := entry.Time.Format("2006-01-02 15:04:05.000")
	level := strings.ToUpper(entry.Level.String())

	var levelColor string
	switch entry.Level {
	case logrus.DebugLevel:
		levelColor = "\033[36m" // Cyan
	case logrus.InfoLevel:
		levelColor = "\033[32m" // Green
	case logrus.WarnLevel:
		levelColor = "\033[33m" // Yellow
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		levelColor = "\033[31m" // Red
	default:
		levelColor = "\033[0m" // Reset
	}

	resetColor := "\033[0m"

	msg := fmt.Sprintf("%s [%s%s%s] %s",
		timestamp,
		levelColor,
		level,
		resetColor,
		entry.Message)

	if len(entry.Data) > 0 {
		msg += " |"
		for key, value := range entry.Data {
			msg += fmt.Sprintf(" %s=%v", key, value)
		}
	}

	msg += "\n"
	return []byte(msg), nil
}

// WithField adds a field to the logger
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields adds multiple fields to the logger
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// WithError adds an error field to the logger
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithError(err)
}

// WithComponent returns a logger with component context
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.WithField("component", component)
}

// WithToken returns a logger with token context
func (l *Logger) WithToken(mint string) *logrus.Entry {
	return l.WithField("mint", mint)
}

// Discovery-specific logging methods

// LogTokenDiscovered logs when a new token is accepted into the store
func (l *Logger) LogTokenDiscovered(mint, creator string, decimals uint8, supply string) {
	l.WithFields(logrus.Fields{
		"event":    "token_discovered",
		"mint":     mint,
		"creator":  creator,
		"decimals": decimals,
		"supply":   supply,
	}).Info("🔍 New token discovered")
}

// LogTokenRejected logs when a candidate fails classification.
// Classification misses are normal flow, so this stays at debug level.
func (l *Logger) LogTokenRejected(mint, reason string) {
	l.WithFields(logrus.Fields{
		"event":  "token_rejected",
		"mint":   mint,
		"reason": reason,
	}).Debug("✗ Candidate rejected")
}

// LogTokenDuplicate logs a dedup short-circuit
func (l *Logger) LogTokenDuplicate(mint, stage string) {
	l.WithFields(logrus.Fields{
		"event": "token_duplicate",
		"mint":  mint,
		"stage": stage,
	}).Debug("Candidate already seen")
}

// LogLiquidityUpdate logs a liquidity enrichment on a known token
func (l *Logger) LogLiquidityUpdate(mint, pool, platform string, liquiditySOL float64) {
	l.WithFields(logrus.Fields{
		"event":         "liquidity_update",
		"mint":          mint,
		"pool":          pool,
		"platform":      platform,
		"liquidity_sol": liquiditySOL,
	}).Info("💧 Liquidity updated")
}

// LogConnection logs connection status
func (l *Logger) LogConnection(service, status string, details interface{}) {
	l.WithFields(logrus.Fields{
		"event":   "connection",
		"service": service,
		"status":  status,
		"details": details,
	}).Info("🔗 Connection status")
}

// LogHealthSummary logs the aggregate health of one check cycle
func (l *Logger) LogHealthSummary(healthy bool, score float64, issues []string) {
	entry := l.WithFields(logrus.Fields{
		"event":   "health_summary",
		"healthy": healthy,
		"score":   score,
		"issues":  issues,
	})
	if healthy {
		entry.Info("💚 Health check passed")
	} else {
		entry.Warn("🚨 Health check failed")
	}
}

// LogStartup logs application startup information
func (l *Logger) LogStartup(version, network, rpcURL string) {
	l.WithFields(logrus.Fields{
		"event":   "startup",
		"version": version,
		"network": network,
		"rpc_url": rpcURL,
	}).Info("🚀 Radar starting up")
}

// LogShutdown logs application shutdown information
func (l *Logger) LogShutdown(reason string) {
	l.WithFields(logrus.Fields{
		"event":  "shutdown",
		"reason": reason,
	}).Info("🛑 Radar shutting down")
}

// LogLatency logs operation latency
func (l *Logger) LogLatency(operation string, duration time.Duration) {
	l.WithFields(logrus.Fields{
		"event":     "latency",
		"operation": operation,
		"duration":  duration.Milliseconds(),
		"unit":      "ms",
	}).Debug("⏱️ Operation latency")
}

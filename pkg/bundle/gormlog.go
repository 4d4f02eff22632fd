package bundle

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm/logger"
)

// gormLogrusLogger bridges GORM's logger.Interface onto logrus so the status
// db logs through the same logger as the rest of the process.
type gormLogrusLogger struct {
	logger        *logrus.Logger
	slowThreshold time.Duration
}

func newGormLogrusLogger(baseLogger *logrus.Logger) *gormLogrusLogger {
	return &gormLogrusLogger{
		logger:        baseLogger,
		slowThreshold: 200 * time.Millisecond,
	}
}

// LogMode implements logger.Interface
func (l *gormLogrusLogger) LogMode(level logger.LogLevel) logger.Interface {
	return l
}

// Info implements logger.Interface
func (l *gormLogrusLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	l.logger.WithContext(ctx).WithField("source", "gorm").Debugf(msg, args...)
}

// Warn implements logger.Interface
func (l *gormLogrusLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	l.logger.WithContext(ctx).WithField("source", "gorm").Warnf(msg, args...)
}

// Error implements logger.Interface
func (l *gormLogrusLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	l.logger.WithContext(ctx).WithField("source", "gorm").Errorf(msg, args...)
}

// Trace implements logger.Interface
func (l *gormLogrusLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := logrus.Fields{
		"source":  "gorm",
		"elapsed": elapsed.String(),
		"rows":    rows,
		"sql":     sql,
	}

	if err != nil {
		fields["error"] = err
		l.logger.WithContext(ctx).WithFields(fields).Error("status db query failed")
		return
	}

	if elapsed > l.slowThreshold {
		l.logger.WithContext(ctx).WithFields(fields).Warn("slow status db query")
		return
	}

	l.logger.WithContext(ctx).WithFields(fields).Trace("status db query")
}

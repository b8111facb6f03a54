package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	sugar *zap.SugaredLogger
	once  sync.Once
)

// Init builds the process-wide sugared logger from LOG_LEVEL and redirects the
// standard library logger into it. Safe to call more than once.
func Init() *zap.SugaredLogger {
	once.Do(func() {
		var (
			logger *zap.Logger
			err    error
		)
		switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
		case "debug", "dev", "development":
			logger, err = zap.NewDevelopment()
		default:
			logger, err = zap.NewProduction()
		}
		if err != nil {
			logger = zap.NewNop()
		}
		_ = zap.RedirectStdLog(logger)
		sugar = logger.Sugar()
	})
	return sugar
}

// L returns the process logger, initializing it on first use.
func L() *zap.SugaredLogger { return Init() }

// ForCall scopes the process logger to one call.
func ForCall(callID string) *zap.SugaredLogger {
	return Init().With("call_id", callID)
}

// Or returns l when non-nil, the process logger otherwise.
func Or(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l != nil {
		return l
	}
	return Init()
}

// Sync flushes buffered entries.
func Sync() {
	if sugar != nil {
		_ = sugar.Sync()
	}
}

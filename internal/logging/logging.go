// Package logging builds the zap logger and queues important entries for upload
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gmsas95/hemotrack/internal/config"
	"github.com/gmsas95/hemotrack/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger from the logging section of the config
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}

	if cfg.Level != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid logging.level %q: %w", cfg.Level, err)
		}
		zcfg.Level = lvl
	}

	return zcfg.Build()
}

// WithStore tees entries at or above min into the app_logs table, from where
// the log-upload job ships them to the backend
func WithStore(logger *zap.Logger, st *store.Store, min zapcore.Level) *zap.Logger {
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, NewStoreCore(st, min))
	}))
}

// StoreCore is a zapcore.Core that persists entries as AppLog rows
type StoreCore struct {
	zapcore.LevelEnabler
	store  *store.Store
	fields []zapcore.Field
}

// NewStoreCore creates a core writing entries at or above min
func NewStoreCore(st *store.Store, min zapcore.Level) *StoreCore {
	return &StoreCore{LevelEnabler: min, store: st}
}

func (c *StoreCore) With(fields []zapcore.Field) zapcore.Core {
	clone := &StoreCore{LevelEnabler: c.LevelEnabler, store: c.store}
	clone.fields = append(append(clone.fields, c.fields...), fields...)
	return clone
}

func (c *StoreCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *StoreCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	if ent.LoggerName != "" {
		enc.AddString("logger", ent.LoggerName)
	}

	var encoded string
	if len(enc.Fields) > 0 {
		b, err := json.Marshal(enc.Fields)
		if err != nil {
			return err
		}
		encoded = string(b)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.store.Logs.Create(ctx, &store.AppLog{
		Level:     ent.Level.String(),
		Message:   ent.Message,
		Fields:    encoded,
		CreatedAt: ent.Time,
	})
}

func (c *StoreCore) Sync() error { return nil }

// Package cloudsync replicates unsent local rows to a remote realtime datastore
package cloudsync

import (
	"context"
	"fmt"

	"github.com/gmsas95/hemotrack/internal/config"
	"go.uber.org/zap"
)

// Mirror stores opaque JSON copies of local rows under per-installation keys
type Mirror interface {
	Name() string
	Put(ctx context.Context, installationID, table string, id uint, doc interface{}) error
	Close() error
}

// NewMirror builds the mirror selected by cfg.Backend
func NewMirror(cfg config.SyncConfig, logger *zap.Logger) (Mirror, error) {
	switch cfg.Backend {
	case "rest", "":
		return NewRESTMirror(cfg.REST, cfg.RatePerSecond, logger), nil
	case "redis":
		return NewRedisMirror(cfg.Redis, logger), nil
	}
	return nil, fmt.Errorf("unknown sync backend %q", cfg.Backend)
}

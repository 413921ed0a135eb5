package storage

import (
	"context"
	"strings"

	"github.com/smallbiznis/commissions/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("storage",
	fx.Provide(NewFileStore),
)

// NewFileStore saves to the configured driver. Local file:// URIs stay
// readable whichever driver is active.
func NewFileStore(cfg config.Config, log *zap.Logger) (FileStore, error) {
	local, err := NewLocalStore(cfg.StorageRoot)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(cfg.Storage.Driver, config.StorageDriverS3) {
		log.Info("using local file store", zap.String("root", local.root))
		return NewRouter(local, map[string]FileStore{"file": local}), nil
	}

	remote, err := NewS3Store(context.Background(), S3Config{
		Bucket: cfg.Storage.Bucket,
		Prefix: cfg.Storage.Prefix,
		Region: cfg.Storage.Region,
	})
	if err != nil {
		return nil, err
	}
	log.Info("using s3 file store", zap.String("bucket", remote.bucket), zap.String("prefix", remote.prefix))
	return NewRouter(remote, map[string]FileStore{"file": local, "s3": remote}), nil
}

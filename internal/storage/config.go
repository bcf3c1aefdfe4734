package storage

import (
	"context"
	"fmt"

	"github.com/suPer8Hu/roomstage/internal/config"
)

// FromConfig builds the Mirror for cfg.StorageBackend.
func FromConfig(ctx context.Context, cfg config.Config) (*Mirror, error) {
	switch cfg.StorageBackend {
	case "", "file":
		fs, err := NewFileStore(cfg.StorageFilePath, cfg.StoragePublicBaseURL)
		if err != nil {
			return nil, err
		}
		return NewMirror(fs), nil
	case "s3":
		b, err := NewS3Bucket(ctx, S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			ForcePathStyle:  cfg.S3ForcePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return NewMirror(b), nil
	case "supabase":
		return NewMirror(NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseStorageBucket)), nil
	default:
		return nil, fmt.Errorf("unsupported STORAGE_BACKEND=%q", cfg.StorageBackend)
	}
}

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"drainvoice/internal/common"
	"drainvoice/internal/logger"
	"drainvoice/internal/models"
)

const (
	backupPrefix    = "backups/"
	backupURLExpiry = 24 * time.Hour
)

// Exporter produces a snapshot of the local store.
type Exporter interface {
	Export(ctx context.Context) (*models.LocalSnapshot, error)
}

// BackupInfo describes one uploaded snapshot.
type BackupInfo struct {
	Bucket    string    `json:"bucket"`
	Object    string    `json:"object"`
	Size      int64     `json:"size"`
	Invoices  int       `json:"invoices"`
	Pending   int       `json:"pending"`
	CreatedAt time.Time `json:"createdAt"`
	URL       string    `json:"url,omitempty"`
}

// BackupService copies the local store, pending queue included, to object
// storage.
type BackupService struct {
	exporter Exporter
	storage  ObjectStorage
	bucket   string
	now      func() time.Time
	log      zerolog.Logger

	mu           sync.Mutex
	bucketExists bool
}

func NewBackupService(exporter Exporter, storage ObjectStorage, bucket string) *BackupService {
	return &BackupService{
		exporter: exporter,
		storage:  storage,
		bucket:   bucket,
		now:      time.Now,
		log:      logger.WithComponent("backup"),
	}
}

// ObjectName is the key a snapshot taken at t is stored under.
func ObjectName(t time.Time) string {
	return fmt.Sprintf("%sinvoices-%s.json", backupPrefix, t.UTC().Format("20060102T150405Z"))
}

// Run exports the local store and uploads it. A presigned download URL is
// included when one can be generated.
func (s *BackupService) Run(ctx context.Context) (*BackupInfo, error) {
	if s.exporter == nil {
		return nil, fmt.Errorf("backup: %w", common.ErrStorageUnavailable)
	}

	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", s.bucket, err)
	}

	snapshot, err := s.exporter.Export(ctx)
	if err != nil {
		return nil, fmt.Errorf("export local store: %w", err)
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	info := &BackupInfo{
		Bucket:    s.bucket,
		Object:    ObjectName(s.now()),
		Size:      int64(len(data)),
		Invoices:  len(snapshot.Invoices),
		Pending:   len(snapshot.Pending),
		CreatedAt: s.now().UTC(),
	}

	if err := s.storage.Upload(ctx, s.bucket, info.Object, bytes.NewReader(data), info.Size, "application/json"); err != nil {
		return nil, fmt.Errorf("upload %s: %w", info.Object, err)
	}

	if url, err := s.storage.PresignedURL(ctx, s.bucket, info.Object, backupURLExpiry); err != nil {
		s.log.Warn().Err(err).Str("object", info.Object).Msg("Failed to presign backup URL")
	} else {
		info.URL = url
	}

	s.log.Info().
		Str("object", info.Object).
		Int64("bytes", info.Size).
		Int("invoices", info.Invoices).
		Int("pending", info.Pending).
		Msg("Local store backed up")

	return info, nil
}

func (s *BackupService) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bucketExists {
		return nil
	}
	if err := s.storage.EnsureBucketExists(ctx, s.bucket); err != nil {
		return err
	}
	s.bucketExists = true
	return nil
}

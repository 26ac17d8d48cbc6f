// Package service contains the business logic layer.
package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"

	appconfig "github.com/jmylchreest/subledger/internal/config"
)

const eventPrefix = "events/"

// ObjectStore is the subset of the S3 API the event archive uses.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// StorageService archives raw verified webhook payloads to object storage
// (Tigris/S3-compatible) so events can be inspected or replayed.
type StorageService struct {
	client  *s3.Client
	store   ObjectStore
	bucket  string
	enabled bool
	logger  *slog.Logger
	now     func() time.Time
}

// NewStorageService creates a new storage service.
func NewStorageService(cfg *appconfig.Config, logger *slog.Logger) (*StorageService, error) {
	logger = logger.With("component", "event-archive")

	if !cfg.StorageEnabled {
		logger.Info("event archive disabled - no bucket configured")
		return &StorageService{
			enabled: false,
			logger:  logger,
			now:     time.Now,
		}, nil
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(cfg.StorageRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.StorageAccessKey,
			cfg.StorageSecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Custom endpoint for S3-compatible storage (Tigris, MinIO, etc.)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.StorageEndpoint)
		o.UsePathStyle = true
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	logger.Info("event archive initialized",
		"bucket", cfg.StorageBucket,
		"endpoint", cfg.StorageEndpoint,
	)

	svc := NewStorageServiceWithStore(client, cfg.StorageBucket, logger)
	svc.client = client
	return svc, nil
}

// NewStorageServiceWithStore creates an enabled storage service over an existing store.
func NewStorageServiceWithStore(store ObjectStore, bucket string, logger *slog.Logger) *StorageService {
	return &StorageService{
		store:   store,
		bucket:  bucket,
		enabled: true,
		logger:  logger,
		now:     time.Now,
	}
}

// IsEnabled returns whether storage is configured and available.
func (s *StorageService) IsEnabled() bool {
	return s.enabled
}

// Client returns the underlying S3 client (nil if storage is disabled).
func (s *StorageService) Client() *s3.Client {
	return s.client
}

// Bucket returns the configured bucket name.
func (s *StorageService) Bucket() string {
	return s.bucket
}

// ArchivedEvent is one raw webhook payload.
type ArchivedEvent struct {
	GatewayID  string // evt_... or svix msg id
	Type       string
	Payload    []byte
	ReceivedAt time.Time
}

// EventKey builds the archive key: events/yyyy/mm/dd/<gateway id>-<ulid>.json.
// Redeliveries of the same event get distinct keys.
func EventKey(gatewayID string, receivedAt time.Time) string {
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return -1
	}, gatewayID)
	if id == "" {
		id = "unknown"
	}
	return fmt.Sprintf("%s%s/%s-%s.json", eventPrefix, receivedAt.UTC().Format("2006/01/02"), id, ulid.Make().String())
}

// StoreEvent archives a raw payload and returns its key.
// Returns an empty key and no error when storage is disabled.
func (s *StorageService) StoreEvent(ctx context.Context, ev ArchivedEvent) (string, error) {
	if !s.enabled {
		return "", nil
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = s.now()
	}

	key := EventKey(ev.GatewayID, ev.ReceivedAt)

	_, err := s.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(ev.Payload),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"event-id":   ev.GatewayID,
			"event-type": ev.Type,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to archive event: %w", err)
	}

	s.logger.Debug("archived billing event",
		"event_id", ev.GatewayID,
		"event_type", ev.Type,
		"key", key,
		"size_bytes", len(ev.Payload),
	)

	return key, nil
}

// GetEvent returns an archived raw payload.
func (s *StorageService) GetEvent(ctx context.Context, key string) ([]byte, error) {
	if !s.enabled {
		return nil, fmt.Errorf("storage is not enabled")
	}

	output, err := s.store.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get archived event: %w", err)
	}
	defer func() { _ = output.Body.Close() }()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read archived event: %w", err)
	}
	return data, nil
}

// DeleteOldEvents deletes archived events older than maxAge.
// Returns the number of deleted objects.
func (s *StorageService) DeleteOldEvents(ctx context.Context, maxAge time.Duration) (int, error) {
	if !s.enabled || maxAge <= 0 {
		return 0, nil
	}

	cutoff := s.now().Add(-maxAge)
	deleted := 0

	paginator := s3.NewListObjectsV2Paginator(s.store, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(eventPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return deleted, fmt.Errorf("failed to list archived events: %w", err)
		}

		for _, obj := range page.Contents {
			if obj.LastModified == nil || !obj.LastModified.Before(cutoff) {
				continue
			}
			_, err := s.store.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			})
			if err != nil {
				s.logger.Warn("failed to delete archived event",
					"key", aws.ToString(obj.Key),
					"error", err,
				)
				continue
			}
			deleted++
		}
	}

	if deleted > 0 {
		s.logger.Info("event archive cleanup completed",
			"deleted_count", deleted,
			"max_age", maxAge.String(),
		)
	}

	return deleted, nil
}

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// maxObjectSize bounds a JSON document read from the bucket.
const maxObjectSize = 1 << 20

// ObjectGetter is the part of the S3 client the loader needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3LoaderConfig configures an S3Loader.
type S3LoaderConfig struct {
	S3Client     ObjectGetter
	Bucket       string
	Key          string
	CacheTTL     time.Duration // Minimum gap between checks (default 5m)
	ErrorBackoff time.Duration // Wait after a failed fetch (default 1m)
	Logger       *slog.Logger
}

// S3LoadResult is one conditional fetch.
type S3LoadResult struct {
	Data       []byte // Raw JSON, empty when NotChanged
	Etag       string
	FetchTime  time.Time
	NotChanged bool // The object still matches the cached ETag
}

// S3Loader reads a JSON object with If-None-Match so an unchanged object
// costs a 304 instead of a download. A missing object is not an error: the
// caller keeps its static values.
type S3Loader struct {
	client       ObjectGetter
	bucket       string
	key          string
	cacheTTL     time.Duration
	errorBackoff time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu          sync.RWMutex
	etag        string
	lastFetch   time.Time
	lastCheck   time.Time
	lastError   time.Time
	failures    int
	initialized bool
	fetching    bool
}

// NewS3Loader creates a loader.
func NewS3Loader(cfg S3LoaderConfig) *S3Loader {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.ErrorBackoff == 0 {
		cfg.ErrorBackoff = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &S3Loader{
		client:       cfg.S3Client,
		bucket:       cfg.Bucket,
		key:          cfg.Key,
		cacheTTL:     cfg.CacheTTL,
		errorBackoff: cfg.ErrorBackoff,
		logger:       cfg.Logger.With("component", "s3-loader", "bucket", cfg.Bucket, "key", cfg.Key),
		now:          time.Now,
	}
}

// IsEnabled reports whether a client is configured.
func (l *S3Loader) IsEnabled() bool {
	return l.client != nil
}

// NeedsRefresh reports whether a fetch is due: the cache is stale, no fetch is
// running and the loader is not backing off after an error.
func (l *S3Loader) NeedsRefresh() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dueLocked() && !l.backingOffLocked()
}

func (l *S3Loader) dueLocked() bool {
	return !l.fetching && (!l.initialized || l.now().Sub(l.lastCheck) > l.cacheTTL)
}

func (l *S3Loader) backingOffLocked() bool {
	return !l.lastError.IsZero() && l.now().Sub(l.lastError) < l.errorBackoff
}

// Fetch performs one conditional GET. It returns (nil, nil) when the fetch is
// not due, another fetch is running, or the object does not exist.
func (l *S3Loader) Fetch(ctx context.Context) (*S3LoadResult, error) {
	if l.client == nil {
		return nil, nil
	}

	l.mu.Lock()
	if !l.dueLocked() {
		l.mu.Unlock()
		return nil, nil
	}
	l.fetching = true
	etag := l.etag
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.fetching = false
		l.mu.Unlock()
	}()

	input := &s3.GetObjectInput{Bucket: &l.bucket, Key: &l.key}
	if etag != "" {
		quoted := `"` + etag + `"`
		input.IfNoneMatch = &quoted
	}

	resp, err := l.client.GetObject(ctx, input)
	switch {
	case err == nil:
	case isNoSuchKey(err):
		if first := l.markChecked(true); first {
			l.logger.Debug("object not found, using static values")
		}
		return nil, nil
	case isNotModified(err):
		l.markChecked(false)
		return &S3LoadResult{Etag: etag, NotChanged: true}, nil
	default:
		l.markFailed()
		l.logger.Error("failed to fetch object", "error", err, "retry_after", l.errorBackoff.String())
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxObjectSize+1))
	if err == nil && len(data) > maxObjectSize {
		err = fmt.Errorf("object larger than %d bytes", maxObjectSize)
	}
	if err == nil && !json.Valid(data) {
		err = errors.New("object is not valid JSON")
	}
	if err != nil {
		l.markFailed()
		l.logger.Error("failed to read object", "error", err)
		return nil, err
	}

	newEtag := ""
	if resp.ETag != nil {
		newEtag = strings.Trim(*resp.ETag, `"`)
	}
	now := l.now()

	l.mu.Lock()
	l.initialized = true
	l.etag = newEtag
	l.lastFetch = now
	l.lastCheck = now
	l.lastError = time.Time{}
	l.failures = 0
	l.mu.Unlock()

	l.logger.Debug("object fetched", "etag", newEtag, "previous_etag", etag, "size", len(data))
	return &S3LoadResult{Data: data, Etag: newEtag, FetchTime: now}, nil
}

// markChecked records a successful check. missing also starts the error
// backoff so an absent object is not polled every request. It reports
// whether this was the first check.
func (l *S3Loader) markChecked(missing bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	first := !l.initialized
	l.initialized = true
	l.lastCheck = l.now()
	if missing {
		l.lastError = l.lastCheck
	}
	return first
}

func (l *S3Loader) markFailed() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.initialized = true
	l.lastError = l.now()
	l.failures++
}

func isNoSuchKey(err error) bool {
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &noSuchKey)
}

// isNotModified matches the 304 smithy API error returned for If-None-Match.
func isNotModified(err error) bool {
	var apiErr interface{ ErrorCode() string }
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotModified"
}

// S3LoaderStats describes the loader state for logs.
type S3LoaderStats struct {
	Initialized bool      `json:"initialized"`
	Bucket      string    `json:"bucket"`
	Key         string    `json:"key"`
	Etag        string    `json:"etag"`
	LastFetch   time.Time `json:"last_fetch"`
	LastCheck   time.Time `json:"last_check"`
	Failures    int       `json:"failures"` // Consecutive failed fetches
}

// Stats returns a snapshot of the loader state.
func (l *S3Loader) Stats() S3LoaderStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return S3LoaderStats{
		Initialized: l.initialized,
		Bucket:      l.bucket,
		Key:         l.key,
		Etag:        l.etag,
		LastFetch:   l.lastFetch,
		LastCheck:   l.lastCheck,
		Failures:    l.failures,
	}
}

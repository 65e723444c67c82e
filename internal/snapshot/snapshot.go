// Package snapshot archives encrypted copies of the ledger database to
// S3-compatible storage and restores them.
package snapshot

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "modernc.org/sqlite"
)

// s3Client is the subset of *s3.Client used here.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

type Config struct {
	S3         S3Config
	Passphrase string
	// Prefix is prepended to every object key.
	Prefix string
	// Retention is how long snapshots are kept. Zero keeps them forever.
	Retention time.Duration
}

func (c Config) enabled() bool {
	return c.S3.Bucket != "" && c.S3.AccessKey != "" && c.S3.SecretKey != "" && c.Passphrase != ""
}

type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

type Status struct {
	State        State      `json:"state"`
	LastSnapshot *time.Time `json:"lastSnapshot,omitempty"`
	LastKey      string     `json:"lastKey,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// ErrDisabled is returned when storage or the passphrase is not configured.
var ErrDisabled = errors.New("snapshot: not configured")

// Archiver takes consistent copies of a live database with VACUUM INTO,
// seals them and uploads them. Only one snapshot runs at a time.
type Archiver struct {
	cfg    Config
	db     *sql.DB
	client s3Client
	logger *slog.Logger
	now    func() time.Time

	run    sync.Mutex
	mu     sync.RWMutex
	status Status
}

func New(cfg Config, db *sql.DB, logger *slog.Logger) *Archiver {
	a := &Archiver{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "snapshot"),
		now:    func() time.Time { return time.Now().UTC() },
		status: Status{State: StateDisabled},
	}
	if cfg.enabled() {
		a.client = newS3Client(cfg.S3)
		a.status.State = StateIdle
	}
	return a
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

func (a *Archiver) Enabled() bool {
	return a.client != nil
}

func (a *Archiver) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

func (a *Archiver) setStatus(s Status) {
	a.mu.Lock()
	a.status = s
	a.mu.Unlock()
}

func (a *Archiver) fail(err error) error {
	prev := a.Status()
	a.setStatus(Status{State: StateError, LastSnapshot: prev.LastSnapshot, LastKey: prev.LastKey, Error: err.Error()})
	return err
}

// Snapshot uploads one sealed copy of the database and returns its key.
func (a *Archiver) Snapshot(ctx context.Context) (string, error) {
	if a.client == nil {
		return "", ErrDisabled
	}
	a.run.Lock()
	defer a.run.Unlock()

	prev := a.Status()
	a.setStatus(Status{State: StateRunning, LastSnapshot: prev.LastSnapshot, LastKey: prev.LastKey})

	taken := a.now()
	key := a.cfg.Prefix + "ledger-" + taken.Format("2006-01-02T150405Z") + ".db.enc"

	tmpDir, err := os.MkdirTemp("", "marketplace-snapshot-")
	if err != nil {
		return "", a.fail(fmt.Errorf("create temp dir: %w", err))
	}
	defer os.RemoveAll(tmpDir)
	copyPath := filepath.Join(tmpDir, "ledger.db")

	// VACUUM INTO reads a single consistent view, so writers keep going.
	if _, err := a.db.ExecContext(ctx, `VACUUM INTO ?`, copyPath); err != nil {
		return "", a.fail(fmt.Errorf("vacuum into: %w", err))
	}
	plaintext, err := os.ReadFile(copyPath)
	if err != nil {
		return "", a.fail(fmt.Errorf("read snapshot: %w", err))
	}
	sealed, err := Seal(plaintext, a.cfg.Passphrase)
	if err != nil {
		return "", a.fail(fmt.Errorf("seal snapshot: %w", err))
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.cfg.S3.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return "", a.fail(fmt.Errorf("upload snapshot: %w", err))
	}

	a.setStatus(Status{State: StateIdle, LastSnapshot: &taken, LastKey: key})
	a.logger.Info("snapshot uploaded", "key", key, "bytes", len(sealed))
	return key, nil
}

// Prune deletes snapshots older than the retention period and reports how
// many were removed.
func (a *Archiver) Prune(ctx context.Context) (int, error) {
	if a.client == nil || a.cfg.Retention <= 0 {
		return 0, nil
	}
	cutoff := a.now().Add(-a.cfg.Retention)

	var stale []string
	pages := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.cfg.S3.Bucket),
		Prefix: aws.String(a.cfg.Prefix + "ledger-"),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return 0, fmt.Errorf("list snapshots: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.LastModified != nil && obj.LastModified.Before(cutoff) {
				stale = append(stale, aws.ToString(obj.Key))
			}
		}
	}

	deleted := 0
	for _, key := range stale {
		if _, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(a.cfg.S3.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			a.logger.Error("delete snapshot", "key", key, "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// Restore downloads the snapshot at key, verifies it and writes the
// database to dstPath. dstPath must not be open by a running server.
func (a *Archiver) Restore(ctx context.Context, key, dstPath string) error {
	if a.client == nil {
		return ErrDisabled
	}
	if !strings.HasPrefix(key, a.cfg.Prefix) {
		key = a.cfg.Prefix + key
	}

	result, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.cfg.S3.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download snapshot: %w", err)
	}
	sealed, err := io.ReadAll(result.Body)
	result.Body.Close()
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	plaintext, err := Open(sealed, a.cfg.Passphrase)
	if err != nil {
		return err
	}

	tmpPath := dstPath + ".restore"
	if err := os.WriteFile(tmpPath, plaintext, 0600); err != nil {
		return fmt.Errorf("write restored db: %w", err)
	}
	defer os.Remove(tmpPath)

	if err := checkIntegrity(ctx, tmpPath); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, dstPath); err != nil {
		return fmt.Errorf("replace database: %w", err)
	}
	os.Remove(dstPath + "-wal")
	os.Remove(dstPath + "-shm")

	a.logger.Info("snapshot restored", "key", key, "path", dstPath)
	return nil
}

func checkIntegrity(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// Run snapshots and prunes every interval until ctx is done.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) {
	if a.client == nil {
		a.logger.Info("snapshots disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Snapshot(ctx); err != nil {
				a.logger.Error("scheduled snapshot failed", "error", err)
			}
			if n, err := a.Prune(ctx); err != nil {
				a.logger.Error("prune snapshots", "error", err)
			} else if n > 0 {
				a.logger.Info("pruned snapshots", "count", n)
			}
		}
	}
}

// Package backup ships encrypted snapshots of the ticket database to
// S3-compatible storage.
package backup

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/samber/oops"
	_ "modernc.org/sqlite"

	"github.com/dukerupert/ticketeer/internal/errutil"
)

const keyTimeFormat = "2006-01-02T150405Z"

// objectStore is the subset of the S3 client the manager uses.
type objectStore interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config holds S3-compatible storage settings and the snapshot passphrase.
type Config struct {
	Endpoint   string
	Bucket     string
	Region     string
	AccessKey  string
	SecretKey  string
	Prefix     string
	Passphrase string
}

// Configured reports whether enough is set to take a backup.
func (c Config) Configured() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != "" && c.Passphrase != ""
}

func newS3Client(cfg Config) *s3.Client {
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

// Manager takes, lists, prunes and restores snapshots.
type Manager struct {
	db         *sql.DB
	client     objectStore
	bucket     string
	prefix     string
	passphrase string
	logger     *slog.Logger
	now        func() time.Time
}

// NewManager returns a manager backed by S3. An incomplete config is a
// CONFIGURATION error.
func NewManager(cfg Config, db *sql.DB, logger *slog.Logger) (*Manager, error) {
	if !cfg.Configured() {
		return nil, oops.Code(errutil.CodeConfiguration).
			Public("backup bucket, credentials and passphrase are required").
			Errorf("backup not configured")
	}
	return newManager(cfg, db, newS3Client(cfg), logger), nil
}

func newManager(cfg Config, db *sql.DB, client objectStore, logger *slog.Logger) *Manager {
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Manager{
		db:         db,
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     prefix,
		passphrase: cfg.Passphrase,
		logger:     logger.With("component", "backup"),
		now:        time.Now,
	}
}

// Run snapshots the database, encrypts it and uploads it. It returns the
// object key.
func (m *Manager) Run(ctx context.Context) (string, error) {
	dir, err := os.MkdirTemp("", "ticketeer-backup-")
	if err != nil {
		return "", oops.Code(errutil.CodeInternal).With("operation", "create temp dir").Wrap(err)
	}
	defer os.RemoveAll(dir)

	// VACUUM INTO writes a consistent copy without blocking writers for long.
	snapshot := filepath.Join(dir, "snapshot.db")
	if _, err := m.db.ExecContext(ctx, "VACUUM INTO ?", snapshot); err != nil {
		return "", oops.Code(errutil.CodeInternal).With("operation", "snapshot database").Wrap(err)
	}

	plaintext, err := os.ReadFile(snapshot)
	if err != nil {
		return "", oops.Code(errutil.CodeInternal).With("operation", "read snapshot").Wrap(err)
	}
	sealed, err := seal(plaintext, m.passphrase)
	if err != nil {
		return "", oops.Code(errutil.CodeInternal).With("operation", "encrypt snapshot").Wrap(err)
	}

	key := fmt.Sprintf("%sticketeer-%s.db.enc", m.prefix, m.now().UTC().Format(keyTimeFormat))
	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(sealed),
		ContentLength: aws.Int64(int64(len(sealed))),
	})
	if err != nil {
		return "", oops.Code(errutil.CodeDependency).With("key", key).Wrapf(err, "upload snapshot")
	}

	m.logger.Info("backup uploaded", "key", key, "bytes", len(sealed))
	return key, nil
}

// Object describes a stored snapshot.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// List returns the snapshots under the manager's prefix, oldest first.
func (m *Manager) List(ctx context.Context) ([]Object, error) {
	var objects []Object
	p := s3.NewListObjectsV2Paginator(m.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.bucket),
		Prefix: aws.String(m.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, oops.Code(errutil.CodeDependency).Wrapf(err, "list snapshots")
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".db.enc") {
				continue
			}
			objects = append(objects, Object{
				Key:          key,
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	// Keys embed the UTC timestamp, so lexical order is chronological.
	slices.SortFunc(objects, func(a, b Object) int { return strings.Compare(a.Key, b.Key) })
	return objects, nil
}

// Prune deletes snapshots older than retention and returns how many were
// removed.
func (m *Manager) Prune(ctx context.Context, retention time.Duration) (int, error) {
	objects, err := m.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := m.now().Add(-retention)
	removed := 0
	for _, obj := range objects {
		if !obj.LastModified.Before(cutoff) {
			continue
		}
		if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.bucket),
			Key:    aws.String(obj.Key),
		}); err != nil {
			m.logger.Warn("failed to delete snapshot", "key", obj.Key, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		m.logger.Info("backups pruned", "removed", removed, "retention", retention)
	}
	return removed, nil
}

// Restore downloads and decrypts the snapshot at key into dst, which must
// not exist yet, and checks its integrity. The live database is untouched.
func (m *Manager) Restore(ctx context.Context, key, dst string) error {
	result, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return oops.Code(errutil.CodeDependency).With("key", key).Wrapf(err, "download snapshot")
	}
	defer result.Body.Close()

	sealed, err := io.ReadAll(result.Body)
	if err != nil {
		return oops.Code(errutil.CodeDependency).With("key", key).Wrapf(err, "read snapshot")
	}
	plaintext, err := open(sealed, m.passphrase)
	if err != nil {
		return oops.Code(errutil.CodeIntegrity).
			Public("snapshot could not be decrypted").
			With("key", key).
			Wrap(err)
	}

	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return oops.Code(errutil.CodeConflict).With("path", dst).Wrapf(err, "create restore target")
	}
	if _, err := f.Write(plaintext); err != nil {
		f.Close()
		return oops.Code(errutil.CodeInternal).With("path", dst).Wrapf(err, "write restore target")
	}
	if err := f.Close(); err != nil {
		return oops.Code(errutil.CodeInternal).With("path", dst).Wrapf(err, "close restore target")
	}

	if err := checkIntegrity(ctx, dst); err != nil {
		os.Remove(dst)
		return err
	}

	m.logger.Info("backup restored", "key", key, "path", dst)
	return nil
}

func checkIntegrity(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return oops.Code(errutil.CodeInternal).With("path", path).Wrapf(err, "open restored db")
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return oops.Code(errutil.CodeIntegrity).With("path", path).Wrapf(err, "integrity check")
	}
	if result != "ok" {
		return oops.Code(errutil.CodeIntegrity).With("path", path).Errorf("integrity check failed: %s", result)
	}
	return nil
}

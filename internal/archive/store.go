// Package archive keeps rendered periodic reports in S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wolfman30/clinicops/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store archives reports to S3.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
	now      func() time.Time
}

// NewStore creates an archive Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger, now: time.Now}
}

// Enabled returns true if archival is configured (bucket is set).
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

func reportPrefix(rec *ReportRecord) string {
	return fmt.Sprintf("reports/v1/%s/%s/%s", rec.TenantID, rec.Kind, rec.PeriodStart.Format("2006-01-02"))
}

// ArchiveReport writes the rendered HTML and the metrics JSON, then appends
// a manifest line. A manifest failure is logged, not returned.
func (s *Store) ArchiveReport(ctx context.Context, rec *ReportRecord) error {
	if !s.Enabled() {
		return nil
	}
	if rec.GeneratedAt.IsZero() {
		rec.GeneratedAt = s.now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("archive: marshal report: %w", err)
	}

	prefix := reportPrefix(rec)
	htmlKey := prefix + ".html"
	dataKey := prefix + ".json"

	if err := s.put(ctx, htmlKey, []byte(rec.HTML), "text/html; charset=utf-8"); err != nil {
		return err
	}
	if err := s.put(ctx, dataKey, data, "application/json"); err != nil {
		return err
	}

	s.logger.Info("archived report to S3", "tenant_id", rec.TenantID, "kind", rec.Kind, "s3_key", htmlKey)

	entry := ManifestEntry{
		TenantID:    rec.TenantID,
		Kind:        rec.Kind,
		PeriodStart: rec.PeriodStart.Format("2006-01-02"),
		HTMLKey:     htmlKey,
		DataKey:     dataKey,
		ArchivedAt:  rec.GeneratedAt.Format(time.RFC3339),
		Recipients:  rec.Recipients,
	}
	if err := s.AppendManifest(ctx, entry); err != nil {
		s.logger.Warn("failed to append report manifest", "error", err, "tenant_id", rec.TenantID)
	}
	return nil
}

func (s *Store) put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", key, err)
	}
	return nil
}

// AppendManifest appends a JSONL line to the monthly manifest file.
// S3 has no append, so this is a read-modify-write; the report sweep holds a
// cluster lock while it runs.
func (s *Store) AppendManifest(ctx context.Context, entry ManifestEntry) error {
	if !s.Enabled() {
		return nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}

	now := s.now().UTC()
	manifestKey := fmt.Sprintf("reports/v1/manifests/%d-%02d.jsonl", now.Year(), now.Month())

	var existing []byte
	getResp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(manifestKey),
	})
	switch {
	case err == nil:
		existing, _ = io.ReadAll(getResp.Body)
		getResp.Body.Close()
	case isNotFound(err):
		s.logger.Debug("manifest not found, creating new", "key", manifestKey)
	default:
		return fmt.Errorf("archive: s3 get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	return s.put(ctx, manifestKey, buf.Bytes(), "application/x-ndjson")
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "404") || strings.Contains(msg, "not found")
}

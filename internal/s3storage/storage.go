// Package s3storage keeps lab report artifacts in MinIO or any S3 compatible
// store: the uploaded PDF in the raw bucket and the extracted text in the
// processed bucket.
package s3storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/SeedTrace/internal/config"
	"github.com/dharsanguruparan/SeedTrace/internal/model"
)

const (
	labReportPrefix = "lab-reports"
	pdfContentType  = "application/pdf"
	textContentType = "text/plain; charset=utf-8"

	// MaxReportBytes caps how much of a stored PDF is read back.
	MaxReportBytes = 64 << 20
)

// Report identifies one lab report uploaded for an asset.
type Report struct {
	Handle   model.Handle
	ID       string
	FileName string
}

// Key is the object key of the uploaded PDF.
func (r Report) Key() string {
	return path.Join(labReportPrefix, strconv.FormatUint(uint64(r.Handle), 10), r.ID+".pdf")
}

// TextKey is the object key of the extracted text.
func (r Report) TextKey() string { return TextKey(r.Key()) }

// TextKey maps a report key to the key of its extracted text.
func TextKey(reportKey string) string {
	return strings.TrimSuffix(reportKey, path.Ext(reportKey)) + ".txt"
}

// Storage stores lab report PDFs and their extracted text.
type Storage struct {
	client          *minio.Client
	rawBucket       string
	processedBucket string
	region          string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:          client,
		rawBucket:       cfg.RawBucket,
		processedBucket: cfg.ProcessedBucket,
		region:          cfg.S3Region,
	}, nil
}

// EnsureBuckets creates the report and text buckets when missing.
func (s *Storage) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range []string{s.rawBucket, s.processedBucket} {
		exists, err := s.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("check bucket %s: %w", bucket, err)
		}
		if exists {
			continue
		}
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// PutReport stores a report PDF. The token id and original file name are kept
// as object metadata.
func (s *Storage) PutReport(ctx context.Context, rep Report, body io.Reader, size int64) error {
	opts := minio.PutObjectOptions{
		ContentType: pdfContentType,
		UserMetadata: map[string]string{
			"token-id":  strconv.FormatUint(uint64(rep.Handle), 10),
			"file-name": rep.FileName,
		},
	}
	if _, err := s.client.PutObject(ctx, s.rawBucket, rep.Key(), body, size, opts); err != nil {
		return fmt.Errorf("put report %s: %w", rep.Key(), err)
	}
	return nil
}

// ReportPDF reads back a stored report, up to MaxReportBytes.
func (s *Storage) ReportPDF(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.rawBucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(io.LimitReader(obj, MaxReportBytes))
	if err != nil {
		return nil, fmt.Errorf("read report %s: %w", key, err)
	}
	return data, nil
}

// PutText stores the text extracted from the report at reportKey.
func (s *Storage) PutText(ctx context.Context, reportKey, text string) error {
	key := TextKey(reportKey)
	_, err := s.client.PutObject(ctx, s.processedBucket, key, strings.NewReader(text), int64(len(text)),
		minio.PutObjectOptions{ContentType: textContentType})
	if err != nil {
		return fmt.Errorf("put text %s: %w", key, err)
	}
	return nil
}

// TextURL returns a presigned GET URL for the extracted text of rep.
func (s *Storage) TextURL(ctx context.Context, rep Report, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.processedBucket, rep.TextKey(), expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", rep.TextKey(), err)
	}
	return u.String(), nil
}

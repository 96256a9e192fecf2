package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const (
	defaultExportPrefix        = "exports"
	defaultDownloadURLValidity = 15 * time.Minute
)

// ExportUploader writes export artefacts to Cloud Storage and hands back
// time-limited download links.
type ExportUploader struct {
	client *gcs.Client
	signer Signer

	bucket   string
	prefix   string
	validity time.Duration
	now      func() time.Time
}

// ExportUploaderOption customises ExportUploader instances.
type ExportUploaderOption func(*ExportUploader)

// WithExportPrefix overrides the object name prefix used for uploaded exports.
func WithExportPrefix(prefix string) ExportUploaderOption {
	return func(u *ExportUploader) {
		prefix = strings.Trim(strings.TrimSpace(prefix), "/")
		if prefix != "" {
			u.prefix = prefix
		}
	}
}

// WithDownloadValidity overrides how long generated download URLs stay valid.
func WithDownloadValidity(d time.Duration) ExportUploaderOption {
	return func(u *ExportUploader) {
		if d > 0 {
			u.validity = d
		}
	}
}

// WithExportClock injects a custom clock (useful for tests).
func WithExportClock(clock func() time.Time) ExportUploaderOption {
	return func(u *ExportUploader) {
		if clock != nil {
			u.now = clock
		}
	}
}

// NewExportUploader constructs an uploader targeting the given bucket. The
// signer is optional; without one Upload still works but SignedDownloadURL
// returns an error.
func NewExportUploader(client *gcs.Client, bucket string, signer Signer, opts ...ExportUploaderOption) (*ExportUploader, error) {
	if client == nil {
		return nil, errors.New("storage: gcs client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket name is required")
	}

	uploader := &ExportUploader{
		client:   client,
		signer:   signer,
		bucket:   bucket,
		prefix:   defaultExportPrefix,
		validity: defaultDownloadURLValidity,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(uploader)
		}
	}
	return uploader, nil
}

// ObjectName derives the object path for an export created at the current time.
func (u *ExportUploader) ObjectName(name string) string {
	name = strings.Trim(strings.TrimSpace(name), "/")
	if name == "" {
		name = fmt.Sprintf("export-%s.csv", u.now().UTC().Format("20060102-150405"))
	}
	return u.prefix + "/" + name
}

// Upload writes the payload to the bucket and returns the object name.
func (u *ExportUploader) Upload(ctx context.Context, name, contentType string, payload []byte) (string, error) {
	if u == nil || u.client == nil {
		return "", errors.New("storage: export uploader not initialised")
	}
	if len(payload) == 0 {
		return "", errors.New("storage: export payload is empty")
	}

	object := u.ObjectName(name)
	writer := u.client.Bucket(u.bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}

	if _, err := writer.Write(payload); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("storage: write export object %s: %w", object, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("storage: finalise export object %s: %w", object, err)
	}
	return object, nil
}

// SignedDownloadURL generates a V4 signed GET URL for a previously uploaded object.
func (u *ExportUploader) SignedDownloadURL(ctx context.Context, object string) (string, time.Time, error) {
	if u == nil {
		return "", time.Time{}, errors.New("storage: export uploader not initialised")
	}
	if u.signer == nil || strings.TrimSpace(u.signer.Email()) == "" {
		return "", time.Time{}, errors.New("storage: signer is required for download urls")
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return "", time.Time{}, errors.New("storage: object name is required")
	}

	expires := u.now().Add(u.validity)
	signedURL, err := gcs.SignedURL(u.bucket, object, &gcs.SignedURLOptions{
		GoogleAccessID: u.signer.Email(),
		Scheme:         gcs.SigningSchemeV4,
		Method:         "GET",
		Expires:        expires,
		SignBytes: func(payload []byte) ([]byte, error) {
			return u.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("storage: sign download url: %w", err)
	}
	return signedURL, expires, nil
}

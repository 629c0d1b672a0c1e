// Package s3 archives provider outputs into S3-compatible object storage.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/genforge/server/internal/module/generation"
	sharedconfig "github.com/genforge/server/internal/shared/config"
)

const maxObjectSize = 512 << 20

// Uploader copies provider-hosted outputs into the configured bucket before
// the provider's URLs expire.
type Uploader struct {
	client        *s3.Client
	httpClient    *http.Client
	bucket        string
	publicBaseURL string
	logger        *zap.Logger
}

// NewUploader creates an uploader from storage configuration.
func NewUploader(cfg sharedconfig.StorageConfig, logger *zap.Logger) (*Uploader, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.Bucket == "" {
		return nil, errors.New("incomplete storage configuration")
	}

	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithCredentialsProvider(creds),
		awsconfig.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Uploader{
		client:        client,
		httpClient:    &http.Client{Timeout: 2 * time.Minute},
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		logger:        logger,
	}, nil
}

// UploadMany copies each source URL into the bucket under the user's prefix.
// A failed source aborts the batch; the caller logs and the provider URLs
// remain usable until their expiry.
func (u *Uploader) UploadMany(ctx context.Context, userID string, urls []string) ([]generation.UploadedObject, error) {
	objects := make([]generation.UploadedObject, 0, len(urls))
	for _, sourceURL := range urls {
		obj, err := u.uploadOne(ctx, userID, sourceURL)
		if err != nil {
			return nil, fmt.Errorf("upload %s: %w", sourceURL, err)
		}
		objects = append(objects, *obj)
	}
	return objects, nil
}

func (u *Uploader) uploadOne(ctx context.Context, userID, sourceURL string) (*generation.UploadedObject, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch source: status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	key := objectKey(userID, sourceURL, contentType)

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        io.LimitReader(resp.Body, maxObjectSize),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("put object: %w", err)
	}

	u.logger.Debug("archived output",
		zap.String("key", key),
		zap.String("source", sourceURL),
	)

	return &generation.UploadedObject{
		SourceURL: sourceURL,
		Key:       key,
		PublicURL: u.publicBaseURL + "/" + key,
	}, nil
}

// objectKey builds a collision-free key, keeping the source extension when
// one is present and falling back to the content type.
func objectKey(userID, sourceURL, contentType string) string {
	ext := ""
	if parsed, err := url.Parse(sourceURL); err == nil {
		ext = path.Ext(parsed.Path)
	}
	if ext == "" {
		if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	return fmt.Sprintf("outputs/%s/%s%s", userID, uuid.NewString(), ext)
}

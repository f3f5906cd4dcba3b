// Package evidence stores complaint photo evidence: the original image plus
// a generated thumbnail, written to S3 when a bucket is configured and to
// local disk otherwise.
package evidence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"foodsafe-workflow/internal/config"
	"foodsafe-workflow/internal/telemetry"
)

// Stored describes where an attached evidence file ended up.
type Stored struct {
	Key          string `json:"key"`
	ThumbnailKey string `json:"thumbnail_key"`
	Location     string `json:"location"`
}

type uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Store attaches evidence images for workflow records.
type Store struct {
	cfg      config.Config
	uploader uploader
}

// New constructs the evidence store, choosing S3 or local disk from config.
func New(ctx context.Context, cfg config.Config) (*Store, error) {
	var up uploader = &localUploader{baseDir: cfg.EvidenceOutputDir}
	if cfg.EvidenceS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		up = &s3Uploader{client: client, bucket: cfg.EvidenceS3Bucket}
	}
	return &Store{cfg: cfg, uploader: up}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.EvidenceS3Region),
	}
	if cfg.EvidenceS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.EvidenceS3Endpoint,
					HostnameImmutable: cfg.EvidenceS3PathStyle,
					SigningRegion:     cfg.EvidenceS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.EvidenceS3PathStyle
	}), nil
}

// Attach validates and stores an evidence image for a record, generating a
// thumbnail alongside the original.
func (s *Store) Attach(ctx context.Context, recordID, filename string, data []byte) (Stored, error) {
	if len(data) == 0 {
		return Stored{}, errors.New("evidence file is empty")
	}
	if s.cfg.EvidenceMaxBytes > 0 && int64(len(data)) > s.cfg.EvidenceMaxBytes {
		return Stored{}, fmt.Errorf("evidence file too large (>%d bytes)", s.cfg.EvidenceMaxBytes)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Stored{}, fmt.Errorf("decode evidence image: %w", err)
	}

	width := s.cfg.ThumbnailWidth
	height := s.cfg.ThumbnailHeight
	if width == 0 && height == 0 {
		width = 320
	}
	thumb := imaging.Resize(img, width, height, imaging.Lanczos)

	outputFormat := chooseFormat(filename, format)
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, thumb, outputFormat, imaging.JPEGQuality(85)); err != nil {
		return Stored{}, fmt.Errorf("encode thumbnail: %w", err)
	}

	ext := formatExtension(outputFormat)
	base := fmt.Sprintf("%s/%s", recordID, uuid.New().String())
	key := sanitizeKey(fmt.Sprintf("%s.%s", base, ext))
	thumbKey := sanitizeKey(fmt.Sprintf("%s_thumb.%s", base, ext))

	location, err := s.uploader.Upload(ctx, key, data, mimeForFormat(outputFormat))
	if err != nil {
		return Stored{}, fmt.Errorf("upload evidence: %w", err)
	}
	if _, err := s.uploader.Upload(ctx, thumbKey, buf.Bytes(), mimeForFormat(outputFormat)); err != nil {
		return Stored{}, fmt.Errorf("upload thumbnail: %w", err)
	}

	telemetry.EvidenceUploads.Inc()
	return Stored{Key: key, ThumbnailKey: thumbKey, Location: location}, nil
}

func chooseFormat(filename, decodeFormat string) imaging.Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return imaging.PNG
	case ".jpg", ".jpeg":
		return imaging.JPEG
	}
	switch strings.ToLower(decodeFormat) {
	case "png":
		return imaging.PNG
	case "gif":
		return imaging.GIF
	}
	return imaging.JPEG
}

func formatExtension(format imaging.Format) string {
	switch format {
	case imaging.PNG:
		return "png"
	case imaging.GIF:
		return "gif"
	default:
		return "jpg"
	}
}

func mimeForFormat(format imaging.Format) string {
	switch format {
	case imaging.PNG:
		return "image/png"
	case imaging.GIF:
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

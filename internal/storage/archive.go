package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Archiver keeps a copy of every raw upload in object storage before the file
// is forwarded to the verification service.
type Archiver interface {
	ArchiveUpload(ctx context.Context, userID, filename string, data []byte, contentType string) (string, error)
}

type s3Archiver struct {
	client *s3.Client
	bucket string
	logger zerolog.Logger
}

func NewS3Archiver(client *s3.Client, bucket string, logger zerolog.Logger) Archiver {
	return &s3Archiver{
		client: client,
		bucket: bucket,
		logger: logger.With().Str("service", "UploadArchiver").Logger(),
	}
}

func (a *s3Archiver) ArchiveUpload(ctx context.Context, userID, filename string, data []byte, contentType string) (string, error) {
	key := fmt.Sprintf("uploads/%s/%d/%s", userID, time.Now().UnixNano(), filename)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("archive upload to s3: %w", err)
	}

	a.logger.Info().Str("user_id", userID).Str("key", key).Int("size", len(data)).Msg("Upload archived")
	return key, nil
}

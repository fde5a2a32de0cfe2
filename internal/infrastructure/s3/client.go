package s3infra

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/voiceid-api/internal/config"
)

// SampleStore keeps raw audio samples in S3. Keys follow
// samples/{user_id}/{challenge_id}.{ext}; embeddings and scores never land
// here, only the audio the user actually spoke.
type SampleStore struct {
	client *s3.Client
	bucket string
}

// NewClient creates an S3 client. When cfg.AWSEndpointURL is set (LocalStack),
// it overrides the endpoint and enables path-style addressing.
func NewClient(cfg *config.Config) *s3.Client {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}

	if cfg.AWSAccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		panic("failed to load AWS config for S3: " + err.Error())
	}

	clientOpts := []func(*s3.Options){}
	if cfg.AWSEndpointURL != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(awsCfg, clientOpts...)
}

// NewSampleStore creates a SampleStore with the given S3 client and bucket name.
func NewSampleStore(client *s3.Client, bucket string) *SampleStore {
	return &SampleStore{client: client, bucket: bucket}
}

// PutSample uploads one audio sample and returns its object key.
func (s *SampleStore) PutSample(ctx context.Context, userID, challengeID string, audio []byte, format string) (string, error) {
	key := fmt.Sprintf("samples/%s/%s.%s", userID, challengeID, safeExt(format))
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(audio),
		ContentType: aws.String(contentType(format)),
	})
	if err != nil {
		return "", fmt.Errorf("s3 put sample: %w", err)
	}
	return key, nil
}

// PresignedURL generates a time-limited presigned GET URL for audit review.
func (s *SampleStore) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	presigner := s3.NewPresignClient(s.client)
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign get object: %w", err)
	}
	return req.URL, nil
}

// Delete removes a sample from S3.
func (s *SampleStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

func safeExt(format string) string {
	switch strings.ToLower(format) {
	case "ogg":
		return "ogg"
	case "flac":
		return "flac"
	default:
		return "wav"
	}
}

func contentType(format string) string {
	switch strings.ToLower(format) {
	case "ogg":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	default:
		return "audio/wav"
	}
}

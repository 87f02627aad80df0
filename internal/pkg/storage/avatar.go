package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

const (
	AvatarSize     = 256
	MaxAvatarBytes = 5 << 20
	avatarQuality  = 85
)

var (
	ErrAvatarsDisabled = errors.New("avatar upload is disabled")
	ErrAvatarTooLarge  = errors.New("avatar exceeds the upload limit")
	ErrInvalidImage    = errors.New("file is not a supported image")
)

// ObjectPutter is the part of the S3 client the avatar store uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// AvatarStore normalizes profile pictures and stores them in S3.
type AvatarStore struct {
	client ObjectPutter
	config *Config
}

// NewAvatarStore creates an S3 backed store. It fails when avatar upload is disabled.
func NewAvatarStore(ctx context.Context, cfg *Config) (*AvatarStore, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, ErrAvatarsDisabled
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	log.Infof("[Storage] Avatar store ready for bucket: %s", cfg.BucketName)
	return NewAvatarStoreWithClient(s3Client, cfg), nil
}

// NewAvatarStoreWithClient creates a store on an existing client.
func NewAvatarStoreWithClient(client ObjectPutter, cfg *Config) *AvatarStore {
	return &AvatarStore{client: client, config: cfg}
}

// NormalizeAvatar decodes an image, center-crops it to a square of
// AvatarSize pixels and re-encodes it as JPEG.
func NormalizeAvatar(r io.Reader) ([]byte, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	out := imaging.Fill(img, AvatarSize, AvatarSize, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(avatarQuality)); err != nil {
		return nil, fmt.Errorf("encode avatar: %w", err)
	}
	return buf.Bytes(), nil
}

// Upload normalizes the image and stores it under avatars/<user>/. It returns
// the public URL.
func (s *AvatarStore) Upload(ctx context.Context, userID uint, r io.Reader) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(r, MaxAvatarBytes+1))
	if err != nil {
		return "", fmt.Errorf("read avatar: %w", err)
	}
	if len(raw) > MaxAvatarBytes {
		return "", ErrAvatarTooLarge
	}

	data, err := NormalizeAvatar(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("avatars/%d/%s.jpg", userID, uuid.New().String())
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.config.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String("image/jpeg"),
		ContentLength: aws.Int64(int64(len(data))),
		CacheControl:  aws.String("public, max-age=31536000, immutable"),
		Metadata: map[string]string{
			"user-id":       fmt.Sprintf("%d", userID),
			"upload-source": "memberportal-avatar",
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload avatar to S3: %w", err)
	}

	log.Infof("[Storage] Stored avatar for user %d: s3://%s/%s", userID, s.config.BucketName, key)
	return s.config.ObjectURL(key), nil
}

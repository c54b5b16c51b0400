package export

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/relabs-tech/basebone/core/logger"
)

// Archive stores rendered exports and returns a link to download them
type Archive interface {
	Store(ctx context.Context, key, contentType string, data []byte) (url string, err error)
}

// S3Configuration configures an S3 archive. AccessID and AccessKey are optional, the
// default credential chain is used without them.
type S3Configuration struct {
	AWSRegion     string
	AWSBucketName string
	AccessID      string
	AccessKey     string
	KeyPrefix     string
	// Expiry is the validity of download links, default 15 minutes
	Expiry time.Duration
}

// S3Archive is an Archive in an S3 bucket
type S3Archive struct {
	uploader  *manager.Uploader
	presigner *s3.PresignClient
	bucket    string
	keyPrefix string
	expiry    time.Duration
}

// NewS3Archive returns a new S3 archive
func NewS3Archive(ctx context.Context, c S3Configuration) (*S3Archive, error) {
	if c.AWSBucketName == "" {
		return nil, fmt.Errorf("AWSBucketName must not be empty")
	}
	options := []func(*config.LoadOptions) error{config.WithRegion(c.AWSRegion)}
	if c.AccessID != "" {
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessID, c.AccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, err
	}
	if c.Expiry == 0 {
		c.Expiry = 15 * time.Minute
	}
	client := s3.NewFromConfig(cfg)
	logger.Default().Debugln("export archive in S3 bucket", c.AWSBucketName)
	return &S3Archive{
		uploader:  manager.NewUploader(client),
		presigner: s3.NewPresignClient(client),
		bucket:    c.AWSBucketName,
		keyPrefix: c.KeyPrefix,
		expiry:    c.Expiry,
	}, nil
}

// Store implements Archive. It uploads the data and returns a presigned GET link.
func (a *S3Archive) Store(ctx context.Context, key, contentType string, data []byte) (string, error) {
	rlog := logger.FromContext(ctx)
	key = a.keyPrefix + key
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload file, %v", err)
	}
	rlog.Infoln("uploaded export", key)

	resp, err := a.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(a.expiry))
	if err != nil {
		return "", err
	}
	return resp.URL, nil
}

package upload

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ethpandaops/dagsync/pkg/config"
	"github.com/sirupsen/logrus"
)

// s3API is the subset of the S3 client used by s3Store.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// s3Store implements ObjectStore for S3-compatible storage.
type s3Store struct {
	log    logrus.FieldLogger
	cfg    *config.S3Config
	bucket string
	client s3API
}

// Ensure interface compliance.
var _ ObjectStore = (*s3Store)(nil)

// NewS3Opener returns a StoreOpener for S3-compatible storage. Credentials
// come from the default AWS credential chain unless static keys are set in
// cfg. The client is only built when a bucket is opened.
func NewS3Opener(log logrus.FieldLogger, cfg *config.S3Config) StoreOpener {
	return func(ctx context.Context, bucket string) (ObjectStore, error) {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}

		return &s3Store{
			log: log.WithFields(logrus.Fields{
				"component": "s3-store",
				"bucket":    bucket,
			}),
			cfg:    cfg,
			bucket: bucket,
			client: client,
		}, nil
	}
}

// newS3Client builds an S3 client from cfg.
func newS3Client(ctx context.Context, cfg *config.S3Config) (*s3.Client, error) {
	region := cfg.Region
	if region == "" {
		region = config.DefaultS3Region
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	// The default chain resolves lazily; fail here rather than on every Put.
	if awsCfg.Credentials == nil {
		return nil, fmt.Errorf("loading credentials: no credential provider configured")
	}

	if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)

			// Cloud Storage and most S3-compatible stores reject the
			// flexible checksum headers the SDK sends by default.
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		}

		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}

// Put uploads body to key, overwriting any existing object.
func (s *s3Store) Put(
	ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string,
) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	}

	if s.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(s.cfg.StorageClass)
	}

	if s.cfg.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(s.cfg.ACL)
	}

	s.log.WithFields(logrus.Fields{
		"key":  key,
		"size": size,
	}).Debug("Putting object")

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("PutObject s3://%s/%s: %w", s.bucket, key, err)
	}

	return nil
}

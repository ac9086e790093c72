package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	log "github.com/sirupsen/logrus"

	"github.com/cloudydesk/provisioning/shared/status"
)

// S3Options locates an S3-compatible endpoint (AWS, Cloudflare R2, MinIO, localstack)
type S3Options struct {
	Endpoint     string
	Region       string
	UsePathStyle bool
}

// S3Gateway implements Gateway on top of the AWS SDK
type S3Gateway struct {
	client  *s3.Client
	presign *s3.PresignClient
	now     func() time.Time
}

// NewS3Gateway builds a gateway. With a nil provider the SDK default chain
// (environment, shared profile, instance role) resolves credentials.
func NewS3Gateway(ctx context.Context, opts S3Options, creds CredentialsProvider) (*S3Gateway, error) {
	region := opts.Region
	if region == "" {
		region = "auto"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if creds != nil {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(awsCredentials(creds)))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, status.Wrap(status.StorageUnavailable, "load-storage-config", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opts.UsePathStyle
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})

	return &S3Gateway{
		client:  client,
		presign: s3.NewPresignClient(client),
		now:     time.Now,
	}, nil
}

func awsCredentials(p CredentialsProvider) aws.CredentialsProvider {
	if static, ok := p.(StaticCredentials); ok {
		return credentials.NewStaticCredentialsProvider(static.AccessKeyID, static.SecretAccessKey, static.SessionToken)
	}
	return aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		c, err := p.Retrieve(ctx)
		if err != nil {
			return aws.Credentials{}, err
		}
		return aws.Credentials{
			AccessKeyID:     c.AccessKeyID,
			SecretAccessKey: c.SecretAccessKey,
			SessionToken:    c.SessionToken,
			Source:          "cloudydesk-provider",
		}, nil
	}))
}

// EnsureContainer creates the bucket if it does not exist yet
func (g *S3Gateway) EnsureContainer(ctx context.Context, name string) error {
	if err := validateContainer(name); err != nil {
		return status.Wrap(status.StorageUnavailable, "ensure-container", err)
	}

	_, err := g.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
	if err == nil {
		log.Debugf("bucket exists: %s", name)
		return nil
	}
	if !isNotFound(err) {
		return status.Wrap(status.StorageUnavailable, "ensure-container", err)
	}

	log.Infof("creating bucket: %s", name)
	_, err = g.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)})
	if err != nil {
		var owned *s3types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			return nil
		}
		return status.Wrap(status.StorageUnavailable, "ensure-container", err)
	}
	return nil
}

// PutObject uploads body, replacing whatever is stored under key
func (g *S3Gateway) PutObject(ctx context.Context, container, key string, body []byte, metadata map[string]string) error {
	if err := validateKey(key); err != nil {
		return status.Wrap(status.UploadFailed, "put-object", err)
	}

	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(container),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/octet-stream"),
		Metadata:      metadata,
	})
	if err != nil {
		return status.Wrap(status.UploadFailed, "put-object", err)
	}
	return nil
}

// StatObject returns size, modification time and user metadata of key
func (g *S3Gateway) StatObject(ctx context.Context, container, key string) (ObjectInfo, error) {
	if err := validateContainer(container); err != nil {
		return ObjectInfo{}, err
	}
	if err := validateKey(key); err != nil {
		return ObjectInfo{}, err
	}

	out, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return ObjectInfo{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, container, key)
		}
		return ObjectInfo{}, status.Wrap(status.StorageUnavailable, "stat-object", err)
	}

	return ObjectInfo{
		Container:    container,
		Key:          key,
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
		Metadata:     out.Metadata,
	}, nil
}

// IssueSignedGrant presigns a GET for an existing object
func (g *S3Gateway) IssueSignedGrant(ctx context.Context, container, key string, ttl time.Duration) (Grant, error) {
	if err := validateTTL(ttl); err != nil {
		return Grant{}, status.Wrap(status.GrantIssuanceError, "issue-grant", err)
	}

	if _, err := g.StatObject(ctx, container, key); err != nil {
		return Grant{}, status.Wrap(status.GrantIssuanceError, "issue-grant", err)
	}

	issuedAt := g.now()
	req, err := g.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return Grant{}, status.Wrap(status.GrantIssuanceError, "issue-grant", err)
	}

	return Grant{
		Container: container,
		Key:       key,
		URL:       req.URL,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(ttl),
	}, nil
}

func isNotFound(err error) bool {
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchBucket *s3types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return true
	}
	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchBucket", "NoSuchKey":
			return true
		}
	}
	return false
}

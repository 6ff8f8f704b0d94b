// Package storage is the blob store client: an S3-compatible bucket
// addressed by object keys, with durable public URLs derived from the key.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/dmitrijs2005/lscinspector/internal/common"
	sc "github.com/dmitrijs2005/lscinspector/internal/server/config"
)

// Key prefixes of the bucket layout.
const (
	UploadsPrefix  = "uploads/users/"
	MainPrefix     = "main/"
	DemosPrefix    = "demos/"
	WeightsPrefix  = "weights/"
	ProfilesPrefix = "profiles/"
)

// Store is what the services need from the blob store.
type Store interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	PublicURL(key string) string
	KeyFromURL(url string) (string, error)
}

// objectAPI is the subset of *s3.Client used here.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Store implements Store on top of an S3 bucket (MinIO in development).
type S3Store struct {
	client     objectAPI
	bucket     string
	publicBase string
	timeout    time.Duration
}

// NewS3Store builds a client from the S3 settings in cfg.
func NewS3Store(ctx context.Context, cfg *sc.Config) (*S3Store, error) {
	awsCfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(cfg.S3Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3RootUser,     // MINIO_ROOT_USER
			cfg.S3RootPassword, // MINIO_ROOT_PASSWORD
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
		o.UsePathStyle = true
	})

	publicBase := cfg.S3PublicBaseURL
	if publicBase == "" {
		publicBase = strings.TrimRight(cfg.S3BaseEndpoint, "/") + "/" + cfg.S3Bucket
	}

	return NewWithClient(client, cfg.S3Bucket, publicBase, cfg.StorageTimeout), nil
}

// NewWithClient wires a Store around an already configured client.
func NewWithClient(client objectAPI, bucket, publicBase string, timeout time.Duration) *S3Store {
	return &S3Store{
		client:     client,
		bucket:     bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
		timeout:    timeout,
	}
}

func (s *S3Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// ContentType maps a key to the content type it is stored with. Images
// must be png or jpeg; anything under WeightsPrefix is opaque.
func ContentType(key string) (string, error) {
	switch strings.ToLower(path.Ext(key)) {
	case ".png":
		return "image/png", nil
	case ".jpg", ".jpeg":
		return "image/jpeg", nil
	}
	if strings.HasPrefix(key, WeightsPrefix) {
		return "application/octet-stream", nil
	}
	return "", common.Validation(fmt.Sprintf("unsupported file type %q", path.Ext(key)))
}

// Put stores data under key and returns its durable URL.
func (s *S3Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	contentType, err := ContentType(key)
	if err != nil {
		return "", err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return "", common.Dependency("blob store put "+key, statusOf(err), err)
	}
	return s.PublicURL(key), nil
}

// Get reads the object under key. A missing object yields common.ErrNotFound.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, common.NotFound("object " + key)
		}
		return nil, common.Dependency("blob store get "+key, statusOf(err), err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, common.Dependency("blob store read "+key, 0, err)
	}
	return data, nil
}

// Delete removes the object under key. Deleting a missing key succeeds.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return common.Dependency("blob store delete "+key, statusOf(err), err)
	}
	return nil
}

// List returns every key under prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	keys := make([]string, 0)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, common.Dependency("blob store list "+prefix, statusOf(err), err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// PublicURL returns the durable URL of key.
func (s *S3Store) PublicURL(key string) string {
	return s.publicBase + "/" + key
}

// KeyFromURL is the inverse of PublicURL. URLs outside the bucket are a
// validation error.
func (s *S3Store) KeyFromURL(url string) (string, error) {
	key, ok := strings.CutPrefix(url, s.publicBase+"/")
	if !ok || key == "" {
		return "", common.Validation("url does not belong to the blob store")
	}
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	return key, nil
}

func statusOf(err error) int {
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

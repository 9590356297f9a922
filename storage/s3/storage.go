// Package s3 provides a contribution storage keeping one object per contribution
// in an S3 compatible bucket.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"ocm.software/open-component-model/contribution/contribution"
	"ocm.software/open-component-model/contribution/storage/spec/v1alpha1"
)

// Object metadata keys. S3 returns user metadata keys in lower case.
const (
	MetadataDescription = "contribution-description"
	MetadataDisabled    = "contribution-disabled"
)

// conditional writes are retried this often when the object changed concurrently
const maxUpdateAttempts = 3

// ObjectAPI is the subset of the S3 client used by Storage.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// Storage is a contribution.Storage on top of an S3 bucket.
// Name uniqueness relies on conditional writes (If-None-Match / If-Match).
type Storage struct {
	client ObjectAPI
	bucket string
	prefix string
}

var _ contribution.Storage = (*Storage)(nil)

func New(client ObjectAPI, bucket, prefix string) (*Storage, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket must not be empty")
	}
	return &Storage{client: client, bucket: bucket, prefix: prefix}, nil
}

// NewFromSpec creates an S3 client from the default AWS configuration chain
// (environment, shared config, instance roles) adjusted by spec.
func NewFromSpec(ctx context.Context, spec *v1alpha1.S3Storage) (contribution.Storage, error) {
	var opts []func(*config.LoadOptions) error
	if spec.Region != "" {
		opts = append(opts, config.WithRegion(spec.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws configuration failed: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if spec.Endpoint != "" {
			o.BaseEndpoint = aws.String(spec.Endpoint)
		}
		o.UsePathStyle = spec.UsePathStyle
	})
	return New(client, spec.Bucket, spec.Prefix)
}

func (s *Storage) key(name string) string {
	return s.prefix + name
}

func (s *Storage) List(ctx context.Context) ([]*contribution.Contribution, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	var list []*contribution.Contribution
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing bucket %q failed: %w", s.bucket, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			// nested keys do not belong to this storage
			if contribution.ValidateName(name) != nil {
				continue
			}
			c, ok, err := s.Get(ctx, name)
			if err != nil {
				return nil, err
			}
			// removed between listing and reading
			if !ok {
				continue
			}
			list = append(list, c)
		}
	}
	return list, nil
}

func (s *Storage) Get(ctx context.Context, name string) (_ *contribution.Contribution, _ bool, err error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading contribution %q failed: %w", name, err)
	}
	defer func() {
		err = errors.Join(err, out.Body.Close())
	}()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("reading content of contribution %q failed: %w", name, err)
	}
	c, err := fromMetadata(name, content, out.Metadata)
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func (s *Storage) Add(ctx context.Context, c *contribution.Contribution) (*contribution.Contribution, bool, error) {
	if err := contribution.Validate(c); err != nil {
		return nil, false, err
	}
	_, err := s.client.PutObject(ctx, s.putInput(c, func(in *s3.PutObjectInput) {
		in.IfNoneMatch = aws.String("*")
	}))
	if isPreconditionFailed(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storing contribution %q failed: %w", c.Name, err)
	}
	return c.DeepCopy(), true, nil
}

func (s *Storage) Remove(ctx context.Context, c *contribution.Contribution) (bool, error) {
	if err := contribution.Validate(c); err != nil {
		return false, err
	}
	if _, ok, err := s.head(ctx, c.Name); !ok || err != nil {
		return false, err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(c.Name)),
	}); err != nil {
		return false, fmt.Errorf("removing contribution %q failed: %w", c.Name, err)
	}
	return true, nil
}

func (s *Storage) Update(ctx context.Context, c *contribution.Contribution) (*contribution.Contribution, bool, error) {
	if err := contribution.Validate(c); err != nil {
		return nil, false, err
	}
	for range maxUpdateAttempts {
		etag, ok, err := s.head(ctx, c.Name)
		if !ok || err != nil {
			return nil, false, err
		}
		_, err = s.client.PutObject(ctx, s.putInput(c, func(in *s3.PutObjectInput) {
			in.IfMatch = aws.String(etag)
		}))
		if isPreconditionFailed(err) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("updating contribution %q failed: %w", c.Name, err)
		}
		return c.DeepCopy(), true, nil
	}
	return nil, false, fmt.Errorf("updating contribution %q failed: object kept changing concurrently", c.Name)
}

func (s *Storage) head(ctx context.Context, name string) (string, bool, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if isNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading contribution %q failed: %w", name, err)
	}
	return aws.ToString(out.ETag), true, nil
}

func (s *Storage) putInput(c *contribution.Contribution, mutate func(*s3.PutObjectInput)) *s3.PutObjectInput {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(c.Name)),
		Body:          bytes.NewReader(c.Content),
		ContentLength: aws.Int64(int64(len(c.Content))),
		Metadata: map[string]string{
			MetadataDescription: url.QueryEscape(c.Description),
			MetadataDisabled:    strconv.FormatBool(c.Disabled),
		},
	}
	mutate(in)
	return in
}

func fromMetadata(name string, content []byte, metadata map[string]string) (*contribution.Contribution, error) {
	c := &contribution.Contribution{Name: name, Content: content}
	if raw, ok := metadata[MetadataDescription]; ok {
		description, err := url.QueryUnescape(raw)
		if err != nil {
			return nil, fmt.Errorf("contribution %q has an invalid description: %w", name, err)
		}
		c.Description = description
	}
	if raw, ok := metadata[MetadataDisabled]; ok {
		disabled, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("contribution %q has an invalid disabled flag: %w", name, err)
		}
		c.Disabled = disabled
	}
	return c, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey")
}

// isPreconditionFailed reports a failed conditional write. A conflicting
// concurrent conditional write is treated the same way.
func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}

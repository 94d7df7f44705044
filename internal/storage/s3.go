package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// partSize is the S3 minimum for every part but the last.
const partSize = 5 << 20

// S3API is the subset of the S3 client the backend calls.
type S3API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// S3Config configures the client for s3:// handles.
type S3Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Backend promotes recordings into a bucket prefix with multipart uploads.
type S3Backend struct {
	client S3API
}

// NewS3Client builds a client; a custom endpoint switches to path-style for S3-compatible servers.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.UsePathStyle = true
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

func NewS3Backend(client S3API) *S3Backend {
	return &S3Backend{client: client}
}

func (b *S3Backend) Scheme() string { return SchemeS3 }

func (b *S3Backend) Writable(ctx context.Context, loc Location) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(loc.Bucket)})
	if err != nil {
		return describeS3Error("head bucket "+loc.Bucket, err)
	}
	return nil
}

func (b *S3Backend) Open(ctx context.Context, loc Location, name string) (Stream, error) {
	return &s3Stream{
		ctx:    ctx,
		client: b.client,
		bucket: loc.Bucket,
		key:    path.Join(loc.Path, name),
		buf:    bytes.NewBuffer(make([]byte, 0, partSize)),
	}, nil
}

// s3Stream starts a multipart upload only once a full part is buffered,
// so short recordings go up with a single PutObject.
type s3Stream struct {
	ctx      context.Context
	client   S3API
	bucket   string
	key      string
	buf      *bytes.Buffer
	uploadID string
	parts    []types.CompletedPart
	done     bool
}

func (s *s3Stream) Write(p []byte) (int, error) {
	if s.done {
		return 0, errors.New("write on closed stream")
	}
	n, _ := s.buf.Write(p)
	for s.buf.Len() >= partSize {
		if err := s.flushPart(s.buf.Next(partSize)); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (s *s3Stream) flushPart(data []byte) error {
	if s.uploadID == "" {
		out, err := s.client.CreateMultipartUpload(s.ctx, &s3.CreateMultipartUploadInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.key),
			ContentType: aws.String("video/mp4"),
		})
		if err != nil {
			return describeS3Error("create multipart upload", err)
		}
		s.uploadID = aws.ToString(out.UploadId)
	}

	num := int32(len(s.parts) + 1)
	out, err := s.client.UploadPart(s.ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.key),
		UploadId:   aws.String(s.uploadID),
		PartNumber: aws.Int32(num),
		Body:       bytes.NewReader(data),
	})
	if err != nil {
		return describeS3Error(fmt.Sprintf("upload part %d", num), err)
	}
	s.parts = append(s.parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(num)})
	return nil
}

func (s *s3Stream) Commit() error {
	if s.done {
		return errors.New("stream already closed")
	}
	s.done = true

	if s.uploadID == "" {
		_, err := s.client.PutObject(s.ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(s.key),
			Body:        bytes.NewReader(s.buf.Bytes()),
			ContentType: aws.String("video/mp4"),
		})
		if err != nil {
			return describeS3Error("put object", err)
		}
		return nil
	}

	if s.buf.Len() > 0 {
		if err := s.flushPart(s.buf.Bytes()); err != nil {
			s.abortUpload()
			return err
		}
	}
	_, err := s.client.CompleteMultipartUpload(s.ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(s.key),
		UploadId:        aws.String(s.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: s.parts},
	})
	if err != nil {
		s.abortUpload()
		return describeS3Error("complete multipart upload", err)
	}
	return nil
}

func (s *s3Stream) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	return s.abortUpload()
}

func (s *s3Stream) abortUpload() error {
	if s.uploadID == "" {
		return nil
	}
	_, err := s.client.AbortMultipartUpload(context.WithoutCancel(s.ctx), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(s.key),
		UploadId: aws.String(s.uploadID),
	})
	if err != nil {
		return describeS3Error("abort multipart upload", err)
	}
	return nil
}

func describeS3Error(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("s3 %s: %s: %w", op, apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("s3 %s: %w", op, err)
}

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/petermazzocco/recipe-media/internal/transcode"
)

// S3API is the subset of *s3.Client used by S3.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3 keeps assets as flat objects under an optional key prefix in one bucket (S3 or Cloudflare R2).
type S3 struct {
	client S3API
	bucket string
	prefix string
}

func NewS3(client S3API, bucket, prefix string) *S3 {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3) key(name string) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return s.prefix + name, nil
}

func (s *S3) Write(ctx context.Context, base string, v Variant, data []byte) (string, error) {
	key, err := s.key(FileName(base, v))
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(transcode.OutputMimeType),
	})
	if err != nil {
		return "", fmt.Errorf("storage.s3.write: %w", err)
	}
	return key, nil
}

func (s *S3) head(ctx context.Context, name string) (*s3.HeadObjectOutput, error) {
	key, err := s.key(name)
	if err != nil {
		return nil, err
	}
	return s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
}

func (s *S3) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.head(ctx, name)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func (s *S3) ReadMetadata(ctx context.Context, name string) (FileMetadata, error) {
	key, err := s.key(name)
	if err != nil {
		return FileMetadata{}, err
	}
	obj, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return FileMetadata{Name: name}, nil
	}
	if err != nil {
		return FileMetadata{}, err
	}
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return FileMetadata{}, err
	}
	return describe(name, int64(len(data)), aws.ToTime(obj.LastModified), data), nil
}

func (s *S3) Delete(ctx context.Context, base string) (int, error) {
	deleted := 0
	var errs []error
	for _, v := range Variants() {
		ok, err := s.Remove(ctx, FileName(base, v))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			deleted++
		}
	}
	return deleted, errors.Join(errs...)
}

// Remove heads the object first because DeleteObject succeeds for missing keys.
func (s *S3) Remove(ctx context.Context, name string) (bool, error) {
	exists, err := s.Exists(ctx, name)
	if err != nil || !exists {
		return false, err
	}
	key, _ := s.key(name)
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *S3) List(ctx context.Context) ([]FileInfo, error) {
	var files []FileInfo
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if name != path.Base(name) || !ValidName(name) {
				continue
			}
			files = append(files, FileInfo{
				Name:    name,
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
	}
	return files, nil
}

func (s *S3) Ping(ctx context.Context) error {
	_, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(s.prefix),
		MaxKeys: aws.Int32(1),
	})
	return err
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey)
}

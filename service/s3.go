package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
)

// S3Store keeps uploads in a bucket under "uploads/<dir>/<name>" and hands out public object URLs.
type S3Store struct {
	client  *s3.Client
	bucket  string
	baseURL string
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewS3Store(ctx context.Context, bucket, region, accessKeyID, secretAccessKey string, log logrus.FieldLogger) (*S3Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("AWS_S3_BUCKET is required")
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &S3Store{
		client:  s3.NewFromConfig(cfg),
		bucket:  bucket,
		baseURL: fmt.Sprintf("https://%s.s3.%s.amazonaws.com", bucket, region),
		log:     log,
		now:     time.Now,
	}, nil
}

func objectKey(dir, name string) string {
	return strings.TrimPrefix(URLPrefix, "/") + path.Join(dir, name)
}

func (s *S3Store) url(dir, name string) string {
	return s.baseURL + "/" + objectKey(dir, name)
}

func (s *S3Store) Save(ctx context.Context, dir, name string, body io.Reader, contentType string) (StoredFile, error) {
	if !validDir(dir) || !validName(name) {
		return StoredFile{}, fmt.Errorf("invalid upload target %s/%s", dir, name)
	}
	// PutObject needs a known length; uploads are capped small enough to buffer.
	data, err := io.ReadAll(body)
	if err != nil {
		return StoredFile{}, err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey(dir, name)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return StoredFile{}, err
	}
	return StoredFile{
		Filename:    name,
		Directory:   dir,
		Size:        int64(len(data)),
		ContentType: contentType,
		URL:         s.url(dir, name),
		Modified:    s.now(),
	}, nil
}

func (s *S3Store) Remove(ctx context.Context, dir, name string) error {
	if !validDir(dir) || !validName(name) {
		return ErrFileNotFound
	}
	if _, err := s.Stat(ctx, dir, name); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(dir, name)),
	})
	return err
}

func (s *S3Store) Stat(ctx context.Context, dir, name string) (StoredFile, error) {
	if !validDir(dir) || !validName(name) {
		return StoredFile{}, ErrFileNotFound
	}
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(dir, name)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return StoredFile{}, ErrFileNotFound
		}
		return StoredFile{}, err
	}
	f := StoredFile{
		Filename:    name,
		Directory:   dir,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
		URL:         s.url(dir, name),
	}
	if out.LastModified != nil {
		f.Modified = *out.LastModified
	}
	return f, nil
}

func (s *S3Store) List(ctx context.Context, dir string) ([]StoredFile, error) {
	if !validDir(dir) {
		return nil, ErrFileNotFound
	}
	prefix := objectKey(dir, "") + "/"
	files := []StoredFile{}
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if !validName(name) {
				continue
			}
			f := StoredFile{Filename: name, Directory: dir, Size: aws.ToInt64(obj.Size), URL: s.url(dir, name)}
			if obj.LastModified != nil {
				f.Modified = *obj.LastModified
			}
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Modified.After(files[j].Modified) })
	return files, nil
}

// Resolve only claims URLs that point into this bucket.
func (s *S3Store) Resolve(url string) (string, string, bool) {
	if !strings.HasPrefix(url, s.baseURL+"/") {
		return "", "", false
	}
	return splitUploadPath(strings.TrimPrefix(url, s.baseURL))
}

func (s *S3Store) CleanupTemp(ctx context.Context, maxAge time.Duration) (int, error) {
	files, err := s.List(ctx, DirTemp)
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, f := range files {
		if !f.Modified.Before(cutoff) {
			continue
		}
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(objectKey(DirTemp, f.Filename)),
		})
		if err != nil {
			s.log.WithError(err).WithField("key", f.Filename).Warn("could not remove temp object")
			continue
		}
		removed++
	}
	return removed, nil
}

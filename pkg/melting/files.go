package melting

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// FileSource fetches the bytes of an externally referenced matrix file.
type FileSource interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// LocalFiles reads plain paths and file:// URIs. Relative paths resolve
// against Root.
type LocalFiles struct {
	Root string
}

func (l LocalFiles) Fetch(_ context.Context, ref string) ([]byte, error) {
	p := ref
	if strings.HasPrefix(ref, "file://") {
		u, err := url.Parse(ref)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid file reference %s", ref)
		}
		p = u.Path
	}
	if !filepath.IsAbs(p) && l.Root != "" {
		p = filepath.Join(l.Root, p)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read matrix file %s", p)
	}
	return data, nil
}

// S3Config points at AWS S3 or an S3-compatible store such as MinIO.
type S3Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
}

// S3Files reads s3://bucket/key references.
type S3Files struct {
	client *s3.Client
}

// NewS3Files builds a client from the default credential chain, overridden
// by static keys when both are set.
func NewS3Files(ctx context.Context, cfg S3Config) (*S3Files, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load aws config")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &S3Files{client: client}, nil
}

func (s *S3Files) Fetch(ctx context.Context, ref string) ([]byte, error) {
	bucket, key, err := ParseS3URI(ref)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get %s", ref)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", ref)
	}
	return data, nil
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(ref string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(ref, "s3://")
	if !ok {
		return "", "", fmt.Errorf("expected s3:// URI, got %q", ref)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 URI %q needs a bucket and a key", ref)
	}
	return bucket, key, nil
}

// Decompress inflates data when ref names a gzip file.
func Decompress(ref string, data []byte) ([]byte, error) {
	if !strings.HasSuffix(strings.ToLower(ref), ".gz") {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open gzip %s", ref)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to inflate %s", ref)
	}
	return out, nil
}

// Files routes s3:// references to S3 and everything else to local files.
type Files struct {
	Local LocalFiles
	S3    FileSource
}

func (f Files) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, "s3://") {
		if f.S3 == nil {
			return nil, fmt.Errorf("no object store configured for %s", ref)
		}
		return f.S3.Fetch(ctx, ref)
	}
	return f.Local.Fetch(ctx, ref)
}

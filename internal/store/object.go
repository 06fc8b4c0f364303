package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"
)

// objectRemote reads credentials from an S3-compatible bucket. The URL names
// bucket and key prefix (s3://bucket/prefix); endpoint and keys come from
// the environment so the config file never holds storage secrets:
// AIGATE_S3_ENDPOINT, AIGATE_S3_ACCESS_KEY, AIGATE_S3_SECRET_KEY, and
// optionally AIGATE_S3_REGION and AIGATE_S3_INSECURE.
type objectRemote struct {
	client *minio.Client
	bucket string
	prefix string
}

func newObjectRemote(rawURL string) (*objectRemote, error) {
	rest := strings.TrimPrefix(rawURL, "s3://")
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return nil, fmt.Errorf("store url %q names no bucket", rawURL)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	endpoint := os.Getenv("AIGATE_S3_ENDPOINT")
	if endpoint == "" {
		endpoint = "s3.amazonaws.com"
	}
	accessKey := os.Getenv("AIGATE_S3_ACCESS_KEY")
	secretKey := os.Getenv("AIGATE_S3_SECRET_KEY")
	if accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("object store needs AIGATE_S3_ACCESS_KEY and AIGATE_S3_SECRET_KEY")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: os.Getenv("AIGATE_S3_INSECURE") != "true",
		Region: os.Getenv("AIGATE_S3_REGION"),
	})
	if err != nil {
		return nil, fmt.Errorf("object store client: %w", err)
	}
	return &objectRemote{client: client, bucket: bucket, prefix: prefix}, nil
}

func (r *objectRemote) Name() string {
	return "s3://" + r.bucket + "/" + r.prefix
}

// Fetch lists the prefix and downloads every object, a few in parallel.
func (r *objectRemote) Fetch(ctx context.Context) (map[string][]byte, error) {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var keys []string
	for object := range r.client.ListObjects(listCtx, r.bucket, minio.ListObjectsOptions{
		Prefix:    r.prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, object.Err
		}
		if name := strings.TrimPrefix(object.Key, r.prefix); name == "" || strings.HasSuffix(name, "/") {
			continue
		}
		keys = append(keys, object.Key)
	}

	files := make(map[string][]byte, len(keys))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, key := range keys {
		g.Go(func() error {
			obj, err := r.client.GetObject(gctx, r.bucket, key, minio.GetObjectOptions{})
			if err != nil {
				return fmt.Errorf("get %s: %w", key, err)
			}
			defer obj.Close()
			data, err := io.ReadAll(obj)
			if err != nil {
				return fmt.Errorf("read %s: %w", key, err)
			}
			mu.Lock()
			files[strings.TrimPrefix(key, r.prefix)] = data
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

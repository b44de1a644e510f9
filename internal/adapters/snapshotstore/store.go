// Package snapshotstore keeps exported snapshots in an S3-compatible bucket.
package snapshotstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/MostafaZeid/my-supabase-app-sub002/internal/app"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotFound reports a missing snapshot object.
var ErrNotFound = errors.New("snapshot not found")

// defaultRegion is used when no region is configured.
const defaultRegion = "us-east-1"

// Config holds S3 connection settings.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// Store reads and writes snapshot JSON objects.
type Store struct {
	client   *minio.Client
	bucket   string
	region   string
	prefix   string
	initOnce sync.Once
	initErr  error
}

// New validates cfg and builds a store. No network call is made until first use.
func New(cfg Config) (*Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = defaultRegion
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &Store{
		client: client,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(strings.TrimSpace(cfg.Prefix), "/"),
	}, nil
}

// ensureBucket creates the bucket once per store when it is missing.
func (s *Store) ensureBucket(ctx context.Context) error {
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucket)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// Put uploads snap as JSON under key.
func (s *Store) Put(ctx context.Context, key string, snap app.Snapshot) error {
	objectName, err := s.objectKey(key)
	if err != nil {
		return err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("put snapshot %q: %w", objectName, err)
	}
	return nil
}

// Get downloads and decodes the snapshot stored under key.
func (s *Store) Get(ctx context.Context, key string) (app.Snapshot, error) {
	objectName, err := s.objectKey(key)
	if err != nil {
		return app.Snapshot{}, err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return app.Snapshot{}, fmt.Errorf("ensure bucket: %w", err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return app.Snapshot{}, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NoSuchBucket" {
			return app.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, objectName)
		}
		return app.Snapshot{}, err
	}
	var snap app.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return app.Snapshot{}, fmt.Errorf("decode snapshot %q: %w", objectName, err)
	}
	return snap, nil
}

// List returns the keys stored under the configured prefix, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	prefix := ""
	if s.prefix != "" {
		prefix = s.prefix + "/"
	}
	keys := make([]string, 0, 16)
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if obj.Key == "" {
			continue
		}
		keys = append(keys, strings.TrimPrefix(obj.Key, prefix))
	}
	sort.Strings(keys)
	return keys, nil
}

// objectKey joins the configured prefix with key.
func (s *Store) objectKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("snapshot key is required")
	}
	if s.prefix == "" {
		return key, nil
	}
	return path.Join(s.prefix, key), nil
}

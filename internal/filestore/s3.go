package filestore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"beatlib/internal/library"
	"beatlib/internal/model"
)

// S3Store is an S3-backed implementation of the FileStore interface.
// Blobs live under <prefix>content/<hash>, reference counts under
// <prefix>refs/<hash> as decimal text objects. Reference counting assumes a
// single writing process; counts are serialized by an in-process mutex.
type S3Store struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string

	mu      sync.Mutex
	pending map[string]struct{}
}

// S3Options configures an S3Store. AccessKey/SecretKey are optional; when
// empty the SDK's default credential chain is used.
type S3Options struct {
	Bucket    string
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3Store creates a store backed by the given bucket.
func NewS3Store(opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 store requires a bucket")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   opts.Bucket,
		prefix:   opts.Prefix,
		pending:  make(map[string]struct{}),
	}, nil
}

// Add hashes the stream, uploads the blob if no object with that hash exists
// and increments its reference count.
func (s *S3Store) Add(r io.Reader) (model.FileHandle, error) {
	ctx := context.Background()

	data, err := io.ReadAll(r)
	if err != nil {
		return model.FileHandle{}, &library.StorageError{Err: fmt.Errorf("reading content: %w", err)}
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	key := s.blobKey(hash)

	exists, err := s.objectExists(ctx, key)
	if err != nil {
		return model.FileHandle{}, &library.StorageError{Hash: hash, Err: err}
	}
	if !exists {
		_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		if err != nil {
			return model.FileHandle{}, &library.StorageError{Hash: hash, Err: fmt.Errorf("uploading blob: %w", err)}
		}
	}

	if err := s.adjustRef(ctx, hash, +1); err != nil {
		return model.FileHandle{}, err
	}
	return model.FileHandle{Hash: hash, StoragePath: key}, nil
}

// Reference increments reference counts.
func (s *S3Store) Reference(handles []model.FileHandle) error {
	ctx := context.Background()
	for _, h := range handles {
		if err := s.adjustRef(ctx, h.Hash, +1); err != nil {
			return err
		}
	}
	return nil
}

// Dereference decrements reference counts; removal is deferred to Cleanup.
func (s *S3Store) Dereference(handles []model.FileHandle) error {
	ctx := context.Background()
	for _, h := range handles {
		if err := s.adjustRef(ctx, h.Hash, -1); err != nil {
			return err
		}
	}
	return nil
}

// Open returns a reader over the blob's bytes.
func (s *S3Store) Open(handle model.FileHandle) (io.ReadCloser, error) {
	out, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.blobKey(handle.Hash)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, &library.StorageError{Hash: handle.Hash, Err: fmt.Errorf("blob not found")}
		}
		return nil, &library.StorageError{Hash: handle.Hash, Err: err}
	}
	return out.Body, nil
}

// PathFor always fails: S3 objects have no local filesystem path.
func (s *S3Store) PathFor(handle model.FileHandle) (string, error) {
	return "", &library.StorageError{Hash: handle.Hash, Err: fmt.Errorf("s3 store has no physical paths")}
}

// Cleanup deletes blobs whose reference count has reached zero. Eligibility
// is read from the refcount objects in the bucket, not just the in-process
// pending set, so a fresh process still collects blobs dereferenced by an
// earlier one.
func (s *S3Store) Cleanup() (int, error) {
	ctx := context.Background()

	eligible, err := s.zeroRefHashes(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, hash := range eligible {
		s.mu.Lock()
		// Re-check under the lock: the blob may have been re-referenced
		// since it became eligible.
		count, err := s.readRef(ctx, hash)
		if err == nil && count <= 0 {
			s.deleteObject(ctx, s.blobKey(hash))
			s.deleteObject(ctx, s.refKey(hash))
			removed++
		}
		delete(s.pending, hash)
		s.mu.Unlock()
	}
	return removed, nil
}

// zeroRefHashes returns every hash whose refcount object records a zero
// count, unioned with the in-process pending set.
func (s *S3Store) zeroRefHashes(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	s.mu.Lock()
	for hash := range s.pending {
		seen[hash] = struct{}{}
	}
	s.mu.Unlock()

	refPrefix := s.prefix + "refs/"
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(refPrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &library.StorageError{Err: fmt.Errorf("listing refcounts: %w", err)}
		}
		for _, obj := range page.Contents {
			hash := strings.TrimPrefix(aws.ToString(obj.Key), refPrefix)
			count, err := s.readRef(ctx, hash)
			if err != nil {
				return nil, err
			}
			if count <= 0 {
				seen[hash] = struct{}{}
			}
		}
	}

	hashes := make([]string, 0, len(seen))
	for hash := range seen {
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

// Count returns the number of blob objects under the content prefix.
func (s *S3Store) Count() (int, error) {
	ctx := context.Background()
	count := 0
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + "content/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, &library.StorageError{Err: fmt.Errorf("listing blobs: %w", err)}
		}
		count += len(page.Contents)
	}
	return count, nil
}

func (s *S3Store) adjustRef(ctx context.Context, hash string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, err := s.readRef(ctx, hash)
	if err != nil {
		return err
	}
	if count == 0 && delta < 0 {
		exists, err := s.objectExists(ctx, s.blobKey(hash))
		if err != nil {
			return &library.StorageError{Hash: hash, Err: err}
		}
		if !exists {
			return nil // already collected
		}
	}

	count += delta
	if count < 0 {
		count = 0
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.refKey(hash)),
		Body:   strings.NewReader(strconv.FormatInt(count, 10)),
	})
	if err != nil {
		return &library.StorageError{Hash: hash, Err: fmt.Errorf("writing refcount: %w", err)}
	}

	if count == 0 {
		s.pending[hash] = struct{}{}
	} else {
		delete(s.pending, hash)
	}
	return nil
}

func (s *S3Store) readRef(ctx context.Context, hash string) (int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.refKey(hash)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return 0, nil
		}
		return 0, &library.StorageError{Hash: hash, Err: fmt.Errorf("reading refcount: %w", err)}
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return 0, &library.StorageError{Hash: hash, Err: fmt.Errorf("reading refcount: %w", err)}
	}
	count, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, &library.StorageError{Hash: hash, Err: fmt.Errorf("parsing refcount: %w", err)}
	}
	return count, nil
}

func (s *S3Store) objectExists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *S3Store) deleteObject(ctx context.Context, key string) {
	// Best effort: a leftover object is re-collected on the next cleanup.
	_, _ = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
}

func (s *S3Store) blobKey(hash string) string { return s.prefix + "content/" + hash }
func (s *S3Store) refKey(hash string) string  { return s.prefix + "refs/" + hash }

// Compile-time check that S3Store implements library.FileStore
var _ library.FileStore = (*S3Store)(nil)

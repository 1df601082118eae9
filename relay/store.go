package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/vitwit/paygate/types"
)

// Object is one stored file, addressed by its content id.
type Object struct {
	CID         string
	Name        string
	ContentType string
	Data        []byte
}

// Store persists uploaded objects. Put must be idempotent for equal CIDs.
type Store interface {
	Put(ctx context.Context, obj Object) error
}

// Getter is implemented by stores the relay can serve content from.
type Getter interface {
	Get(ctx context.Context, cid string) (*Object, error)
}

// ErrNotFound is returned by Get for unknown content ids.
var ErrNotFound = errors.New("object not found")

// MemoryStore keeps objects in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

func (m *MemoryStore) Put(_ context.Context, obj Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[obj.CID]; ok {
		return nil
	}
	obj.Data = append([]byte(nil), obj.Data...)
	m.objects[obj.CID] = obj
	return nil
}

func (m *MemoryStore) Get(_ context.Context, cid string) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[cid]
	if !ok {
		return nil, ErrNotFound
	}
	obj.Data = append([]byte(nil), obj.Data...)
	return &obj, nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// S3API is the subset of the S3 client the store uses.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store keeps objects in an S3-compatible bucket under their CID.
type S3Store struct {
	client S3API
	bucket string
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(client S3API, bucket string) *S3Store {
	return &S3Store{client: client, bucket: bucket}
}

// NewS3Store builds a client from the relay configuration. A custom endpoint
// (MinIO, localstack) is used as the base endpoint.
func NewS3Store(ctx context.Context, cfg types.RelayConfig) (*S3Store, error) {
	if cfg.S3Bucket == "" {
		return nil, types.NewError(types.ErrConfigurationError, "s3 bucket not configured", nil)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
		o.UsePathStyle = cfg.S3UsePathStyle
	})
	return NewS3StoreWithClient(client, cfg.S3Bucket), nil
}

func (s *S3Store) Put(ctx context.Context, obj Object) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(obj.CID),
		Body:          bytes.NewReader(obj.Data),
		ContentLength: aws.Int64(int64(len(obj.Data))),
		ContentType:   aws.String(obj.ContentType),
		Metadata:      map[string]string{"name": obj.Name},
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", obj.CID, err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, cid string) (*Object, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(cid),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", cid, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", cid, err)
	}
	return &Object{
		CID:         cid,
		Name:        out.Metadata["name"],
		ContentType: aws.ToString(out.ContentType),
		Data:        data,
	}, nil
}

// NewStore picks the backend named in the relay configuration.
func NewStore(ctx context.Context, cfg types.RelayConfig) (Store, error) {
	switch cfg.Store {
	case "", "memory":
		return NewMemoryStore(), nil
	case "s3":
		return NewS3Store(ctx, cfg)
	}
	return nil, types.NewError(types.ErrConfigurationError, fmt.Sprintf("unknown store %q", cfg.Store), nil)
}

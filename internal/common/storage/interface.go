package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned when a key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage stores immutable blobs: submission files and test scripts.
type ObjectStorage interface {
	// PutObject stores size bytes from reader under key.
	PutObject(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	// GetObject opens a reader for key. Caller must close it.
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
	// StatObject returns object metadata.
	StatObject(ctx context.Context, key string) (ObjectStat, error)
}

// ObjectStat contains object metadata.
type ObjectStat struct {
	SizeBytes   int64
	ETag        string
	ContentType string
}

// ReadAll loads an object fully, refusing objects larger than limit bytes when limit > 0.
func ReadAll(ctx context.Context, s ObjectStorage, key string, limit int64) ([]byte, error) {
	reader, err := s.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = reader.Close() }()
	if limit <= 0 {
		return io.ReadAll(reader)
	}
	data, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errors.New("object exceeds size limit")
	}
	return data, nil
}

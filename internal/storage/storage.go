// Package storage defines the blob store abstraction the dossier store writes
// through. Backends exist for the local filesystem, Google Cloud Storage,
// Amazon S3, and memory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Size    int64
	Updated time.Time
}

// BlobStore reads and writes whole objects. PutObject replaces the object
// atomically: readers see either the old or the new content.
type BlobStore interface {
	PutObject(ctx context.Context, key string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
	StatObject(ctx context.Context, key string) (ObjectInfo, error)
	DeleteObject(ctx context.Context, key string) error
}

// Scheme identifies a backend.
type Scheme string

// Supported schemes.
const (
	SchemeFile   Scheme = "file"
	SchemeGCS    Scheme = "gs"
	SchemeS3     Scheme = "s3"
	SchemeMemory Scheme = "memory"
)

// Location is a parsed destination such as gs://bucket/dir/out.parquet.
type Location struct {
	Scheme Scheme
	// Bucket is the bucket for object stores and the directory for files.
	Bucket string
	// Dir is the key prefix inside the bucket, without trailing slash.
	Dir string
	// Name is the destination object name.
	Name string
}

// ParseLocation splits raw into a backend, a container, and an object name.
func ParseLocation(raw string) (Location, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Location{}, fmt.Errorf("destination is required")
	}
	if !strings.Contains(raw, "://") {
		abs, err := filepath.Abs(raw)
		if err != nil {
			return Location{}, fmt.Errorf("resolve %q: %w", raw, err)
		}
		return Location{Scheme: SchemeFile, Bucket: filepath.Dir(abs), Name: filepath.Base(abs)}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("parse destination %q: %w", raw, err)
	}
	scheme := Scheme(strings.ToLower(u.Scheme))
	switch scheme {
	case SchemeFile:
		return ParseLocation(u.Path)
	case SchemeGCS, SchemeS3, SchemeMemory:
	default:
		return Location{}, fmt.Errorf("unsupported destination scheme %q", u.Scheme)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" || strings.HasSuffix(key, "/") {
		return Location{}, fmt.Errorf("destination %q needs a bucket and an object name", raw)
	}
	dir, name := path.Split(key)
	return Location{
		Scheme: scheme,
		Bucket: u.Host,
		Dir:    strings.TrimSuffix(dir, "/"),
		Name:   name,
	}, nil
}

// Key returns the key of a sibling object named name inside the location's
// directory.
func (l Location) Key(name string) string {
	if l.Dir == "" {
		return name
	}
	return l.Dir + "/" + name
}

// String renders the location back to a destination string.
func (l Location) String() string {
	if l.Scheme == SchemeFile {
		return filepath.Join(l.Bucket, l.Name)
	}
	return string(l.Scheme) + "://" + l.Bucket + "/" + l.Key(l.Name)
}

// Stem returns the destination name without its extension.
func (l Location) Stem() string {
	return strings.TrimSuffix(l.Name, path.Ext(l.Name))
}

// Package source opens the raw input of an import: a local file or a
// gs://bucket/object, decoded to UTF-8.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	gcs "cloud.google.com/go/storage"
)

const gcsScheme = "gs://"

// ObjectOpener opens one object of a bucket. It exists so tests can replace
// the GCS client.
type ObjectOpener func(ctx context.Context, bucket, object string) (io.ReadCloser, error)

// Options controls Open.
type Options struct {
	// Encoding is a WHATWG label ("latin1", "windows-1252", "utf-16", ...).
	// Empty means UTF-8.
	Encoding string

	// Objects opens gs:// locations. When nil, a default GCS client is created
	// on first use.
	Objects ObjectOpener
}

// Open returns a UTF-8 reader over location. The caller must Close it.
//
// Errors:
//   - ErrInputNotFound if the file or object does not exist.
//   - ErrInputEmpty if it has zero bytes.
func Open(ctx context.Context, location string, opt Options) (io.ReadCloser, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("%w: empty location", ErrInputNotFound)
	}

	var (
		rc  io.ReadCloser
		err error
	)
	if strings.HasPrefix(location, gcsScheme) {
		rc, err = openObject(ctx, location, opt.Objects)
	} else {
		rc, err = openFile(location)
	}
	if err != nil {
		return nil, err
	}

	dec, err := Decode(rc, opt.Encoding)
	if err != nil {
		rc.Close()
		return nil, err
	}
	return &readCloser{Reader: dec, Closer: rc}, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

func openFile(path string) (io.ReadCloser, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrInputNotFound, path)
	}
	if fi.Size() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrInputEmpty, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// SplitObjectURL splits "gs://bucket/path/to/object".
func SplitObjectURL(location string) (bucket, object string, err error) {
	rest := strings.TrimPrefix(location, gcsScheme)
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("invalid object location %q (want gs://bucket/object)", location)
	}
	return bucket, object, nil
}

func openObject(ctx context.Context, location string, open ObjectOpener) (io.ReadCloser, error) {
	bucket, object, err := SplitObjectURL(location)
	if err != nil {
		return nil, err
	}
	if open == nil {
		open = gcsOpener
	}

	rc, err := open(ctx, bucket, object)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, location)
		}
		return nil, fmt.Errorf("open %s: %w", location, err)
	}
	if size, ok := objectSize(rc); ok && size == 0 {
		rc.Close()
		return nil, fmt.Errorf("%w: %s", ErrInputEmpty, location)
	}
	return rc, nil
}

func objectSize(rc io.ReadCloser) (int64, bool) {
	switch r := rc.(type) {
	case *gcs.Reader:
		return r.Attrs.Size, true
	case *clientReader:
		return r.Attrs.Size, true
	}
	return 0, false
}

// gcsOpener uses application default credentials. The client is closed with
// the returned reader.
func gcsOpener(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}
	return &clientReader{Reader: r, client: client}, nil
}

type clientReader struct {
	*gcs.Reader
	client *gcs.Client
}

func (c *clientReader) Close() error {
	err := c.Reader.Close()
	if cerr := c.client.Close(); err == nil {
		err = cerr
	}
	return err
}

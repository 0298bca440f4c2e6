package transfer

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"gocloud.dev/blob"
	// Register the file:// driver.
	_ "gocloud.dev/blob/fileblob"
)

// BlobSource fetches artifacts from object storage through gocloud.dev/blob.
// The URI names both the bucket and the key: file:///srv/models/a.bin opens
// bucket file:///srv/models and reads key a.bin; s3://bucket/dir/a.bin
// opens bucket s3://bucket and reads key dir/a.bin. Only drivers linked
// into the binary are available.
type BlobSource struct {
	openBucket func(ctx context.Context, bucketURL string) (*blob.Bucket, error)
}

func NewBlobSource() *BlobSource {
	return &BlobSource{openBucket: blob.OpenBucket}
}

func (s *BlobSource) Probe(ctx context.Context, uri string) (int64, error) {
	bucket, key, err := s.open(ctx, uri)
	if err != nil {
		return -1, &NetworkError{Operation: "probe", APIMessage: err.Error(), Err: err}
	}
	defer bucket.Close()

	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		return -1, &NetworkError{Operation: "probe", APIMessage: err.Error(), Err: err}
	}

	return attrs.Size, nil
}

func (s *BlobSource) Open(ctx context.Context, uri string) (*Stream, error) {
	bucket, key, err := s.open(ctx, uri)
	if err != nil {
		return nil, &NetworkError{Operation: "open", APIMessage: err.Error(), Err: err}
	}

	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		bucket.Close()

		return nil, &NetworkError{Operation: "open", APIMessage: err.Error(), Err: err}
	}

	return &Stream{Body: &bucketReader{Reader: r, bucket: bucket}, Size: r.Size()}, nil
}

func (s *BlobSource) open(ctx context.Context, uri string) (*blob.Bucket, string, error) {
	bucketURL, key, err := SplitBlobURI(uri)
	if err != nil {
		return nil, "", err
	}

	bucket, err := s.openBucket(ctx, bucketURL)
	if err != nil {
		return nil, "", fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}

	return bucket, key, nil
}

// SplitBlobURI separates an object URI into the bucket URL and the key.
func SplitBlobURI(uri string) (bucketURL, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("parse %q: %w", uri, err)
	}

	if u.Scheme == "" {
		return "", "", fmt.Errorf("missing scheme in %q", uri)
	}

	b := url.URL{Scheme: u.Scheme, Host: u.Host, RawQuery: u.RawQuery}

	if u.Scheme == "file" {
		dir, file := path.Split(u.Path)
		if file == "" {
			return "", "", fmt.Errorf("no object name in %q", uri)
		}

		b.Path = strings.TrimSuffix(dir, "/")
		if b.Path == "" {
			b.Path = "/"
		}

		return b.String(), file, nil
	}

	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("expected <scheme>://<bucket>/<key>, got %q", uri)
	}

	return b.String(), key, nil
}

// bucketReader closes the bucket together with the reader.
type bucketReader struct {
	*blob.Reader
	bucket *blob.Bucket
}

func (r *bucketReader) Close() error {
	err := r.Reader.Close()
	if cerr := r.bucket.Close(); err == nil {
		err = cerr
	}

	return err
}

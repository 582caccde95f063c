package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// buckets
	_ "gocloud.dev/blob/gcsblob"  // gs:// buckets
	_ "gocloud.dev/blob/s3blob"   // s3:// buckets
	"gocloud.dev/gcerrors"
)

// Remote is a read-mostly artifact bucket, addressed by a gocloud URL such
// as s3://bucket?region=us-east-1, gs://bucket or file:///srv/artifacts.
type Remote struct {
	url    string
	bucket *blob.Bucket
}

// OpenRemote opens the bucket at url.
func OpenRemote(ctx context.Context, url string) (*Remote, error) {
	b, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("opening remote %s: %w", url, err)
	}
	return &Remote{url: url, bucket: b}, nil
}

// URL returns the bucket URL the remote was opened with.
func (r *Remote) URL() string { return r.url }

// Close releases the bucket.
func (r *Remote) Close() error { return r.bucket.Close() }

// Fetch downloads the CSV and metadata for name. A missing object yields an
// error matching ErrNotFound.
func (r *Remote) Fetch(ctx context.Context, name string) (data, metaData []byte, err error) {
	if err := ValidName(name); err != nil {
		return nil, nil, err
	}
	if data, err = r.read(ctx, name+".csv"); err != nil {
		return nil, nil, err
	}
	if metaData, err = r.read(ctx, name+"_metadata.json"); err != nil {
		return nil, nil, err
	}
	return data, metaData, nil
}

// Publish uploads the CSV and metadata for name, metadata last.
func (r *Remote) Publish(ctx context.Context, name string, data, metaData []byte) error {
	if err := ValidName(name); err != nil {
		return err
	}
	if err := r.write(ctx, name+".csv", data, "text/csv"); err != nil {
		return err
	}
	return r.write(ctx, name+"_metadata.json", metaData, "application/json")
}

func (r *Remote) read(ctx context.Context, key string) ([]byte, error) {
	rc, err := r.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, r.url, key)
		}
		return nil, fmt.Errorf("reading %s/%s: %w", r.url, key, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", r.url, key, err)
	}
	return buf.Bytes(), nil
}

func (r *Remote) write(ctx context.Context, key string, data []byte, contentType string) error {
	w, err := r.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", r.url, key, err)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("writing %s/%s: %w", r.url, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("writing %s/%s: %w", r.url, key, err)
	}
	return nil
}

package destination

import (
	"context"
	"fmt"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/azureblob" // azblob://
	_ "gocloud.dev/blob/fileblob"  // file://
	_ "gocloud.dev/blob/gcsblob"   // gs://
	_ "gocloud.dev/blob/memblob"   // mem://
	_ "gocloud.dev/blob/s3blob"    // s3://

	"github.com/keboola/go-envelope-client/pkg/request"
)

// OpenBucket opens a blob bucket by URL, for example "file:///tmp/downloads", "s3://bucket?region=eu-central-1".
// The caller is responsible for closing the bucket.
func OpenBucket(ctx context.Context, bucketURL string) (*blob.Bucket, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf(`cannot open bucket "%s": %w`, redactURL(bucketURL), err)
	}
	return bucket, nil
}

// Parse converts a destination definition to the Destination.
// Supported values are: empty string or "temp", a bucket URL with a scheme, or a local directory path.
// The returned close function must be called when the destination is no longer needed.
func Parse(ctx context.Context, value string) (request.Destination, func() error, error) {
	noop := func() error { return nil }
	switch {
	case value == "" || value == "temp":
		return Temp{}, noop, nil
	case strings.Contains(value, "://"):
		bucket, err := OpenBucket(ctx, value)
		if err != nil {
			return nil, nil, err
		}
		return Bucket{Bucket: bucket}, bucket.Close, nil
	default:
		return Dir{Path: value}, noop, nil
	}
}

func redactURL(v string) string {
	if i := strings.Index(v, "?"); i >= 0 {
		return v[:i]
	}
	return v
}

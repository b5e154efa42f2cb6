// Package s3reader serves io.ReaderAt from an S3 object with ranged GetObject calls.
package s3reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrNotFound is returned by New if HeadObject responds with status code 404.
var ErrNotFound = errors.New("object not found")

// ReaderClient abstracts the APIs that are needed to implement ReaderAt.
type ReaderClient interface {
	GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Options customises New.
type Options struct {
	// ModifyGetObjectInput can be used to modify the GetObject input parameters such as adding ExpectedBucketOwner.
	//
	// Its return value will be used to make the GetObject call.
	ModifyGetObjectInput func(*s3.GetObjectInput) *s3.GetObjectInput

	// ModifyHeadObjectInput can be used to modify the HeadObject input parameters such as adding
	// ExpectedBucketOwner.
	//
	// Its return value will be used to make the HeadObject call.
	ModifyHeadObjectInput func(*s3.HeadObjectInput) *s3.HeadObjectInput

	// Size skips the HeadObject call if positive.
	Size int64

	progress *progressLogger
}

// ReaderAt implements io.ReaderAt by making one ranged GetObject call per ReadAt.
//
// Wrap it with a read-ahead buffer (cursor.Cursor does this) to keep the number of calls small.
type ReaderAt struct {
	ctx                  context.Context
	client               ReaderClient
	bucket, key          string
	size                 int64
	modifyGetObjectInput func(*s3.GetObjectInput) *s3.GetObjectInput
	progress             *progressLogger
}

var _ io.ReaderAt = (*ReaderAt)(nil)

// New returns a ReaderAt for the given bucket and key.
//
// Unless [Options.Size] is given, a HeadObject call determines the size of the object. ctx is used for every
// subsequent GetObject call.
func New(ctx context.Context, client ReaderClient, bucket, key string, optFns ...func(*Options)) (*ReaderAt, error) {
	opts := &Options{
		ModifyGetObjectInput: func(input *s3.GetObjectInput) *s3.GetObjectInput {
			return input
		},
		ModifyHeadObjectInput: func(input *s3.HeadObjectInput) *s3.HeadObjectInput {
			return input
		},
	}
	for _, fn := range optFns {
		fn(opts)
	}

	size := opts.Size
	if size <= 0 {
		headObjectOutput, err := client.HeadObject(ctx, opts.ModifyHeadObjectInput(&s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}))
		if err != nil {
			var re *awshttp.ResponseError
			if errors.As(err, &re) && re.HTTPStatusCode() == 404 {
				return nil, fmt.Errorf("s3://%s/%s: %w", bucket, key, ErrNotFound)
			}

			return nil, fmt.Errorf("determine file size error: %w", err)
		}

		size = aws.ToInt64(headObjectOutput.ContentLength)
	}

	return &ReaderAt{
		ctx:                  ctx,
		client:               client,
		bucket:               bucket,
		key:                  key,
		size:                 size,
		modifyGetObjectInput: opts.ModifyGetObjectInput,
		progress:             opts.progress,
	}, nil
}

// Size returns the size of the object.
func (r *ReaderAt) Size() int64 {
	return r.size
}

// ReadAt reads len(p) bytes starting at off with one ranged GetObject call.
//
// The range is clamped to the size of the object; a short read returns io.EOF.
func (r *ReaderAt) ReadAt(p []byte, off int64) (n int, err error) {
	switch {
	case off < 0:
		return 0, fmt.Errorf("read at negative offset %d", off)
	case off >= r.size:
		return 0, io.EOF
	case len(p) == 0:
		return 0, nil
	}

	m := min(int64(len(p)), r.size-off)
	getObjectOutput, err := r.client.GetObject(r.ctx, r.modifyGetObjectInput(&s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+m-1)),
	}))
	if err != nil {
		// the object may have shrunk since HeadObject.
		var re *awshttp.ResponseError
		if errors.As(err, &re) && re.HTTPStatusCode() == 416 {
			return 0, io.EOF
		}

		return 0, fmt.Errorf("get object range [%d, %d) error: %w", off, off+m, err)
	}

	n, err = io.ReadFull(getObjectOutput.Body, p[:m])
	_ = getObjectOutput.Body.Close()
	r.progress.add(n)

	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return n, io.EOF
	case err != nil:
		return n, err
	case n < len(p):
		return n, io.EOF
	default:
		return n, nil
	}
}

// Close logs the final progress if WithProgressLogger was used.
func (r *ReaderAt) Close() error {
	r.progress.close(r.size)
	return nil
}

// ParseURI parses an S3 URI in the form "s3://bucket/key".
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an S3 URI: %s", uri)
	}

	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("S3 URI must be in the form s3://bucket/key: %s", uri)
	}

	return bucket, key, nil
}

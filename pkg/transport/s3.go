package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/rdimagefs/rdimagefs/pkg/ioerrors"
)

// S3Transport fetches chunk data from an S3 (or S3-compatible) bucket for
// origin URLs of the form s3://bucket/key. Of the validators it sends only
// the ETag (as If-Match); Validators.LastModified is not checked.
type S3Transport struct {
	client *s3.Client
	retry  retryConfig
}

// NewS3ClientFromConfig builds an S3 client from explicit parameters,
// mirroring the configuration knobs a deployment typically exposes (region,
// static credentials, custom endpoint for S3-compatible stores).
func NewS3ClientFromConfig(ctx context.Context, endpoint, region, accessKeyID, secretAccessKey string, forcePathStyle bool) (*s3.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = forcePathStyle
	})
	return client, nil
}

// NewS3Transport wraps an already-configured S3 client.
func NewS3Transport(client *s3.Client) *S3Transport {
	return &S3Transport{client: client, retry: defaultRetryConfig()}
}

// parseS3URL splits an s3://bucket/key origin URL into its parts.
func parseS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse s3 url: %w", err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3 url: %s", raw)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

func s3RangeHeader(offset, length uint64) string {
	return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
}

// isRetryableS3Error distinguishes transient S3 failures from fatal ones
// (precondition failures must never be retried, per section 6).
func isRetryableS3Error(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() >= 500
	}
	return true
}

// Fetch performs a single bounded ranged GetObject, retrying transient
// failures with exponential backoff.
func (t *S3Transport) Fetch(ctx context.Context, req FetchRequest) ([]byte, error) {
	bucket, key, err := parseS3URL(req.URL)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := uint(0); attempt <= t.retry.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(t.retry.backoff(attempt - 1)):
			}
		}

		out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Range:  aws.String(s3RangeHeader(req.Offset, req.Length)),
			IfMatch: func() *string {
				if req.Validators.ETag == "" {
					return nil
				}
				return aws.String(req.Validators.ETag)
			}(),
		})
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if isPreconditionFailure(err) {
				return nil, fmt.Errorf("%w: %v", ioerrors.ErrValidatorMismatch, err)
			}
			if !isRetryableS3Error(err) {
				return nil, fmt.Errorf("%w: %v", ioerrors.ErrFatalTransport, err)
			}
			continue
		}

		data, err := readAllAndClose(out.Body, req.Length)
		if err != nil {
			return nil, err
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: %v", ioerrors.ErrNetworkTransport, lastErr)
}

// FetchStream performs a single streaming ranged GetObject, delivering the
// body to dataCB in fixed-size pieces.
func (t *S3Transport) FetchStream(ctx context.Context, req StreamRequest, dataCB DataFunc) error {
	bucket, key, err := parseS3URL(req.URL)
	if err != nil {
		return err
	}

	out, err := t.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(s3RangeHeader(req.Offset, req.Length)),
		IfMatch: func() *string {
			if req.Validators.ETag == "" {
				return nil
			}
			return aws.String(req.Validators.ETag)
		}(),
	})
	if err != nil {
		if isPreconditionFailure(err) {
			return fmt.Errorf("%w: %v", ioerrors.ErrValidatorMismatch, err)
		}
		return fmt.Errorf("%w: %v", ioerrors.ErrNetworkTransport, err)
	}
	defer out.Body.Close()

	const pieceSize = 256 * 1024
	buf := make([]byte, pieceSize)
	var delivered uint64
	for delivered < req.Length {
		if err := ctx.Err(); err != nil {
			return err
		}
		want := uint64(len(buf))
		if remaining := req.Length - delivered; remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(out.Body, buf[:want])
		if n > 0 {
			if cbErr := dataCB(buf[:n]); cbErr != nil {
				return cbErr
			}
			delivered += uint64(n)
		}
		if err != nil {
			if err == io.ErrUnexpectedEOF || err == io.EOF {
				if delivered < req.Length {
					return ioerrors.ErrPrematureEOF
				}
				break
			}
			return fmt.Errorf("%w: %v", ioerrors.ErrNetworkTransport, err)
		}
	}
	return nil
}

func isPreconditionFailure(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 412
	}
	return false
}

func readAllAndClose(r io.ReadCloser, length uint64) ([]byte, error) {
	defer r.Close()
	buf := make([]byte, length)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, fmt.Errorf("read s3 object body: %w", err)
	}
	if uint64(n) < length {
		return nil, fmt.Errorf("%w: got %d of %d bytes", ioerrors.ErrPrematureEOF, n, length)
	}
	return buf, nil
}

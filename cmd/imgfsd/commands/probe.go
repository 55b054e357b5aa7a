package commands

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rdimagefs/rdimagefs/pkg/transport"
)

// probeResult is what a HEAD/HeadObject against the origin tells us before
// opening an image: its current size, to size the modified overlay and
// compute the chunk count, and the validators to pin against mid-flight
// changes at the origin.
type probeResult struct {
	size       uint64
	validators transport.Validators
}

// probeOrigin discovers an origin's current size and cache validators so
// image.Open has an InitialSize to work with, mirroring vmnetfs's
// open-time stat of the remote image before chunking begins.
func probeOrigin(ctx context.Context, d *schemeTransport, rawURL string) (probeResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return probeResult{}, fmt.Errorf("parse origin url: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		return probeHTTP(ctx, http.DefaultClient, rawURL)
	case "s3":
		if d.rawS3 == nil {
			return probeResult{}, fmt.Errorf("s3 origin configured but no s3 client available (set RDIMAGEFS_S3_* environment variables)")
		}
		return probeS3(ctx, d.rawS3, u)
	default:
		return probeResult{}, fmt.Errorf("unsupported origin scheme: %s", u.Scheme)
	}
}

func probeHTTP(ctx context.Context, client *http.Client, rawURL string) (probeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return probeResult{}, fmt.Errorf("build head request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return probeResult{}, fmt.Errorf("head %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return probeResult{}, fmt.Errorf("head %s: unexpected status %s", rawURL, resp.Status)
	}

	size, err := strconv.ParseUint(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil {
		return probeResult{}, fmt.Errorf("head %s: missing or invalid Content-Length: %w", rawURL, err)
	}

	return probeResult{
		size: size,
		validators: transport.Validators{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		},
	}, nil
}

func probeS3(ctx context.Context, client *s3.Client, u *url.URL) (probeResult, error) {
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")

	out, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return probeResult{}, fmt.Errorf("head s3://%s/%s: %w", bucket, key, err)
	}
	if out.ContentLength == nil {
		return probeResult{}, fmt.Errorf("head s3://%s/%s: missing content length", bucket, key)
	}

	var etag, lastModified string
	if out.ETag != nil {
		etag = *out.ETag
	}
	if out.LastModified != nil {
		lastModified = out.LastModified.UTC().Format(http.TimeFormat)
	}

	return probeResult{
		size: uint64(*out.ContentLength),
		validators: transport.Validators{
			ETag:         etag,
			LastModified: lastModified,
		},
	}, nil
}

package destination

import (
	"context"
	"fmt"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/googleapis/gax-go/v2"
	"github.com/relvacode/iso8601"
	"gocloud.dev/blob/azureblob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/blob/s3blob"
	"gocloud.dev/gcp"
	"golang.org/x/oauth2"
)

// S3Credentials are temporary AWS credentials, as issued by an API.
//
//nolint:tagliatelle
type S3Credentials struct {
	AccessKeyID     string       `json:"AccessKeyId"`
	SecretAccessKey string       `json:"SecretAccessKey"`
	SessionToken    string       `json:"SessionToken"`
	Expiration      iso8601.Time `json:"Expiration"`
}

// Provider returns a static credentials provider.
func (c S3Credentials) Provider() aws.CredentialsProvider {
	return credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken)
}

// GCSCredentials is an OAuth2 access token to a GCS bucket, as issued by an API.
//
//nolint:tagliatelle
type GCSCredentials struct {
	ProjectID   string `json:"projectId"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// TokenSource returns a static token source.
func (c GCSCredentials) TokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.AccessToken, TokenType: c.TokenType})
}

// S3Bucket opens the S3 bucket with the static credentials.
// The transport is optional. The caller is responsible for closing the bucket.
func S3Bucket(ctx context.Context, name, region string, creds S3Credentials, transport http.RoundTripper) (Bucket, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithCredentialsProvider(creds.Provider()),
		awsconfig.WithRegion(region),
	}
	if transport != nil {
		opts = append(opts, awsconfig.WithHTTPClient(&http.Client{Transport: transport}))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return Bucket{}, fmt.Errorf(`cannot load config of S3 bucket "%s": %w`, name, err)
	}

	bucket, err := s3blob.OpenBucketV2(ctx, s3.NewFromConfig(cfg), name, nil)
	if err != nil {
		return Bucket{}, fmt.Errorf(`cannot open S3 bucket "%s": %w`, name, err)
	}

	// 5MB is the minimal part size of a multipart upload
	return Bucket{Bucket: bucket, BufferSize: int(s3manager.MinUploadPartSize)}, nil
}

// GCSBucket opens the GCS bucket with the static access token.
// The transport is optional. The caller is responsible for closing the bucket.
func GCSBucket(ctx context.Context, name string, creds GCSCredentials, transport http.RoundTripper) (Bucket, error) {
	if transport == nil {
		transport = gcp.DefaultTransport()
	}
	client, err := gcp.NewHTTPClient(transport, creds.TokenSource())
	if err != nil {
		return Bucket{}, err
	}

	bucket, err := gcsblob.OpenBucket(ctx, client, name, nil)
	if err != nil {
		return Bucket{}, fmt.Errorf(`cannot open GCS bucket "%s": %w`, name, err)
	}

	var gcsClient *storage.Client
	if !bucket.As(&gcsClient) {
		_ = bucket.Close()
		return Bucket{}, fmt.Errorf(`cannot access client of GCS bucket "%s"`, name)
	}
	gcsClient.SetRetry(storage.WithBackoff(gax.Backoff{}), storage.WithPolicy(storage.RetryIdempotent))

	return Bucket{Bucket: bucket}, nil
}

// AzureContainer opens the Azure container by the URL with a SAS token in the query.
// The transport is optional. The caller is responsible for closing the bucket.
func AzureContainer(ctx context.Context, containerURL string, transport http.RoundTripper) (Bucket, error) {
	var opts container.ClientOptions
	if transport != nil {
		opts.ClientOptions = azcore.ClientOptions{Transport: &http.Client{Transport: transport}}
	}

	client, err := container.NewClientWithNoCredential(containerURL, &opts)
	if err != nil {
		return Bucket{}, fmt.Errorf(`cannot create client of Azure container "%s": %w`, redactURL(containerURL), err)
	}

	bucket, err := azureblob.OpenBucket(ctx, client, nil)
	if err != nil {
		return Bucket{}, fmt.Errorf(`cannot open Azure container "%s": %w`, redactURL(containerURL), err)
	}
	return Bucket{Bucket: bucket}, nil
}

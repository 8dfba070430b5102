package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"cashflow-suite/settings/internal/constants"
)

// S3Tester lists at most one object in the configured bucket.
type S3Tester struct {
	HTTPClient *http.Client
	// Endpoint overrides S3_ENDPOINT for every test, mainly for local fakes.
	Endpoint string
}

func (t *S3Tester) Test(ctx context.Context, values map[string]string) error {
	if err := requireValues(values, "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "AWS_REGION", "S3_BUCKET_NAME"); err != nil {
		return err
	}

	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = values["S3_ENDPOINT"]
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(values["AWS_REGION"]),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			values["AWS_ACCESS_KEY_ID"],
			values["AWS_SECRET_ACCESS_KEY"],
			"",
		)),
		// One bounded attempt; retrying is the caller's decision.
		config.WithRetryMaxAttempts(1),
	}
	if t.HTTPClient != nil {
		opts = append(opts, config.WithHTTPClient(t.HTTPClient))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return newProviderError(constants.ErrCodeInvalidField, "aws config", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			// S3-compatible stores (MinIO, Wasabi) need path-style addressing
			o.UsePathStyle = true
		}
	})

	_, err = client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(values["S3_BUCKET_NAME"]),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return mapS3Error(ctx, err)
	}
	return nil
}

func mapS3Error(ctx context.Context, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		details := fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
		switch apiErr.ErrorCode() {
		case "InvalidAccessKeyId", "SignatureDoesNotMatch", "InvalidToken", "ExpiredToken":
			return newProviderError(constants.ErrCodeInvalidCredentials, details, nil)
		case "AccessDenied", "AllAccessDisabled":
			return newProviderError(constants.ErrCodeAccessDenied, details, nil)
		case "NoSuchBucket":
			return newProviderError(constants.ErrCodeResourceNotFound, details, nil)
		case "SlowDown", "Throttling":
			return newProviderError(constants.ErrCodeProviderRateLimit, details, nil)
		default:
			return newProviderError(constants.ErrCodeUnexpectedResponse, details, nil)
		}
	}
	return networkError(ctx, err)
}

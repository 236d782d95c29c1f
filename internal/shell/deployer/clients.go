package deployer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig selects region, credentials and endpoint for the AWS clients.
type ClientConfig struct {
	Region string

	// AccessKeyID and SecretAccessKey are optional. When empty the default
	// credential chain (environment, shared config, instance role) is used.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// Endpoint overrides the service endpoint, e.g. for LocalStack.
	Endpoint string
}

// NewAWSClients builds Lambda and S3 clients. The SDK retryer is disabled:
// every call is a single attempt.
func NewAWSClients(ctx context.Context, cfg ClientConfig) (*lambda.Client, *s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	if awsCfg.Region == "" {
		return nil, nil, fmt.Errorf("no AWS region configured")
	}

	functions := lambda.NewFromConfig(awsCfg, func(o *lambda.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	objects := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return functions, objects, nil
}

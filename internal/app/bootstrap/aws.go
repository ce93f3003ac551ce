package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/clinicops/internal/config"
)

// NeedsAWS reports whether any configured component talks to AWS.
func NeedsAWS(cfg *appconfig.Config) bool {
	return cfg.EmailProvider == "ses" || cfg.UseSQSQueue() || cfg.ReportArchiveBucket != ""
}

// LoadAWSConfig loads the shared SDK config. Static keys win over the default
// credential chain when both are set.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("bootstrap: load aws config: %w", err)
	}
	return awsCfg, nil
}

// AWSClients are the service clients the engine uses. With an endpoint
// override (LocalStack) every client points at it and S3 uses path-style URLs.
type AWSClients struct {
	SQS *sqs.Client
	SES *sesv2.Client
	S3  *s3.Client
}

func BuildAWSClients(awsCfg aws.Config, cfg *appconfig.Config) *AWSClients {
	endpoint := strings.TrimSpace(cfg.AWSEndpointOverride)
	var base *string
	if endpoint != "" {
		base = aws.String(endpoint)
	}
	return &AWSClients{
		SQS: sqs.NewFromConfig(awsCfg, func(o *sqs.Options) { o.BaseEndpoint = base }),
		SES: sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) { o.BaseEndpoint = base }),
		S3: s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = base
			o.UsePathStyle = endpoint != ""
		}),
	}
}

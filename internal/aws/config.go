package aws

import (
	"context"
	"fmt"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

// Options control how the SDK config is loaded.
type Options struct {
	Region string
	// EndpointOverride points every client at a local emulator such as
	// LocalStack or dynamodb-local.
	EndpointOverride string
}

func LoadAWSConfig(ctx context.Context, opts Options) (sdkaws.Config, error) {
	region := strings.TrimSpace(opts.Region)
	if region == "" {
		region = "us-east-1" // default fallback
	}

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
	)
	if err != nil {
		return cfg, fmt.Errorf("failed to load AWS config: %w", err)
	}

	if ep := strings.TrimSpace(opts.EndpointOverride); ep != "" {
		cfg.BaseEndpoint = sdkaws.String(ep)
	}
	return cfg, nil
}

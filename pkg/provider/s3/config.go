// Package s3 implements the storage-provider handler for AWS S3 and
// S3-compatible destinations. Push tasks are delegated to the external
// scheduler; this package owns destination-side lock objects and client
// construction. Buckets are per-destination, so the handler carries
// credentials and endpoint configuration only.
package s3

// Config configures the S3 handler.
//
// Authentication priority (AWS SDK v2 default chain):
//  1. Explicit AccessKeyID/SecretAccessKey (if provided)
//  2. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
//  3. Shared credentials file (~/.aws/credentials)
//  4. Shared config file (~/.aws/config) with profile
//  5. EC2 instance metadata / ECS task role / EKS IRSA
//
// For S3-compatible stores (Wasabi, MinIO, DigitalOcean Spaces), set
// Endpoint and typically ForcePathStyle.
type Config struct {
	// Region is the AWS region. Defaults to us-east-1 for AWS S3 when not
	// resolvable from environment or profile; no default is applied when
	// Endpoint points at an S3-compatible store.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	// Leave empty for AWS S3.
	Endpoint string

	// Profile is the AWS profile name to use from shared config.
	Profile string

	// AccessKeyID is an explicit access key. If set, SecretAccessKey must
	// also be set. Takes precedence over the default credential chain.
	AccessKeyID string

	// SecretAccessKey is an explicit secret key. Required if AccessKeyID is set.
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs (bucket in path, not subdomain).
	// Required for most S3-compatible stores.
	ForcePathStyle bool
}

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// resolveRegion applies the region defaulting rules: an explicit region wins,
// then whatever the SDK resolved; AWS S3 (no custom endpoint) falls back to
// us-east-1, S3-compatible endpoints get no default.
func resolveRegion(configured, endpoint, resolved string) string {
	if configured != "" {
		return configured
	}
	if resolved != "" {
		return resolved
	}
	if endpoint != "" {
		return ""
	}
	return DefaultAWSRegion
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}

package blob

import (
	"os"
)

// DefaultProfile is the only profile that may be configured from the
// environment.
const DefaultProfile = "default"

// Environment variables read for the default profile.
const (
	EnvAccessKey = "AWS_ACCESS_KEY_ID"
	EnvSecretKey = "AWS_SECRET_ACCESS_KEY"
	EnvRegion    = "REGION_NAME"
	EnvEndpoint  = "ENDPOINT_URL"
)

type S3Config struct {
	Profile   string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Endpoint  string
	// PartSize is the multipart upload part size. It must equal the chunk
	// size used for local fingerprints so the resulting ETags compare equal.
	PartSize int64
}

// HasStaticCredentials reports whether the keys were supplied directly
// instead of through a named profile.
func (c *S3Config) HasStaticCredentials() bool {
	return c.AccessKey != "" && c.SecretKey != ""
}

// ResolveConfig builds the connection settings for a profile. The default
// profile takes its settings from the environment when present. Anything
// left empty is resolved from the shared AWS config and credentials files.
func ResolveConfig(profile, bucket string, partSize int64) *S3Config {
	cfg := &S3Config{
		Profile:  profile,
		Bucket:   bucket,
		PartSize: partSize,
	}
	if profile == DefaultProfile {
		cfg.AccessKey = os.Getenv(EnvAccessKey)
		cfg.SecretKey = os.Getenv(EnvSecretKey)
		cfg.Region = os.Getenv(EnvRegion)
		cfg.Endpoint = os.Getenv(EnvEndpoint)
	}
	return cfg
}

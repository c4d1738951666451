package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*S3Options)(nil)

// S3Options configures the object store that receives the identification audit trail.
// An empty Endpoint disables the object store and audit records go to the log.
type S3Options struct {
	Endpoint        string `json:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string `json:"access-key-id" mapstructure:"access-key-id"`
	SecretAccessKey string `json:"secret-access-key" mapstructure:"secret-access-key"`
	UseSSL          bool   `json:"use-ssl" mapstructure:"use-ssl"`

	// InsecureSkipVerify accepts self-signed endpoint certificates.
	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`

	BucketName      string `json:"bucket-name" mapstructure:"bucket-name"`
	Region          string `json:"region" mapstructure:"region"`

	// Prefix is prepended to every audit object key.
	Prefix string `json:"prefix" mapstructure:"prefix"`

	// FlushInterval and BatchSize bound how long and how many records are buffered.
	FlushInterval time.Duration `json:"flush-interval" mapstructure:"flush-interval"`
	BatchSize     int           `json:"batch-size" mapstructure:"batch-size"`
}

func NewS3Options() *S3Options {
	return &S3Options{
		UseSSL:        true,
		BucketName:    "athena-audit",
		Region:        "us-east-1",
		Prefix:        "identifications",
		FlushInterval: 10 * time.Second,
		BatchSize:     500,
	}
}

// Enabled reports whether an object store is configured.
func (o *S3Options) Enabled() bool {
	return o != nil && o.Endpoint != ""
}

func (o *S3Options) Validate() []error {
	if !o.Enabled() {
		return nil
	}

	errors := []error{}

	if o.BucketName == "" {
		errors = append(errors, fmt.Errorf("--s3.bucket-name is required when --s3.endpoint is set"))
	}
	if o.FlushInterval <= 0 {
		errors = append(errors, fmt.Errorf("--s3.flush-interval must be positive"))
	}
	if o.BatchSize <= 0 {
		errors = append(errors, fmt.Errorf("--s3.batch-size must be positive"))
	}

	return errors
}

func (o *S3Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Endpoint, "s3.endpoint", o.Endpoint, "S3 service endpoint (e.g. s3.amazonaws.com or minio.local). Empty logs audit records instead.")
	fs.StringVar(&o.AccessKeyID, "s3.access-key-id", o.AccessKeyID, "S3 access key ID")
	fs.StringVar(&o.SecretAccessKey, "s3.secret-access-key", o.SecretAccessKey, "S3 secret access key")
	fs.BoolVar(&o.UseSSL, "s3.use-ssl", o.UseSSL, "Enable SSL for S3 connection")
	fs.BoolVar(&o.InsecureSkipVerify, "s3.insecure-skip-verify", o.InsecureSkipVerify, "Skip TLS certificate verification for the S3 endpoint")
	fs.StringVar(&o.BucketName, "s3.bucket-name", o.BucketName, "S3 bucket for identification audit records")
	fs.StringVar(&o.Region, "s3.region", o.Region, "S3 region")
	fs.StringVar(&o.Prefix, "s3.prefix", o.Prefix, "Object key prefix for audit batches")
	fs.DurationVar(&o.FlushInterval, "s3.flush-interval", o.FlushInterval, "Maximum time an audit record is buffered before upload")
	fs.IntVar(&o.BatchSize, "s3.batch-size", o.BatchSize, "Number of audit records that forces an upload")
}

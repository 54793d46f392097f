package s3

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/3leaps/gohaul/pkg/haul"
	"github.com/3leaps/gohaul/pkg/registry"
	"github.com/3leaps/gohaul/pkg/scheduler"
)

// ProviderType is the destination discriminator this handler registers under.
const ProviderType = "s3"

// Handler dispatches push tasks for S3 destinations and manages the
// destination-side lock object a push holds while writing.
type Handler struct {
	client *awss3.Client
	sched  scheduler.Enqueuer
	store  haul.Store
	dests  haul.DestinationStore
	logger *zap.Logger
}

var _ registry.StorageProviderHandler = (*Handler)(nil)

// New builds the handler and its S3 client. The client uses the SDK default
// credential chain unless explicit credentials are configured.
func New(ctx context.Context, cfg Config, sched scheduler.Enqueuer, store haul.Store, dests haul.DestinationStore, logger *zap.Logger) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	s3Opts := []func(*awss3.Options){
		func(o *awss3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &Handler{
		client: awss3.NewFromConfig(awsCfg, s3Opts...),
		sched:  sched,
		store:  store,
		dests:  dests,
		logger: logger,
	}, nil
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Let the SDK resolve region from env/profile first.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Region, cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

func (h *Handler) Type() string { return ProviderType }

// EnqueuePush schedules the push task for the job.
func (h *Handler) EnqueuePush(ctx context.Context, jobID string) (string, error) {
	return h.sched.Enqueue(ctx, scheduler.TaskPush, jobID)
}

// LockKey returns the lock object key for a job under the destination prefix.
func LockKey(prefix, jobID string) string {
	return path.Join(strings.Trim(prefix, "/"), ".locks", jobID+".lock")
}

// HoldLock writes the lock object a push worker holds while writing to the
// destination. The object body carries the job id for operator inspection.
func (h *Handler) HoldLock(ctx context.Context, jobID string) error {
	dest, err := h.jobDestination(ctx, jobID)
	if err != nil {
		return err
	}
	key := LockKey(dest.Prefix, jobID)
	_, err = h.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(dest.Bucket),
		Key:    aws.String(key),
		Body:   strings.NewReader(jobID),
	})
	if err != nil {
		return fmt.Errorf("s3: put lock %s/%s: %w", dest.Bucket, key, err)
	}
	return nil
}

// ReleaseLock removes the job's lock object. Returns true when a lock object
// existed and was deleted; a missing lock is not an error.
func (h *Handler) ReleaseLock(ctx context.Context, jobID string) (bool, error) {
	dest, err := h.jobDestination(ctx, jobID)
	if err != nil {
		return false, err
	}
	key := LockKey(dest.Prefix, jobID)

	_, err = h.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(dest.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3: head lock %s/%s: %w", dest.Bucket, key, err)
	}

	_, err = h.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(dest.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, fmt.Errorf("s3: delete lock %s/%s: %w", dest.Bucket, key, err)
	}
	h.logger.Info("destination lock object removed",
		zap.String("job_id", jobID),
		zap.String("bucket", dest.Bucket),
		zap.String("key", key))
	return true, nil
}

func (h *Handler) jobDestination(ctx context.Context, jobID string) (*haul.Destination, error) {
	j, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("s3: load job %s: %w", jobID, err)
	}
	if j.DestinationID == "" {
		return nil, fmt.Errorf("s3: job %s has no destination", jobID)
	}
	d, err := h.dests.GetDestination(ctx, j.DestinationID)
	if err != nil {
		return nil, fmt.Errorf("s3: load destination %s: %w", j.DestinationID, err)
	}
	return d, nil
}

// isNotFound reports whether the error is an S3 404 (NoSuchKey / NotFound).
func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

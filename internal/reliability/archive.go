// Package reliability contains the operational side-services: uploading
// finalized run records to S3-compatible storage and periodic database
// maintenance.
package reliability

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/openfolio/pulse/internal/config"
	"github.com/openfolio/pulse/internal/runs"
)

// archiveBatchSize is how many recent runs one upload covers.
const archiveBatchSize = 50

// ArchiveService uploads finalized run records to an S3-compatible bucket so
// the audit trail survives local database loss.
type ArchiveService struct {
	uploader *manager.Uploader
	bucket   string
	runRepo  *runs.Repository
	log      zerolog.Logger
}

// NewArchiveService builds an archive service from archive configuration.
func NewArchiveService(ctx context.Context, cfg *config.ArchiveConfig, runRepo *runs.Repository, log zerolog.Logger) (*ArchiveService, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load archive credentials: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	return &ArchiveService{
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		runRepo:  runRepo,
		log:      log.With().Str("service", "run_archive").Logger(),
	}, nil
}

// ArchiveRecentRuns uploads the most recent run records as one gzipped JSON
// object keyed by upload date.
func (s *ArchiveService) ArchiveRecentRuns(ctx context.Context) error {
	records, err := s.runRepo.List(archiveBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list runs for archive: %w", err)
	}
	if len(records) == 0 {
		s.log.Debug().Msg("No runs to archive")
		return nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(records); err != nil {
		return fmt.Errorf("failed to encode runs: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to compress runs: %w", err)
	}

	key := fmt.Sprintf("runs/%s.json.gz", time.Now().UTC().Format("2006-01-02T15-04-05"))
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		Body:            &buf,
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload archive %s: %w", key, err)
	}

	s.log.Info().
		Str("key", key).
		Int("runs", len(records)).
		Msg("Run archive uploaded")
	return nil
}

// ArchiveJob adapts the archive service for the scheduler.
type ArchiveJob struct {
	service *ArchiveService
	log     zerolog.Logger
}

// NewArchiveJob creates the periodic run-archive job.
func NewArchiveJob(service *ArchiveService, log zerolog.Logger) *ArchiveJob {
	return &ArchiveJob{
		service: service,
		log:     log.With().Str("job", "run_archive").Logger(),
	}
}

func (j *ArchiveJob) Name() string { return "run_archive" }

func (j *ArchiveJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	return j.service.ArchiveRecentRuns(ctx)
}

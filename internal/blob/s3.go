package blob

import (
	"context"

	infraS3 "cveteval/internal/infra/blob/s3"
)

// S3Config describes the bucket used by the s3 driver.
type S3Config = infraS3.Config

// NewS3 returns an archive backed by an S3 compatible bucket.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return infraS3.New(ctx, cfg)
}

// NewMockS3ForTests returns an S3 archive served by an in-process fake bucket.
func NewMockS3ForTests() Store { return infraS3.NewMock() }

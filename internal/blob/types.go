// Package blob is the entry point for the report archive. Callers depend on
// Store; backends under internal/infra/blob are only wired here.
package blob

import (
	"cveteval/internal/blob/core"
)

type (
	// Driver identifies an archive backend.
	Driver = core.Driver
	// PutOptions configures an object write.
	PutOptions = core.PutOptions
	// Info describes a stored object.
	Info = core.Info
	// Store is the archive contract.
	Store = core.Store
)

const (
	// DriverFilesystem is the local directory backend.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3 compatible backend.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-process backend.
	DriverMemory = core.DriverMemory
)

var (
	// ErrUnsupported indicates a backend lacks an optional capability.
	ErrUnsupported = core.ErrUnsupported
	// ErrNotFound indicates a missing key.
	ErrNotFound = core.ErrNotFound
	// ErrExists indicates a write to a taken key.
	ErrExists = core.ErrExists
)

package blob

import (
	"cveteval/internal/infra/blob/fs"
)

// NewFilesystem returns an archive rooted at root.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}

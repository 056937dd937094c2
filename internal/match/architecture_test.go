package match

import (
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"

	"cveteval/testutil"
)

// TestEngineDoesNotReachStorage keeps the reconciliation engine independent of
// concrete stores and drivers; it only sees domain.SnapshotReader.
func TestEngineDoesNotReachStorage(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InfraImportForbidden, "match reads through domain.SnapshotReader")

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps}
	pkgs, err := packages.Load(cfg, "cveteval/internal/match", "cveteval/internal/migration")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	var violations []string
	packages.Visit(pkgs, nil, func(pkg *packages.Package) {
		if testutil.InfraImportForbidden(pkg.PkgPath) || testutil.StorageDriverForbidden(pkg.PkgPath) {
			violations = append(violations, pkg.PkgPath)
		}
	})
	if len(violations) > 0 {
		t.Fatalf("engine packages depend on storage:\n%s", strings.Join(violations, "\n"))
	}
}

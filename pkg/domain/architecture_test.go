package domain

import (
	"path/filepath"
	"testing"

	"assetcore/testutil"
)

// The model package stays free of implementation packages so backends and
// engines can both depend on it.
func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "pkg/domain is the shared model")
}

func TestDomainHasNoInternalDependencies(t *testing.T) {
	if testing.Short() {
		t.Skip("shells out to go list")
	}
	testutil.AssertNoTransitiveDependency(t, ".", testutil.InternalImportForbidden, "pkg/domain is the shared model")
}

// Engines reach storage only through Repository.
func TestEnginesDoNotImportStorage(t *testing.T) {
	for _, pkg := range []string{"rules", "pool", "unify", "manipulator", "selector", "ingest", "report"} {
		t.Run(pkg, func(t *testing.T) {
			dir := filepath.Join("..", "..", "internal", pkg)
			forbidden := testutil.StorageImportForbidden
			if pkg == "report" {
				// reports are written through the blob facade
				forbidden = func(p string) bool {
					return testutil.StorageImportForbidden(p) && p != "assetcore/internal/blob"
				}
			}
			testutil.AssertNoDirectImports(t, dir, forbidden, "engines use domain.Repository")
		})
	}
}

package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type recordingT struct {
	testing.TB
	failed string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Fatalf(format string, _ ...any) { r.failed = format }

func writeGo(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestPredicates(t *testing.T) {
	cases := []struct {
		pred ImportPredicate
		in   string
		want bool
	}{
		{DomainImportForbidden, "assetcore/pkg/domain", true},
		{DomainImportForbidden, "example.com/x/pkg/domain@v1", true},
		{DomainImportForbidden, "assetcore/pkg/domainx", false},
		{InternalImportForbidden, "assetcore/internal/rules", true},
		{InternalImportForbidden, "assetcore/pkg/domain", false},
		{StorageImportForbidden, "assetcore/internal/infra/persistence/sqlite", true},
		{StorageImportForbidden, "assetcore/internal/core", true},
		{StorageImportForbidden, "assetcore/internal/blob", true},
		{StorageImportForbidden, "assetcore/internal/blob/core", false},
		{StorageImportForbidden, "assetcore/internal/pool", false},
	}
	for _, c := range cases {
		if got := c.pred(c.in); got != c.want {
			t.Errorf("predicate(%q) = %v, want %v", c.in, got, c.want)
		}
	}
	if !AnyOf(DomainImportForbidden, InternalImportForbidden)("assetcore/internal/x") {
		t.Error("AnyOf should match when one predicate matches")
	}
	if AnyOf()("anything") {
		t.Error("empty AnyOf matches nothing")
	}
}

func TestAssertNoDirectImports(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "ok.go", "package tmp\nimport \"fmt\"\nfunc X() { fmt.Println() }\n")
	writeGo(t, dir, "ok_test.go", "package tmp\nimport \"assetcore/internal/core\"\n")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatal(err)
	}
	writeGo(t, filepath.Join(dir, "sub"), "sub.go", "package sub\nimport \"assetcore/internal/core\"\n")

	AssertNoDirectImports(t, dir, StorageImportForbidden, "test files and subdirectories are skipped")

	writeGo(t, dir, "bad.go", "package tmp\nimport _ \"assetcore/internal/infra/blob/fs\"\n")
	rec := &recordingT{TB: t}
	AssertNoDirectImports(rec, dir, StorageImportForbidden, "engines")
	if rec.failed == "" {
		t.Fatal("expected a violation")
	}

	rec = &recordingT{TB: t}
	AssertNoDirectImports(rec, filepath.Join(dir, "missing"), StorageImportForbidden, "x")
	if rec.failed == "" {
		t.Fatal("expected an error for a missing directory")
	}
}

func TestAssertNoTransitiveDependency(t *testing.T) {
	orig := goListDeps
	t.Cleanup(func() { goListDeps = orig })

	goListDeps = func(string) ([]byte, error) {
		return []byte("fmt\nassetcore/internal/rules\nassetcore/internal/infra/blob/s3\n"), nil
	}
	AssertNoTransitiveDependency(t, ".", DomainImportForbidden, "allowed")

	rec := &recordingT{TB: t}
	AssertNoTransitiveDependency(rec, ".", StorageImportForbidden, "forbidden")
	if rec.failed == "" {
		t.Fatal("expected a violation")
	}

	goListDeps = func(string) ([]byte, error) { return []byte("boom"), errors.New("exit 1") }
	rec = &recordingT{TB: t}
	AssertNoTransitiveDependency(rec, ".", DomainImportForbidden, "x")
	if rec.failed == "" {
		t.Fatal("expected go list failure to be reported")
	}
}

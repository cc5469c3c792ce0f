package volume

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewLocalDriver(t *testing.T) {
	tmpDir := t.TempDir()

	driver, err := NewLocalDriver(tmpDir)
	if err != nil {
		t.Fatalf("NewLocalDriver() error = %v", err)
	}
	if driver == nil {
		t.Fatal("NewLocalDriver() returned nil driver")
	}
	if driver.basePath != tmpDir {
		t.Errorf("basePath = %v, want %v", driver.basePath, tmpDir)
	}
	if _, err := os.Stat(tmpDir); os.IsNotExist(err) {
		t.Error("Base directory was not created")
	}
}

func TestLocalDriver_Create(t *testing.T) {
	tmpDir := t.TempDir()
	driver, _ := NewLocalDriver(tmpDir)

	path, err := driver.Create("build-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if path != driver.GetPath("build-1") {
		t.Errorf("Create() path = %v, want %v", path, driver.GetPath("build-1"))
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("workspace directory was not created at %s", path)
	}
}

func TestLocalDriver_Delete(t *testing.T) {
	tmpDir := t.TempDir()
	driver, _ := NewLocalDriver(tmpDir)

	path, err := driver.Create("build-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	testFile := filepath.Join(path, "context.tar")
	if err := os.WriteFile(testFile, []byte("data"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if err := driver.Delete("build-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("workspace directory still exists after delete")
	}
}

func TestLocalDriver_DeleteNonExistent(t *testing.T) {
	tmpDir := t.TempDir()
	driver, _ := NewLocalDriver(tmpDir)

	if err := driver.Delete("never-created"); err != nil {
		t.Errorf("Delete() on non-existent workspace error = %v, want nil", err)
	}
}

func TestLocalDriver_GetPathIsDeterministic(t *testing.T) {
	tmpDir := t.TempDir()
	driver, _ := NewLocalDriver(tmpDir)

	if driver.GetPath("build-1") != driver.GetPath("build-1") {
		t.Error("GetPath() should be deterministic for the same build ID")
	}
	if driver.GetPath("build-1") == driver.GetPath("build-2") {
		t.Error("GetPath() should differ across build IDs")
	}
}

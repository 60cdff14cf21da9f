package orchestrator

import (
	"os"
	"path/filepath"
	"testing"
)

func writeQueueFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDiscoverWorkorders(t *testing.T) {
	root := t.TempDir()

	writeQueueFile(t, filepath.Join(root, "beta", "tenant.yml"), "tenant_id: tenant-beta\n")
	writeQueueFile(t, filepath.Join(root, "beta", "workorders", "02.yml"),
		"work_order_id: wo-b2\nenabled: false\nsteps: []\n")
	writeQueueFile(t, filepath.Join(root, "beta", "workorders", "01.yml"),
		"work_order_id: wo-b1\nenabled: true\nsteps:\n  - step_id: s1\n    module_id: extract\n    kind: transform\n")
	writeQueueFile(t, filepath.Join(root, "alpha", "tenant.yml"), "tenant_id: tenant-alpha\n")
	writeQueueFile(t, filepath.Join(root, "alpha", "workorders", "10.yml"),
		"enabled: true\nsteps: []\n")

	// Каталог без tenant.yml — не арендатор.
	writeQueueFile(t, filepath.Join(root, "junk", "workorders", "x.yml"), "enabled: true\n")

	specs, err := DiscoverWorkorders(root)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}

	// Проверяем: детерминированный порядок обхода и заполнение полей.
	if len(specs) != 3 {
		t.Fatalf("expected 3 workorders, got %d", len(specs))
	}
	if specs[0].TenantID != "tenant-alpha" || specs[0].WorkOrderID != "10" {
		t.Fatalf("unexpected first entry: %s/%s", specs[0].TenantID, specs[0].WorkOrderID)
	}
	if specs[1].WorkOrderID != "wo-b1" || specs[2].WorkOrderID != "wo-b2" {
		t.Fatalf("unexpected order: %s, %s", specs[1].WorkOrderID, specs[2].WorkOrderID)
	}
	if specs[2].Enabled {
		t.Fatalf("disabled flag lost on load")
	}
	if specs[1].SourcePath == "" {
		t.Fatalf("source path not recorded")
	}
	if len(specs[1].Steps) != 1 || specs[1].Steps[0].ModuleID != "extract" {
		t.Fatalf("steps not parsed: %+v", specs[1].Steps)
	}
}

func TestDiscoverWorkordersMissingDir(t *testing.T) {
	specs, err := DiscoverWorkorders(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("missing dir must not fail: %v", err)
	}
	if len(specs) != 0 {
		t.Fatalf("expected empty queue, got %d", len(specs))
	}
}

func TestLoadWorkorderDefaults(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "daily-report.yml")
	writeQueueFile(t, p, "enabled: true\nsteps: []\n")

	spec, err := LoadWorkorder(p, "t1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// Проверяем: id по имени файла, tenant из аргумента.
	if spec.WorkOrderID != "daily-report" {
		t.Fatalf("expected id from filename, got %q", spec.WorkOrderID)
	}
	if spec.TenantID != "t1" {
		t.Fatalf("expected tenant t1, got %q", spec.TenantID)
	}
	if spec.SourcePath != p {
		t.Fatalf("source path mismatch: %q", spec.SourcePath)
	}
}

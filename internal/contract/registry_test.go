package contract

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
)

func writeContract(t *testing.T, root, moduleID, body string) {
	t.Helper()
	dir := filepath.Join(root, moduleID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "module.yml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write module.yml: %v", err)
	}
}

func TestRegistryLoadsValidContract(t *testing.T) {
	root := t.TempDir()
	writeContract(t, root, "wxz", `
module_id: wxz
name: Keyword extractor
kind: transform
ports:
  inputs:
    port:
      - id: source_text
        type: string
        required: true
        min_length: 1
    limited_port:
      - id: emit_bundle
        type: bool
  outputs:
    port:
      - id: report
        path: report.json
        format: application/json
    limited_port:
      - id: bundle
        path: bundle.zip
deliverables:
  port:
    - id: keyword_bundle
      output_ids: [report, bundle]
      limited_inputs:
        emit_bundle: true
`)

	reg, err := NewRegistry(root)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	if got := reg.ListModules(); len(got) != 1 || got[0] != "wxz" {
		t.Fatalf("expected modules [wxz], got %v", got)
	}

	c, err := reg.GetContract("wxz")
	if err != nil {
		t.Fatalf("GetContract failed: %v", err)
	}
	if c.Kind != domain.KindTransform {
		t.Errorf("expected kind transform, got %q", c.Kind)
	}
	if len(c.TenantInputs()) != 1 {
		t.Errorf("expected 1 tenant input, got %d", len(c.TenantInputs()))
	}
	if !c.TenantOutputPaths()["report.json"] {
		t.Errorf("expected report.json among tenant output paths")
	}
	if c.TenantOutputPaths()["bundle.zip"] {
		t.Errorf("limited output must not be tenant-visible")
	}

	d, err := reg.GetDeliverable("wxz", "keyword_bundle")
	if err != nil {
		t.Fatalf("GetDeliverable failed: %v", err)
	}
	if len(d.OutputIDs) != 2 {
		t.Errorf("expected 2 output ids, got %d", len(d.OutputIDs))
	}
}

func TestRegistryRejectsMissingKind(t *testing.T) {
	root := t.TempDir()
	writeContract(t, root, "nokind", `
module_id: nokind
ports:
  outputs:
    port:
      - id: report
        path: report.json
`)

	_, err := NewRegistry(root)
	if !errors.Is(err, ErrInvalidContract) {
		t.Fatalf("expected ErrInvalidContract, got %v", err)
	}
}

func TestRegistryRejectsUnknownKind(t *testing.T) {
	root := t.TempDir()
	writeContract(t, root, "badkind", `
module_id: badkind
kind: pipeline
`)

	_, err := NewRegistry(root)
	if !errors.Is(err, ErrInvalidContract) {
		t.Fatalf("expected ErrInvalidContract, got %v", err)
	}
}

func TestRegistryRejectsDeliverableWithUndeclaredOutput(t *testing.T) {
	root := t.TempDir()
	writeContract(t, root, "ghost", `
module_id: ghost
kind: transform
ports:
  outputs:
    port:
      - id: report
        path: report.json
deliverables:
  port:
    - id: basic
      output_ids: [report, summary]
`)

	_, err := NewRegistry(root)
	if !errors.Is(err, ErrInvalidContract) {
		t.Fatalf("expected ErrInvalidContract, got %v", err)
	}
	var cerr *ContractError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ContractError, got %T", err)
	}
}

func TestRegistryRejectsDeliverableInjectingTenantInput(t *testing.T) {
	root := t.TempDir()
	writeContract(t, root, "leaky", `
module_id: leaky
kind: transform
ports:
  inputs:
    port:
      - id: source_text
        type: string
  outputs:
    port:
      - id: report
        path: report.json
deliverables:
  port:
    - id: basic
      output_ids: [report]
      limited_inputs:
        source_text: injected
`)

	_, err := NewRegistry(root)
	if !errors.Is(err, ErrInvalidContract) {
		t.Fatalf("expected ErrInvalidContract, got %v", err)
	}
}

func TestRegistryUnknownLookups(t *testing.T) {
	reg, err := NewRegistryFromContracts()
	if err != nil {
		t.Fatalf("NewRegistryFromContracts failed: %v", err)
	}

	if _, err := reg.GetContract("absent"); !errors.Is(err, ErrUnknownModule) {
		t.Errorf("expected ErrUnknownModule, got %v", err)
	}
	if _, err := reg.GetDeliverable("absent", "x"); !errors.Is(err, ErrUnknownModule) {
		t.Errorf("expected ErrUnknownModule, got %v", err)
	}
}

func TestRegistryUnknownDeliverable(t *testing.T) {
	c := &ModuleContract{ModuleID: "m1", Kind: domain.KindTransform}
	reg, err := NewRegistryFromContracts(c)
	if err != nil {
		t.Fatalf("NewRegistryFromContracts failed: %v", err)
	}
	if _, err := reg.GetDeliverable("m1", "nope"); !errors.Is(err, ErrUnknownDeliverable) {
		t.Errorf("expected ErrUnknownDeliverable, got %v", err)
	}
}

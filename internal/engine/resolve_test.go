package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// fakeOutputs — in-memory реализация OutputLookup для тестов.
type fakeOutputs struct {
	records map[string]*domain.OutputRecord // step_id/output_id → record
}

func (f *fakeOutputs) GetOutput(tenantID, workOrderID, stepID, outputID string) (*domain.OutputRecord, error) {
	rec, ok := f.records[stepID+"/"+outputID]
	if !ok {
		return nil, fmt.Errorf("output not found: %s/%s", stepID, outputID)
	}
	return rec, nil
}

func writeOutput(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write output file: %v", err)
	}
}

func newResolver(t *testing.T) (*Resolver, string) {
	t.Helper()
	dir := t.TempDir()
	r := &Resolver{
		TenantID:    "t1",
		WorkOrderID: "wo1",
		OutputDirs:  map[string]string{"up": dir},
		Exposed:     map[string]map[string]bool{},
		Outputs:     &fakeOutputs{records: map[string]*domain.OutputRecord{}},
	}
	return r, dir
}

func fileBinding(fromFile string, sel domain.Selector) domain.Value {
	return domain.BindingValue(domain.Binding{
		FromStep: "up",
		FromFile: fromFile,
		Selector: sel,
	})
}

func TestResolveScalarPassthrough(t *testing.T) {
	r, _ := newResolver(t)

	got, err := r.Resolve(domain.ScalarValue("hello"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != "hello" {
		t.Errorf("expected hello, got %v", got)
	}
}

func TestResolveTextSelector(t *testing.T) {
	r, dir := newResolver(t)
	writeOutput(t, dir, "report.txt", "  raw text \n")

	got, err := r.Resolve(fileBinding("report.txt", domain.SelectorText))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != "  raw text \n" {
		t.Errorf("text selector must return file verbatim, got %q", got)
	}
}

func TestResolveLinesSelectorWithTake(t *testing.T) {
	r, dir := newResolver(t)
	writeOutput(t, dir, "list.txt", "one\n\n  two  \nthree\n")

	take := 2
	got, err := r.Resolve(domain.BindingValue(domain.Binding{
		FromStep: "up",
		FromFile: "list.txt",
		Selector: domain.SelectorLines,
		Take:     &take,
	}))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	lines, ok := got.([]string)
	if !ok {
		t.Fatalf("expected []string, got %T", got)
	}
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Errorf("expected [one two], got %v", lines)
	}
}

func TestResolveJSONSelectorWithPath(t *testing.T) {
	r, dir := newResolver(t)
	writeOutput(t, dir, "data.json", `{"items":[{"name":"first"},{"name":"second"}]}`)

	got, err := r.Resolve(domain.BindingValue(domain.Binding{
		FromStep: "up",
		FromFile: "data.json",
		Selector: domain.SelectorJSON,
		JSONPath: "$.items[1].name",
	}))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != "second" {
		t.Errorf("expected second, got %v", got)
	}
}

func TestResolveJSONSelectorEmptyFile(t *testing.T) {
	r, dir := newResolver(t)
	writeOutput(t, dir, "empty.json", "")

	got, err := r.Resolve(fileBinding("empty.json", domain.SelectorJSON))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != nil {
		t.Errorf("empty json file must resolve to nil, got %v", got)
	}
}

func TestResolveJSONLFirst(t *testing.T) {
	r, dir := newResolver(t)
	writeOutput(t, dir, "events.jsonl", "\n{\"n\":1}\n{\"n\":2}\n")

	got, err := r.Resolve(fileBinding("events.jsonl", domain.SelectorJSONLFirst))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	m, ok := got.(map[string]any)
	if !ok || m["n"] != float64(1) {
		t.Errorf("expected first record {n:1}, got %v", got)
	}
}

func TestResolveJSONLFirstEmptyFile(t *testing.T) {
	r, dir := newResolver(t)
	writeOutput(t, dir, "events.jsonl", "\n\n")

	_, err := r.Resolve(fileBinding("events.jsonl", domain.SelectorJSONLFirst))
	if !errors.Is(err, ErrEmptyJSONL) {
		t.Fatalf("expected ErrEmptyJSONL, got %v", err)
	}
}

func TestResolveJSONLWithTake(t *testing.T) {
	r, dir := newResolver(t)
	writeOutput(t, dir, "events.jsonl", "{\"n\":1}\n{\"n\":2}\n{\"n\":3}\n")

	take := 2
	got, err := r.Resolve(domain.BindingValue(domain.Binding{
		FromStep: "up",
		FromFile: "events.jsonl",
		Selector: domain.SelectorJSONL,
		Take:     &take,
	}))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	list, ok := got.([]any)
	if !ok {
		t.Fatalf("expected []any, got %T", got)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 records, got %d", len(list))
	}
}

func TestResolveUnexposedFileIsPermissionError(t *testing.T) {
	r, dir := newResolver(t)
	writeOutput(t, dir, "secret.txt", "hidden")
	r.Exposed["up"] = map[string]bool{"report.txt": true}

	_, err := r.Resolve(fileBinding("secret.txt", domain.SelectorText))
	if !errors.Is(err, ErrNotExposed) {
		t.Fatalf("expected ErrNotExposed, got %v", err)
	}
}

func TestResolveEmptyExposedSetIsPermissive(t *testing.T) {
	r, dir := newResolver(t)
	writeOutput(t, dir, "anything.txt", "ok")

	got, err := r.Resolve(fileBinding("anything.txt", domain.SelectorText))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != "ok" {
		t.Errorf("expected ok, got %v", got)
	}
}

func TestResolveMissingUpstreamDir(t *testing.T) {
	r, _ := newResolver(t)

	_, err := r.Resolve(domain.BindingValue(domain.Binding{
		FromStep: "ghost",
		FromFile: "x.txt",
	}))
	if !errors.Is(err, ErrUpstreamOutputsMissing) {
		t.Fatalf("expected ErrUpstreamOutputsMissing, got %v", err)
	}
}

func TestResolveMissingFile(t *testing.T) {
	r, _ := newResolver(t)

	_, err := r.Resolve(fileBinding("absent.txt", domain.SelectorText))
	if !errors.Is(err, ErrBindingFileMissing) {
		t.Fatalf("expected ErrBindingFileMissing, got %v", err)
	}
}

func TestResolveOutputBinding(t *testing.T) {
	r, _ := newResolver(t)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.Outputs = &fakeOutputs{records: map[string]*domain.OutputRecord{
		"up/report": {
			TenantID:    "t1",
			WorkOrderID: "wo1",
			StepID:      "up",
			ModuleID:    "m1",
			OutputID:    "report",
			Path:        "report.json",
			SHA256:      "abc",
			Bytes:       42,
			CreatedAt:   created,
		},
	}}

	got, err := r.Resolve(domain.BindingValue(domain.Binding{
		FromStep: "up",
		OutputID: "report",
		AsPath:   "input/report.json",
	}))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", got)
	}
	if m["output_id"] != "report" || m["path"] != "report.json" {
		t.Errorf("unexpected record mapping: %v", m)
	}
	if m["as_path"] != "input/report.json" {
		t.Errorf("expected as_path passthrough, got %v", m["as_path"])
	}
}

func TestResolveOutputBindingUnexposedPath(t *testing.T) {
	r, _ := newResolver(t)
	r.Exposed["up"] = map[string]bool{"public.json": true}
	r.Outputs = &fakeOutputs{records: map[string]*domain.OutputRecord{
		"up/internal": {
			StepID:   "up",
			OutputID: "internal",
			Path:     "internal.json",
		},
	}}

	_, err := r.Resolve(domain.BindingValue(domain.Binding{
		FromStep: "up",
		OutputID: "internal",
	}))
	if !errors.Is(err, ErrNotExposed) {
		t.Fatalf("expected ErrNotExposed, got %v", err)
	}
}

func TestResolveInputsRecursesIntoCollections(t *testing.T) {
	r, dir := newResolver(t)
	writeOutput(t, dir, "name.txt", "widget")

	inputs := map[string]domain.Value{
		"title": domain.ScalarValue("static"),
		"nested": domain.MappingValue(map[string]domain.Value{
			"items": domain.SequenceValue(
				fileBinding("name.txt", domain.SelectorText),
			),
		}),
	}

	got, err := r.ResolveInputs(inputs)
	if err != nil {
		t.Fatalf("ResolveInputs failed: %v", err)
	}
	nested := got["nested"].(map[string]any)
	items := nested["items"].([]any)
	if items[0] != "widget" {
		t.Errorf("expected widget, got %v", items[0])
	}
}

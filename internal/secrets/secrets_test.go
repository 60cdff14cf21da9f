package secrets

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testStore() *Store {
	return &Store{
		Version: 1,
		Modules: map[string]moduleBlock{
			"deliver_email": {
				Secrets: map[string]string{"SMTP_PASSWORD": "hunter2"},
				Vars:    map[string]string{"SMTP_HOST": "smtp.example.com"},
			},
			"deliver_dropbox": {
				Secrets: map[string]string{"deliver_dropbox_DROPBOX_TOKEN": "tok"},
			},
		},
	}
}

func TestEnvForModule(t *testing.T) {
	// Проверяем: секреты и vars сливаются, префиксованный ключ зеркалируется.
	s := testStore()

	env := s.EnvForModule("deliver_email")
	if env["SMTP_PASSWORD"] != "hunter2" || env["SMTP_HOST"] != "smtp.example.com" {
		t.Fatalf("unexpected env: %v", env)
	}

	env = s.EnvForModule("deliver_dropbox")
	if env["deliver_dropbox_DROPBOX_TOKEN"] != "tok" {
		t.Fatalf("expected prefixed key kept: %v", env)
	}
	if env["DROPBOX_TOKEN"] != "tok" {
		t.Fatalf("expected unprefixed mirror: %v", env)
	}

	if got := s.EnvForModule("unknown"); len(got) != 0 {
		t.Fatalf("expected empty env for unknown module, got %v", got)
	}
}

func TestRequirementEnforced(t *testing.T) {
	// Проверяем: «if unset» в note отключает проверку.
	if (Requirement{Key: "K", Note: "required for API"}).Enforced() == false {
		t.Fatal("plain note must be enforced")
	}
	if (Requirement{Key: "K", Note: "dev stub used IF UNSET"}).Enforced() {
		t.Fatal("'if unset' note must not be enforced")
	}
}

func TestCheckRequiredListsAllMissing(t *testing.T) {
	// Проверяем: гейт собирает все отсутствия по всем шагам, а не первое.
	s := testStore()
	reqs := Requirements{
		"deliver_email": {
			{Key: "SMTP_PASSWORD"},
			{Key: "SMTP_USER"},
		},
		"deliver_github": {
			{Key: "GITHUB_TOKEN"},
			{Key: "GITHUB_DEBUG", Note: "enabled if unset"},
		},
	}
	steps := []PlanStep{
		{StepID: "ship_email", ModuleID: "deliver_email"},
		{StepID: "ship_gh", ModuleID: "deliver_github"},
	}

	err := CheckRequired(s, reqs, steps, map[string]string{})
	if err == nil {
		t.Fatal("expected preflight error")
	}
	var pf *PreflightError
	if !errors.As(err, &pf) {
		t.Fatalf("expected *PreflightError, got %T", err)
	}
	if len(pf.Missing) != 2 {
		t.Fatalf("expected 2 missing entries, got %+v", pf.Missing)
	}
	if pf.Missing[0].Key != "SMTP_USER" || pf.Missing[0].StepID != "ship_email" {
		t.Fatalf("unexpected first missing: %+v", pf.Missing[0])
	}
	if pf.Missing[1].Key != "GITHUB_TOKEN" || pf.Missing[1].ModuleID != "deliver_github" {
		t.Fatalf("unexpected second missing: %+v", pf.Missing[1])
	}
}

func TestCheckRequiredEnvOverride(t *testing.T) {
	// Проверяем: значение из окружения процесса закрывает требование,
	// в том числе по префиксованному ключу.
	s := &Store{}
	reqs := Requirements{
		"deliver_github": {{Key: "GITHUB_TOKEN"}},
	}
	steps := []PlanStep{{StepID: "ship", ModuleID: "deliver_github"}}

	if err := CheckRequired(s, reqs, steps, map[string]string{"GITHUB_TOKEN": "tok"}); err != nil {
		t.Fatalf("env value must satisfy requirement: %v", err)
	}
	if err := CheckRequired(s, reqs, steps, map[string]string{"deliver_github_GITHUB_TOKEN": "tok"}); err != nil {
		t.Fatalf("prefixed env value must satisfy requirement: %v", err)
	}
	if err := CheckRequired(s, reqs, steps, map[string]string{"GITHUB_TOKEN": "   "}); err == nil {
		t.Fatal("blank value must be treated as missing")
	}
}

func TestLoadStoreAndRequirements(t *testing.T) {
	// Проверяем: загрузка YAML-файлов; отсутствующий файл — пустые данные.
	dir := t.TempDir()

	storePath := filepath.Join(dir, "secrets.yml")
	storeYAML := `
version: 1
modules:
  deliver_email:
    secrets:
      SMTP_PASSWORD: hunter2
    vars:
      SMTP_HOST: smtp.example.com
`
	if err := os.WriteFile(storePath, []byte(storeYAML), 0o600); err != nil {
		t.Fatalf("write store: %v", err)
	}
	s, err := LoadStore(storePath)
	if err != nil {
		t.Fatalf("load store: %v", err)
	}
	if s.EnvForModule("deliver_email")["SMTP_PASSWORD"] != "hunter2" {
		t.Fatal("loaded store must expose secret")
	}

	reqPath := filepath.Join(dir, "requirements.yml")
	reqYAML := `
deliver_email:
  - key: SMTP_PASSWORD
    note: smtp auth
`
	if err := os.WriteFile(reqPath, []byte(reqYAML), 0o600); err != nil {
		t.Fatalf("write requirements: %v", err)
	}
	reqs, err := LoadRequirements(reqPath)
	if err != nil {
		t.Fatalf("load requirements: %v", err)
	}
	if len(reqs["deliver_email"]) != 1 || reqs["deliver_email"][0].Key != "SMTP_PASSWORD" {
		t.Fatalf("unexpected requirements: %+v", reqs)
	}

	empty, err := LoadStore(filepath.Join(dir, "absent.yml"))
	if err != nil {
		t.Fatalf("load absent store: %v", err)
	}
	if len(empty.Modules) != 0 {
		t.Fatal("absent store must be empty")
	}
}

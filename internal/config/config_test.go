package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settleflow.json")
	content := `{
  "storage": {"driver": "mysql", "dsn": "user:pw@tcp(localhost:3306)/settleflow"},
  "settlement": {"chain_config": "chains.yaml", "default_chain": "Base"}
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("server address = %s, want :8080", cfg.Server.Address)
	}
	if cfg.JobQueue.Driver != "memory" || cfg.JobQueue.Worker != 4 {
		t.Fatalf("job queue defaults = %+v", cfg.JobQueue)
	}
	if cfg.Auth.Issuer != "settleflow" || cfg.Auth.AccessTTL != 3600 {
		t.Fatalf("auth defaults = %+v", cfg.Auth)
	}
	// 相对路径基于配置文件所在目录展开。
	if cfg.Settlement.ChainConfig != filepath.Join(dir, "chains.yaml") {
		t.Fatalf("chain config = %s", cfg.Settlement.ChainConfig)
	}
}

func TestLoadReadsSecretsFromEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settleflow.json")
	content := `{
  "auth": {"secret_env": "SETTLEFLOW_TEST_SECRET"},
  "settlement": {"operator_key_env": "SETTLEFLOW_TEST_KEY"}
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SETTLEFLOW_TEST_SECRET", "from-env")
	t.Setenv("SETTLEFLOW_TEST_KEY", "0xkey")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.Secret != "from-env" {
		t.Fatalf("auth secret = %s, want from-env", cfg.Auth.Secret)
	}
	if cfg.Settlement.OperatorKey != "0xkey" {
		t.Fatalf("operator key = %s, want 0xkey", cfg.Settlement.OperatorKey)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

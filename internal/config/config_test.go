// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// Unit tests for configuration loading.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMasterDefaults(t *testing.T) {
	origArgs := os.Args
	defer func() { os.Args = origArgs }()
	os.Args = []string{"cmd"}

	cfg, err := LoadMaster()
	if err != nil {
		t.Fatalf("LoadMaster() error = %v", err)
	}
	if cfg.Port != 7800 {
		t.Fatalf("expected default port 7800, got %d", cfg.Port)
	}
	if cfg.JobRetentionSecs != 30 {
		t.Fatalf("expected default retention 30s, got %d", cfg.JobRetentionSecs)
	}
}

func TestLoadMasterConfigFileFlag(t *testing.T) {
	origArgs := os.Args
	defer func() { os.Args = origArgs }()

	dir := t.TempDir()
	path := filepath.Join(dir, "quickdb-master.yaml")
	contents := []byte("port: 9100\nworkers:\n  - 10.0.0.1:7801\n  - 10.0.0.2:7801\n")
	if err := os.WriteFile(path, contents, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	os.Args = []string{"cmd", "--config", path}

	cfg, err := LoadMaster()
	if err != nil {
		t.Fatalf("LoadMaster() error = %v", err)
	}
	if cfg.Port != 9100 {
		t.Fatalf("expected port 9100, got %d", cfg.Port)
	}
	if len(cfg.Workers) != 2 {
		t.Fatalf("expected 2 workers, got %v", cfg.Workers)
	}
}

func TestLoadMasterInvalidPort(t *testing.T) {
	origArgs := os.Args
	defer func() { os.Args = origArgs }()
	os.Args = []string{"cmd", "--port", "0"}

	if _, err := LoadMaster(); err == nil {
		t.Fatalf("expected error for invalid port")
	}
}

func TestLoadWorkerDefaults(t *testing.T) {
	origArgs := os.Args
	defer func() { os.Args = origArgs }()
	os.Args = []string{"cmd"}

	cfg, err := LoadWorker()
	if err != nil {
		t.Fatalf("LoadWorker() error = %v", err)
	}
	if cfg.Parallel != 0 {
		t.Fatalf("expected default parallel 0 (auto), got %d", cfg.Parallel)
	}
}

func TestLoadWorkerFlags(t *testing.T) {
	origArgs := os.Args
	defer func() { os.Args = origArgs }()
	os.Args = []string{"cmd", "--port", "9200", "--parallel", "4", "--data_dir", "/srv/catalog"}

	cfg, err := LoadWorker()
	if err != nil {
		t.Fatalf("LoadWorker() error = %v", err)
	}
	if cfg.Port != 9200 || cfg.Parallel != 4 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

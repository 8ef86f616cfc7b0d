package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aicarelung/internal/config"
	"github.com/aicarelung/internal/db"
	"github.com/aicarelung/internal/store"
)

func testConfig(t *testing.T, backend string) config.AppConfig {
	t.Helper()
	cfg, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("LoadFile returned error: %v", err)
	}
	cfg.StoreBackend = backend
	cfg.DatabasePath = filepath.Join(t.TempDir(), "data", "aicare.db")
	return cfg
}

func TestBuildBackendSelectsImplementation(t *testing.T) {
	cfg := testConfig(t, "memory")
	gdb, err := db.Open(cfg.DatabasePath)
	if err != nil {
		t.Fatalf("db.Open returned error: %v", err)
	}
	defer func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	backend, err := buildBackend(context.Background(), cfg, gdb)
	if err != nil {
		t.Fatalf("buildBackend returned error: %v", err)
	}
	if _, ok := backend.(*store.MemoryBackend); !ok {
		t.Fatalf("expected memory backend, got %T", backend)
	}

	cfg.StoreBackend = "sqlite"
	backend, _ = buildBackend(context.Background(), cfg, gdb)
	if _, ok := backend.(*db.GormBackend); !ok {
		t.Fatalf("expected gorm backend, got %T", backend)
	}

	cfg.StoreBackend = "excel"
	if _, err := buildBackend(context.Background(), cfg, gdb); err == nil {
		t.Fatal("expected unsupported backend to fail")
	}
}

func TestRunCheckPrintsRowCounts(t *testing.T) {
	cfg := testConfig(t, "sqlite")

	var out bytes.Buffer
	if err := runCheck(context.Background(), cfg, &out); err != nil {
		t.Fatalf("runCheck returned error: %v", err)
	}

	text := out.String()
	if !strings.Contains(text, "backend: sqlite ok") {
		t.Fatalf("unexpected output %q", text)
	}
	for _, table := range store.Tables {
		if !strings.Contains(text, string(table)) {
			t.Fatalf("expected %s in output %q", table, text)
		}
	}
	if !strings.Contains(text, "0 rows") {
		t.Fatalf("expected empty tables, got %q", text)
	}
}

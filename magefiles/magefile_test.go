//go:build mage

package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInitScaffoldMatchesEnginePaths(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	if err := Init(); err != nil {
		t.Fatal(err)
	}

	// The scaffold must create the directories the engine actually reads
	// and writes, not lookalikes.
	want := []string{
		"chapters/v01",
		"outline/L1-volumes",
		"outline/L2-parts",
		"outline/L3-chapters",
		"worldbook/dynamic",
		"memory_bank/Core",
		"pipeline/chapters",
		"data/memory",
	}
	for _, d := range want {
		info, err := os.Stat(filepath.Join(dir, d))
		if err != nil || !info.IsDir() {
			t.Errorf("missing scaffold dir %s: %v", d, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "outlines")); !os.IsNotExist(err) {
		t.Error("scaffold created outlines/, which nothing reads")
	}

	for _, f := range []string{"config.yaml", "canon.yaml", "catalog.yaml", "configs/providers.yaml"} {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			t.Errorf("missing seed file %s: %v", f, err)
		}
	}
}

func TestInitPreservesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	if err := os.WriteFile("config.yaml", []byte("writing:\n  provider: kimi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Init(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile("config.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "writing:\n  provider: kimi\n" {
		t.Error("Init overwrote an existing config.yaml")
	}
}

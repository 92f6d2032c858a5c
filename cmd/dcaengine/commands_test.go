package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRootRegistersCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"ingest", "fetch", "simulate", "fresh", "clear", "status", "serve", "advise", "chart"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %s not registered: %v", name, err)
		}
	}
}

func TestIngestThenStatus(t *testing.T) {
	dir := t.TempDir()
	csv := "timestamp,open,high,low,close,volume\n" +
		"2024-01-01T00:00:00Z,100,100,100,100,1\n" +
		"2024-01-01T00:01:00Z,97,97,97,97,1\n" +
		"2024-01-01T00:02:00Z,94,94,94,94,1\n"
	if err := os.WriteFile(filepath.Join(dir, "bars.csv"), []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "config.toml")
	cfg := "[app]\nlog_level = \"error\"\n" +
		"[storage]\ndb_path = \"" + filepath.ToSlash(filepath.Join(dir, "dca.db")) + "\"\n" +
		"[report]\noutput_dir = \"" + filepath.ToSlash(filepath.Join(dir, "reports")) + "\"\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	run := func(args ...string) error {
		root := newRootCmd()
		root.SetArgs(append(args, "--config", cfgPath))
		return root.Execute()
	}
	if err := run("status"); err == nil {
		t.Fatal("status without checkpoint should fail")
	}
	if err := run("ingest", "--glob", filepath.Join(dir, "*.csv")); err != nil {
		t.Fatal(err)
	}
	if err := run("simulate"); err != nil {
		t.Fatal(err)
	}
	if err := run("status", "--json"); err != nil {
		t.Fatal(err)
	}
	if err := run("chart", "--out", filepath.Join(dir, "chart.html")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "chart.html")); err != nil {
		t.Fatal(err)
	}
}

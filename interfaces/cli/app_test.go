package cli_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/preservio/arcrepo/interfaces/cli"
)

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	app := cli.New().WithOutput(&stdout, &stderr)

	if err := app.ExecuteWithArgs(context.Background(), []string{"version"}); err != nil {
		t.Fatalf("version command = %v", err)
	}
	if !strings.Contains(stdout.String(), "arcrepo version") {
		t.Errorf("version output = %q", stdout.String())
	}
}

func TestUnknownCommand(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	app := cli.New().WithOutput(&stdout, &stderr)

	if err := app.ExecuteWithArgs(context.Background(), []string{"frobnicate"}); err == nil {
		t.Error("unknown command succeeded")
	}
}

func TestImportRequiresFlags(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	app := cli.New().WithOutput(&stdout, &stderr)

	err := app.ExecuteWithArgs(context.Background(), []string{"import", "archive.warc"})
	if err == nil {
		t.Error("import without --namespace/--auid succeeded")
	}
}

func TestInfoWithBadgerConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := "repository:\n" +
		"  dataDir: " + filepath.Join(dir, "data") + "\n" +
		"  journalPath: " + filepath.Join(dir, "journal.jsonl") + "\n" +
		"index:\n" +
		"  backend: badger\n" +
		"  badger:\n" +
		"    inMemory: true\n" +
		"logging:\n" +
		"  level: error\n"
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	var stdout, stderr bytes.Buffer
	app := cli.New().WithOutput(&stdout, &stderr)

	if err := app.ExecuteWithArgs(context.Background(), []string{"info", "-c", configPath}); err != nil {
		t.Fatalf("info command = %v", err)
	}
	if !strings.Contains(stdout.String(), "Namespaces") {
		t.Errorf("info output = %q", stdout.String())
	}
}

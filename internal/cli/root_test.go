package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maloquacious/semver"

	apperrors "github.com/maloquacious/wealthwise/internal/errors"
	"github.com/maloquacious/wealthwise/internal/logger"
	"github.com/maloquacious/wealthwise/internal/store"
	"github.com/maloquacious/wealthwise/internal/store/kvcache"
	"github.com/maloquacious/wealthwise/internal/store/sqlite"
)

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	t.Setenv(ConfigEnv, "")
	t.Setenv("WEALTHWISE_SETTLE_DELAY", "0s")
	t.Setenv("WEALTHWISE_LOG_LEVEL", "error")
	var out, errOut bytes.Buffer
	app := &App{Version: semver.Version{Minor: 2}, Out: &out, Err: &errOut}
	code := app.Execute(args)
	return code, out.String(), errOut.String()
}

func TestVersionCommand(t *testing.T) {
	code, out, _ := run(t, "version", "--json")
	if code != apperrors.ExitSuccess {
		t.Fatalf("exit = %d", code)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got["schemaVersion"] != float64(sqlite.CurrentSchemaVersion) {
		t.Errorf("schemaVersion = %v", got["schemaVersion"])
	}
}

func TestDBInitAndVerify(t *testing.T) {
	dir := t.TempDir()
	code, out, errOut := run(t, "db", "init", "--data-dir", dir)
	if code != apperrors.ExitSuccess {
		t.Fatalf("init exit = %d: %s", code, errOut)
	}
	if !strings.Contains(out, "datastore ready") {
		t.Errorf("init output = %q", out)
	}

	code, out, errOut = run(t, "db", "verify", "--data-dir", dir)
	if code != apperrors.ExitSuccess {
		t.Fatalf("verify exit = %d: %s", code, errOut)
	}
	var sum Summary
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if !sum.Existed || sum.State != "ready" || sum.Integrity != "ok" || sum.SchemaVersion != sqlite.CurrentSchemaVersion {
		t.Errorf("summary = %+v", sum)
	}
	if sum.Tables["categories"] == 0 {
		t.Errorf("categories not seeded: %v", sum.Tables)
	}
	if _, ok := sum.Tables["accounts"]; !ok {
		t.Errorf("accounts table missing: %v", sum.Tables)
	}
}

func TestDBInitRecoversCorruptFile(t *testing.T) {
	dir := t.TempDir()
	garbage := []byte(strings.Repeat("definitely not sqlite\n", 512))
	if err := os.WriteFile(filepath.Join(dir, store.DefaultDBFile), garbage, 0o644); err != nil {
		t.Fatal(err)
	}
	code, _, errOut := run(t, "db", "init", "--data-dir", dir)
	if code != apperrors.ExitSuccess {
		t.Fatalf("init exit = %d: %s", code, errOut)
	}
}

func TestDBResetHardClearsCaches(t *testing.T) {
	dir := t.TempDir()
	if code, _, errOut := run(t, "db", "init", "--data-dir", dir); code != apperrors.ExitSuccess {
		t.Fatalf("init exit = %d: %s", code, errOut)
	}
	prefs := kvcache.Open(dir, "preferences")
	if err := prefs.Set("theme", "dark"); err != nil {
		t.Fatal(err)
	}

	if code, _, errOut := run(t, "db", "reset", "--data-dir", dir); code != apperrors.ExitSuccess {
		t.Fatalf("soft reset exit = %d: %s", code, errOut)
	}
	if _, ok, _ := prefs.Get("theme"); !ok {
		t.Fatal("soft reset should keep ambient caches")
	}

	code, out, errOut := run(t, "db", "reset", "--hard", "--json", "--data-dir", dir)
	if code != apperrors.ExitSuccess {
		t.Fatalf("hard reset exit = %d: %s", code, errOut)
	}
	if !strings.Contains(out, `"hard": true`) {
		t.Errorf("output = %q", out)
	}
	if _, ok, _ := prefs.Get("theme"); ok {
		t.Fatal("hard reset should clear ambient caches")
	}
}

func TestDBWipe(t *testing.T) {
	dir := t.TempDir()
	if code, _, _ := run(t, "db", "init", "--data-dir", dir); code != apperrors.ExitSuccess {
		t.Fatal("init failed")
	}
	prefs := kvcache.Open(dir, "preferences")
	if err := prefs.Set("theme", "dark"); err != nil {
		t.Fatal(err)
	}
	unrelated := []string{"notes.txt", filepath.Join("src", "main.go")}
	for _, name := range unrelated {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("keep me"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	code, _, errOut := run(t, "db", "wipe", "--data-dir", dir)
	if code != apperrors.ExitInput {
		t.Fatalf("wipe without --yes exit = %d, want %d", code, apperrors.ExitInput)
	}
	if !strings.Contains(errOut, "--yes") {
		t.Errorf("stderr = %q", errOut)
	}

	code, out, errOut := run(t, "db", "wipe", "--yes", "--json", "--data-dir", dir)
	if code != apperrors.ExitSuccess {
		t.Fatalf("wipe exit = %d: %s", code, errOut)
	}
	if !strings.Contains(out, store.DefaultDBFile) {
		t.Errorf("output = %q", out)
	}
	for _, name := range unrelated {
		if data, err := os.ReadFile(filepath.Join(dir, name)); err != nil || string(data) != "keep me" {
			t.Errorf("%s not kept: %q, %v", name, data, err)
		}
	}
	for _, name := range append(store.KnownNamespaces(store.DefaultDBFile), "preferences.yaml") {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s still present: %v", name, err)
		}
	}
}

func TestDBVerifyDoesNotRepair(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, store.DefaultDBFile)
	garbage := []byte(strings.Repeat("definitely not sqlite\n", 512))
	if err := os.WriteFile(path, garbage, 0o644); err != nil {
		t.Fatal(err)
	}

	code, _, errOut := run(t, "db", "verify", "--no-color", "--data-dir", dir)
	if code != apperrors.ExitDatabase {
		t.Fatalf("verify exit = %d, want %d: %s", code, apperrors.ExitDatabase, errOut)
	}
	if !strings.Contains(errOut, "reset --hard") {
		t.Errorf("stderr = %q", errOut)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, garbage) {
		t.Error("verify modified the store file")
	}
}

func TestDBVerifyMissingStore(t *testing.T) {
	dir := t.TempDir()
	code, out, errOut := run(t, "db", "verify", "--data-dir", dir)
	if code != apperrors.ExitSuccess {
		t.Fatalf("verify exit = %d: %s", code, errOut)
	}
	var sum Summary
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if sum.Existed || sum.State != "uninitialized" {
		t.Errorf("summary = %+v", sum)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("verify created files: %v", entries)
	}
}

func TestConfigErrorExitCode(t *testing.T) {
	code, _, errOut := run(t, "db", "init", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	if code != apperrors.ExitConfig {
		t.Fatalf("exit = %d, want %d", code, apperrors.ExitConfig)
	}
	if !strings.Contains(errOut, "Cannot load configuration") {
		t.Errorf("stderr = %q", errOut)
	}

	code, _, _ = run(t, "db", "init", "--log-level", "chatty", "--data-dir", t.TempDir())
	if code != apperrors.ExitInput {
		t.Fatalf("exit = %d, want %d", code, apperrors.ExitInput)
	}
}

func TestWipeMissingDir(t *testing.T) {
	h := sqlite.New(sqlite.NewDirSubstrate(filepath.Join(t.TempDir(), "absent"), ""), sqlite.WithLogger(logger.Nop))
	removed, err := Wipe(context.Background(), h)
	if err != nil || removed != nil {
		t.Fatalf("Wipe = %v, %v", removed, err)
	}
}

func TestSoftAndHardResetHelpers(t *testing.T) {
	ctx := context.Background()
	h := sqlite.New(sqlite.NewDirSubstrate(t.TempDir(), ""), sqlite.WithLogger(logger.Nop), sqlite.WithSettleDelay(0))
	defer h.Close()

	for name, reset := range map[string]func(context.Context, store.Store) error{"soft": SoftReset, "hard": HardReset} {
		if err := reset(ctx, h); err != nil {
			t.Fatalf("%s reset: %v", name, err)
		}
		if h.State() != store.StateReady {
			t.Fatalf("%s reset left state %s", name, h.State())
		}
	}
}

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cardmint/internal/api"
)

type cliEnv struct {
	baseDir    string
	configPath string
}

func setupCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	configPath := filepath.Join(base, "config.toml")
	contents := fmt.Sprintf(`[paths]
data_dir = %q
log_dir = %q
intake_dir = %q
export_dir = %q

[admission]
max_queue_depth = 2

[api]
bind = ""

[logging]
format = "json"
level = "error"
`,
		filepath.Join(base, "data"),
		filepath.Join(base, "logs"),
		filepath.Join(base, "intake"),
		filepath.Join(base, "exports"),
	)
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliEnv{baseDir: base, configPath: configPath}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e *cliEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := e.run(t, args...)
	if err != nil {
		t.Fatalf("cardmint %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func TestJobsCreateListShow(t *testing.T) {
	env := setupCLIEnv(t)

	out := env.mustRun(t, "jobs", "create", "--id", "J1", "--capture-uid", "cap-1")
	if !strings.Contains(out, "Created job J1 (QUEUED)") {
		t.Fatalf("unexpected create output: %q", out)
	}

	out = env.mustRun(t, "--output", "json", "jobs", "list")
	var jobs []api.Job
	if err := json.Unmarshal([]byte(out), &jobs); err != nil {
		t.Fatalf("decode list output: %v\n%s", err, out)
	}
	if len(jobs) != 1 || jobs[0].ID != "J1" || jobs[0].CaptureUID != "cap-1" {
		t.Fatalf("unexpected jobs: %#v", jobs)
	}

	out = env.mustRun(t, "jobs", "show", "J1")
	if !strings.Contains(out, "cap-1") || !strings.Contains(out, "QUEUED") {
		t.Fatalf("unexpected show output: %q", out)
	}

	out = env.mustRun(t, "-o", "yaml", "jobs", "show", "J1")
	if !strings.Contains(out, "captureUid: cap-1") {
		t.Fatalf("expected yaml with json field names, got %q", out)
	}

	if _, err := env.run(t, "jobs", "show", "missing"); err == nil {
		t.Fatal("expected error for missing job")
	}
}

func TestJobsCreateRespectsDepthLimit(t *testing.T) {
	env := setupCLIEnv(t)
	env.mustRun(t, "jobs", "create", "--id", "J1")
	env.mustRun(t, "jobs", "create", "--id", "J2")

	out, err := env.run(t, "jobs", "create", "--id", "J3")
	if err == nil || !strings.Contains(err.Error(), "queue full") {
		t.Fatalf("expected queue full error, got %v (%s)", err, out)
	}
	env.mustRun(t, "jobs", "create", "--id", "J3", "--force")

	out = env.mustRun(t, "-o", "json", "jobs", "depth")
	var depth api.DepthResponse
	if err := json.Unmarshal([]byte(out), &depth); err != nil {
		t.Fatalf("decode depth: %v", err)
	}
	if depth.Depth != 3 || depth.MaxDepth != 2 || depth.Accepting {
		t.Fatalf("unexpected depth: %#v", depth)
	}

	out = env.mustRun(t, "jobs", "clear")
	if !strings.Contains(out, "Cleared 3 jobs") {
		t.Fatalf("unexpected clear output: %q", out)
	}
}

func TestRecoverDestructivePurgesIntake(t *testing.T) {
	env := setupCLIEnv(t)
	env.mustRun(t, "jobs", "create", "--id", "J1")
	intakeDir := filepath.Join(env.baseDir, "intake")
	if err := os.WriteFile(filepath.Join(intakeDir, "scan.jpg"), []byte{0xFF, 0xD8}, 0o644); err != nil {
		t.Fatalf("write intake image: %v", err)
	}

	out := env.mustRun(t, "-o", "json", "recover", "--policy", "destructive")
	var report map[string]any
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out)
	}
	if report["deleted"] != float64(1) || report["artifacts_removed"] != float64(1) {
		t.Fatalf("unexpected report: %v", report)
	}
	entries, _ := os.ReadDir(intakeDir)
	if len(entries) != 0 {
		t.Fatalf("expected empty intake dir, found %d entries", len(entries))
	}

	if _, err := env.run(t, "recover", "--policy", "sometimes"); err == nil {
		t.Fatal("expected unknown policy to fail")
	}
}

func TestOperatorCommands(t *testing.T) {
	env := setupCLIEnv(t)
	env.mustRun(t, "jobs", "create", "--id", "J1")

	if _, err := env.run(t, "operator", "lock-front", "J1"); err == nil {
		t.Fatal("expected lock-front to fail for a queued job")
	}
	if _, err := env.run(t, "operator", "accept", "J1", "--name", "Pikachu"); err == nil {
		t.Fatal("expected accept without item uid to fail")
	}

	out := env.mustRun(t, "operator", "accept-baseline", "J1", "--name", "Pikachu", "--set", "Base")
	if !strings.Contains(out, "Job J1: ACCEPTED") {
		t.Fatalf("unexpected accept output: %q", out)
	}

	out = env.mustRun(t, "-o", "json", "jobs", "history", "J1")
	var history []api.JobEvent
	if err := json.Unmarshal([]byte(out), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	last := history[len(history)-1]
	if last.Status != "ACCEPTED" || last.Actor != "operator" || last.Detail != "baseline" {
		t.Fatalf("unexpected last history entry: %#v", last)
	}
}

func TestSessionCommands(t *testing.T) {
	env := setupCLIEnv(t)

	out := env.mustRun(t, "-o", "json", "session", "start", "--operator", "kim")
	var session sessionView
	if err := json.Unmarshal([]byte(out), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.Status != "ACTIVE" || session.Operator != "kim" {
		t.Fatalf("unexpected session: %#v", session)
	}

	env.mustRun(t, "session", "end", session.ID)
	if _, err := env.run(t, "session", "end", session.ID); err == nil {
		t.Fatal("expected ending an ended session to fail")
	}

	out = env.mustRun(t, "session", "list", "--status", "ended")
	if !strings.Contains(out, session.ID) {
		t.Fatalf("expected ended session in list: %q", out)
	}
}

func TestJobsExport(t *testing.T) {
	env := setupCLIEnv(t)
	env.mustRun(t, "jobs", "create", "--id", "J1")
	target := filepath.Join(env.baseDir, "out", "jobs.xlsx")

	out := env.mustRun(t, "jobs", "export", "--out", target)
	if !strings.Contains(out, "Exported 1 jobs") {
		t.Fatalf("unexpected export output: %q", out)
	}
	if info, err := os.Stat(target); err != nil || info.Size() == 0 {
		t.Fatalf("expected workbook at %s: %v", target, err)
	}
}

func TestConfigInit(t *testing.T) {
	env := setupCLIEnv(t)
	target := filepath.Join(env.baseDir, "fresh", "config.toml")

	out := env.mustRun(t, "config", "init", "--path", target)
	if !strings.Contains(out, "Wrote sample configuration") {
		t.Fatalf("unexpected init output: %q", out)
	}
	if _, err := env.run(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected second init without --overwrite to fail")
	}
}

func TestWorkerRunRequiresClassifier(t *testing.T) {
	env := setupCLIEnv(t)
	_, err := env.run(t, "worker", "run")
	if err == nil || !strings.Contains(err.Error(), "classifier.url") {
		t.Fatalf("expected classifier.url error, got %v", err)
	}
}

func TestRejectsUnknownOutputFormat(t *testing.T) {
	env := setupCLIEnv(t)
	if _, err := env.run(t, "-o", "xml", "jobs", "list"); err == nil {
		t.Fatal("expected unsupported output format error")
	}
}

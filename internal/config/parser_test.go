package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"adaptsched/internal/task"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scheduler.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
scheduler:
  name: test-run
  log_level: error
  cores: 4
  cores_per_socket: 2
  quantum_ms: 5
  max_t: 10
  utilization_ceiling: 0.7
  trust_floor: 0.4
groups:
  sandbox:
    quota_ms: 100
    period_ms: 1000
    restricted: true
    quota_ceiling: 0.2
tasks:
  crunch:
    class: batch
    weight: 2
    count: 3
    burst_ms: 20
  ping:
    class: realtime
    burst_ms: 1
    deadline_ms: 10
    budget_ms: 2
    period_ms: 10
`

func TestLoadConfigValid(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Scheduler.Name != "test-run" {
		t.Fatalf("name = %q", cfg.Scheduler.Name)
	}
	if cfg.Scheduler.Quantum() != 5*time.Millisecond {
		t.Fatalf("quantum = %v", cfg.Scheduler.Quantum())
	}
	if cfg.Tasks["crunch"].KeyName != "crunch" {
		t.Fatalf("task key name not propagated: %q", cfg.Tasks["crunch"].KeyName)
	}
	ping := cfg.Tasks["ping"]
	cls, ok := ping.ParsedClass()
	if !ok || cls != task.ClassRealTime {
		t.Fatalf("ping class = %v, %v", cls, ok)
	}

	sandbox := cfg.Groups["sandbox"]
	g := sandbox.BuildGroup("sandbox")
	if g.Quota != 100*time.Millisecond || g.Period != time.Second {
		t.Fatalf("group bandwidth = %v/%v", g.Quota, g.Period)
	}
	if g.Profile.AllowsClass(task.ClassRealTime) {
		t.Fatalf("restricted group profile allows realtime")
	}
}

func TestLoadConfigExpandsEnvVars(t *testing.T) {
	t.Setenv("SCHED_NAME", "from-env")
	yaml := strings.Replace(validYAML, "name: test-run", "name: ${SCHED_NAME}", 1)

	cfg, err := LoadConfig(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Scheduler.Name != "from-env" {
		t.Fatalf("name = %q, want env expansion", cfg.Scheduler.Name)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidationRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "missing name",
			mutate:  func(y string) string { return strings.Replace(y, "name: test-run", "name: \"\"", 1) },
			wantErr: "name is required",
		},
		{
			name:    "zero cores",
			mutate:  func(y string) string { return strings.Replace(y, "cores: 4", "cores: 0", 1) },
			wantErr: "cores",
		},
		{
			name:    "cores not multiple of socket",
			mutate:  func(y string) string { return strings.Replace(y, "cores_per_socket: 2", "cores_per_socket: 3", 1) },
			wantErr: "cores_per_socket",
		},
		{
			name:    "ceiling out of range",
			mutate:  func(y string) string { return strings.Replace(y, "utilization_ceiling: 0.7", "utilization_ceiling: 1.5", 1) },
			wantErr: "utilization_ceiling",
		},
		{
			name:    "quota without period",
			mutate:  func(y string) string { return strings.Replace(y, "period_ms: 1000", "period_ms: 0", 1) },
			wantErr: "quota_ms requires period_ms",
		},
		{
			name:    "unknown class",
			mutate:  func(y string) string { return strings.Replace(y, "class: batch", "class: turbo", 1) },
			wantErr: "unknown class",
		},
		{
			name:    "unknown group",
			mutate:  func(y string) string { return strings.Replace(y, "class: batch", "class: batch\n    group: nosuch", 1) },
			wantErr: "unknown group",
		},
		{
			name:    "realtime without deadline",
			mutate:  func(y string) string { return strings.Replace(y, "deadline_ms: 10", "deadline_ms: 0", 1) },
			wantErr: "realtime class requires",
		},
		{
			name:    "budget exceeds period",
			mutate:  func(y string) string { return strings.Replace(y, "budget_ms: 2", "budget_ms: 20", 1) },
			wantErr: "budget_ms exceeds period_ms",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.mutate(validYAML)))
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

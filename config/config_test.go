package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudreap/cloudreap/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cloudreap.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	content := `
general:
  run-every: 1h
  max-simultaneous-deletes: 4
  tracking-database: /var/lib/cloudreap/tracking.db
  log:
    location: /var/log/cloudreap.log
    level: debug

cleanup:
  - openstack_auth_url: https://keystone.example.com:5000/v2.0
    tenant: sandbox
    credentials:
      - username: cleaner
        password: hunter2
      - username: second-owner
        password: hunter3
    instances:
      remove-if-older-than: 1d
      exclude:
        - "my-special-instance.*"
    images:
      remove-if-older-than: 31d
      remove-only-if-unused: true
    key-pairs:
      remove-if-older-than: 31d
      remove-only-if-unused: true
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := cfg.General.RunEveryDuration(); got != time.Hour {
		t.Errorf("RunEveryDuration() = %v, want 1h", got)
	}
	if cfg.General.MaxSimultaneousDeletes != 4 {
		t.Errorf("MaxSimultaneousDeletes = %d, want 4", cfg.General.MaxSimultaneousDeletes)
	}
	if len(cfg.Cleanup) != 1 {
		t.Fatalf("Cleanup count = %d, want 1", len(cfg.Cleanup))
	}

	spec := cfg.Cleanup[0]
	if spec.Tenant != "sandbox" {
		t.Errorf("Tenant = %q, want sandbox", spec.Tenant)
	}
	if got := spec.DefaultCredential().Username; got != "cleaner" {
		t.Errorf("DefaultCredential().Username = %q, want cleaner", got)
	}
	if got := spec.Policy(types.TypeInstance).MaxAge(); got != 24*time.Hour {
		t.Errorf("instance MaxAge() = %v, want 24h", got)
	}
	if got := spec.Policy(types.TypeImage).MaxAge(); got != 31*24*time.Hour {
		t.Errorf("image MaxAge() = %v, want 744h", got)
	}
	if !spec.Policy(types.TypeImage).RemoveOnlyIfUnused {
		t.Error("image RemoveOnlyIfUnused should be true")
	}
	if spec.Policy(types.TypeInstance).RemoveOnlyIfUnused {
		t.Error("instance RemoveOnlyIfUnused should be false")
	}
}

func TestValidateAggregatesAllProblems(t *testing.T) {
	cfg := Config{
		General: GeneralConfig{
			RunEvery:               "soon",
			MaxSimultaneousDeletes: 0,
		},
		Cleanup: []CleanupSpec{
			{
				Tenant: "sandbox",
				Instances: &ResourcePolicy{
					RemoveIfOlderThan: "1d",
					Exclude:           []string{"broken[pattern"},
				},
			},
		},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should fail")
	}

	cfgErr, ok := err.(*ConfigError)
	if !ok {
		t.Fatalf("Validate() error type = %T, want *ConfigError", err)
	}

	// run-every unparsable, cap too low, tracking path missing, auth url
	// missing, no credentials, bad exclude pattern: all reported at once.
	if len(cfgErr.Problems) < 6 {
		t.Errorf("Problems count = %d, want >= 6:\n%v", len(cfgErr.Problems), cfgErr)
	}
}

func TestExcludeFullMatch(t *testing.T) {
	pol := &ResourcePolicy{
		RemoveIfOlderThan: "1d",
		Exclude:           []string{"my-special-instance.*", "keeper"},
	}
	if problems := pol.validate("test"); len(problems) != 0 {
		t.Fatalf("validate problems: %v", problems)
	}

	tests := []struct {
		name string
		want bool
	}{
		{"my-special-instance-1", true},
		{"my-special-instance", true},
		{"keeper", true},
		{"prefix-my-special-instance-1", false}, // pattern must match the whole name
		{"keeper-2", false},
		{"beekeeper", false},
	}

	for _, tt := range tests {
		if got := pol.Excluded(tt.name); got != tt.want {
			t.Errorf("Excluded(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestValidateRequiresCredential(t *testing.T) {
	spec := CleanupSpec{
		AuthURL:   "https://keystone.example.com:5000/v2.0",
		Tenant:    "sandbox",
		Instances: &ResourcePolicy{RemoveIfOlderThan: "1d"},
	}

	problems := spec.validate("cleanup[0]")
	if len(problems) != 1 {
		t.Fatalf("problems = %v, want exactly the missing-credential one", problems)
	}
}

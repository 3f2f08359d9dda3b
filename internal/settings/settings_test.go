package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sif3.org/internal/model"
)

func envOf(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadFrom(envOf(nil))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if !cfg.DeleteOnUnregister || !cfg.JobTimeoutEnabled {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.JobTimeoutFrequency != time.Minute || cfg.NavigationPageSize != 100 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.RequireConsumer(); err == nil {
		t.Fatal("expected missing consumer values")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	cfg, err := LoadFrom(envOf(map[string]string{
		"SIF3_APPLICATION_KEY":       "Sif3DemoApp",
		"SIF3_SHARED_SECRET":         "SecretDem0",
		"SIF3_SOLUTION_ID":           "Sif3DemoSolution",
		"SIF3_ENVIRONMENT_TYPE":      "brokered",
		"SIF3_DELETE_ON_UNREGISTER":  "false",
		"SIF3_JOB_TIMEOUT_FREQUENCY": "1",
		"SIF3_MAX_CLOCK_SKEW":        "5m",
		"SIF3_RATE_PER_SECOND":       "2.5",
	}))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.ApplicationKey != "Sif3DemoApp" || cfg.SolutionID != "Sif3DemoSolution" {
		t.Fatalf("unexpected identity: %+v", cfg)
	}
	if cfg.EnvironmentType != model.EnvironmentBrokered {
		t.Fatalf("environment type = %q", cfg.EnvironmentType)
	}
	if cfg.DeleteOnUnregister {
		t.Fatal("expected DeleteOnUnregister=false")
	}
	if cfg.JobTimeoutFrequency != time.Second || cfg.MaxClockSkew != 5*time.Minute {
		t.Fatalf("durations: %v %v", cfg.JobTimeoutFrequency, cfg.MaxClockSkew)
	}
	if cfg.RatePerSecond != 2.5 {
		t.Fatalf("rate = %v", cfg.RatePerSecond)
	}
	if err := cfg.RequireConsumer(); err != nil {
		t.Fatalf("RequireConsumer: %v", err)
	}
}

func TestRequireConsumerURLOnlyWhenBrokered(t *testing.T) {
	cfg := Defaults()
	cfg.ApplicationKey = "Sif3DemoApp"
	cfg.SharedSecret = "SecretDem0"
	cfg.EnvironmentURL = ""

	if err := cfg.RequireConsumer(); err != nil {
		t.Fatalf("direct environment without URL: %v", err)
	}
	cfg.EnvironmentType = model.EnvironmentBrokered
	err := cfg.RequireConsumer()
	if err == nil || !strings.Contains(err.Error(), "SIF3_ENVIRONMENT_URL") {
		t.Fatalf("expected missing SIF3_ENVIRONMENT_URL, got %v", err)
	}
}

func TestInvalidValuesAreCollected(t *testing.T) {
	_, err := LoadFrom(envOf(map[string]string{
		"SIF3_JOB_TIMEOUT_ENABLED":  "maybe",
		"SIF3_NAVIGATION_PAGE_SIZE": "-1",
		"SIF3_ENVIRONMENT_TYPE":     "PEER",
	}))
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"SIF3_JOB_TIMEOUT_ENABLED", "SIF3_NAVIGATION_PAGE_SIZE", "SIF3_ENVIRONMENT_TYPE"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error %q does not name %s", err, key)
		}
	}
}

func TestFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sif3.yaml")
	doc := "application_key: FromFile\nsolution_id: FileSolution\njob_timeout_frequency: 2s\nnavigation_page_size: 25\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadFrom(envOf(map[string]string{
		FileEnv:                path,
		"SIF3_APPLICATION_KEY": "FromEnv",
	}))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.ApplicationKey != "FromEnv" {
		t.Fatalf("env should override file, got %q", cfg.ApplicationKey)
	}
	if cfg.SolutionID != "FileSolution" || cfg.NavigationPageSize != 25 || cfg.JobTimeoutFrequency != 2*time.Second {
		t.Fatalf("file values not applied: %+v", cfg)
	}
}

func TestMissingFile(t *testing.T) {
	if _, err := LoadFrom(envOf(map[string]string{FileEnv: "/nonexistent/sif3.yaml"})); err == nil {
		t.Fatal("expected error for missing file")
	}
}

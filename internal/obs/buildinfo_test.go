package obs

import (
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterBuildInfo(t *testing.T) {
	reg := prometheus.NewRegistry()
	bi := BuildInfo{Version: "1.2.3", Commit: "abc123", GoVersion: "go1.22.0"}
	if err := RegisterBuildInfo(reg, bi); err != nil {
		t.Fatalf("RegisterBuildInfo: %v", err)
	}
	if err := RegisterBuildInfo(reg, bi); err != nil {
		t.Fatalf("second RegisterBuildInfo: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) != 1 || families[0].GetName() != "sif3_build_info" {
		t.Fatalf("unexpected families: %v", families)
	}
	metrics := families[0].GetMetric()
	if len(metrics) != 1 || metrics[0].GetGauge().GetValue() != 1 {
		t.Fatalf("expected one sample of 1, got %v", metrics)
	}
	labels := map[string]string{}
	for _, l := range metrics[0].GetLabel() {
		labels[l.GetName()] = l.GetValue()
	}
	if labels["version"] != "1.2.3" || labels["commit"] != "abc123" || labels["go_version"] != "go1.22.0" {
		t.Fatalf("labels = %v", labels)
	}
}

func TestResolveBuildInfoKeepsLinkedCommit(t *testing.T) {
	bi := ResolveBuildInfo("0.1.0", "deadbeef")
	if bi.Commit != "deadbeef" || bi.Version != "0.1.0" {
		t.Fatalf("got %+v", bi)
	}
	if bi.GoVersion != runtime.Version() {
		t.Fatalf("GoVersion = %q", bi.GoVersion)
	}
}

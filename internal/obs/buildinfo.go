package obs

import (
	"errors"
	"runtime"
	"runtime/debug"

	"github.com/prometheus/client_golang/prometheus"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string
	Commit    string
	GoVersion string
}

// ResolveBuildInfo fills Commit from the VCS stamp when the linker left the
// placeholder in place.
func ResolveBuildInfo(version, commit string) BuildInfo {
	bi := BuildInfo{Version: version, Commit: commit, GoVersion: runtime.Version()}
	if bi.Commit != "" && bi.Commit != "dev" {
		return bi
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return bi
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			bi.Commit = s.Value
			if len(bi.Commit) > 12 {
				bi.Commit = bi.Commit[:12]
			}
		}
	}
	return bi
}

// RegisterBuildInfo exposes sif3_build_info as a constant 1 labelled with bi.
// Registering the same labels twice is not an error.
func RegisterBuildInfo(reg prometheus.Registerer, bi BuildInfo) error {
	gauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sif3_build_info",
		Help: "SIF3 service build information.",
		ConstLabels: prometheus.Labels{
			"version":    bi.Version,
			"commit":     bi.Commit,
			"go_version": bi.GoVersion,
		},
	}, func() float64 { return 1 })
	err := reg.Register(gauge)
	var already prometheus.AlreadyRegisteredError
	if errors.As(err, &already) {
		return nil
	}
	return err
}

// InitBuildInfo registers build info in the default registry.
func InitBuildInfo(version, commit string) (BuildInfo, error) {
	bi := ResolveBuildInfo(version, commit)
	return bi, RegisterBuildInfo(prometheus.DefaultRegisterer, bi)
}

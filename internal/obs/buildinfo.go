package obs

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build of the running binary; the value is always 1.",
		},
		[]string{"version", "commit", "goversion"},
	)
)

// InitBuildInfo publishes tasktrail_build_info. An empty commit falls back to
// the VCS revision stamped by the Go toolchain.
func InitBuildInfo(version, commit string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	if commit == "" || commit == "dev" {
		if rev := vcsRevision(); rev != "" {
			commit = rev
		}
	}
	buildInfo.WithLabelValues(version, commit, runtime.Version()).Set(1)
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return ""
}

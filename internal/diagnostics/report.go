// Package diagnostics builds the self-test report: a JSON summary of the
// effective configuration and transport wiring, printed and exited on
// before the runtime starts.
package diagnostics

import (
	"tvskip.app/tvskip/internal/adapters"
	"tvskip.app/tvskip/internal/config"
)

type ConfigStatus struct {
	Found          bool     `json:"found"`
	Path           string   `json:"path,omitempty"`
	Devices        int      `json:"devices"`
	SkipCategories []string `json:"skip_categories,omitempty"`
	MuteAds        bool     `json:"mute_ads"`
	SkipAds        bool     `json:"skip_ads"`
}

type WiringStatus struct {
	SessionFactoryWired bool `json:"session_factory_wired"`
	MetricsEnabled      bool `json:"metrics_enabled"`
}

type Report struct {
	Config ConfigStatus `json:"config"`
	Wiring WiringStatus `json:"wiring"`
	Ready  bool         `json:"ready"`
}

// Build assembles the report. cfg may be nil when loading failed; the
// report then shows an unusable setup instead of erroring out.
func Build(path string, cfg *config.Config, bundle *adapters.Bundle) Report {
	var report Report
	report.Config.Path = path
	if cfg != nil {
		report.Config.Found = true
		report.Config.Devices = len(cfg.Devices)
		report.Config.SkipCategories = cfg.SkipCategories
		report.Config.MuteAds = cfg.MuteAds
		report.Config.SkipAds = cfg.SkipAds
		report.Wiring.MetricsEnabled = cfg.MetricsAddr != ""
	}
	if bundle != nil {
		report.Wiring.SessionFactoryWired = bundle.SessionFactoryWired()
	}
	report.Ready = report.Config.Found && report.Config.Devices > 0 && report.Wiring.SessionFactoryWired
	return report
}

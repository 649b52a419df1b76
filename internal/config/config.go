// Package config handles export configuration loading and management.
package config

// Config holds all exporter settings.
type Config struct {
	Export  ExportConfig  `yaml:"export"`
	Logging LoggingConfig `yaml:"logging"`
}

// ExportConfig holds the recognized export options.
type ExportConfig struct {
	Version      string `yaml:"version"`       // target format version, e.g. "3.6.0.3"
	BatchMode    bool   `yaml:"batch_mode"`    // one file per top-level grouping
	SelectedOnly bool   `yaml:"selected_only"` // only traverse selected nodes
	Collision    bool   `yaml:"collision"`     // attach collision blobs
	CollisionDir string `yaml:"collision_dir"` // sidecar directory for collision blobs
	OutputDir    string `yaml:"output_dir"`    // batch mode output directory
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Export: ExportConfig{
			Version:   "3.6.0.3",
			OutputDir: ".",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

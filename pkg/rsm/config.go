package rsm

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// Config holds the BTL parameters a host framework would normally register
// one at a time. §6's wire constants (BLOCK_SIZE, MAX_BLOCKS, EAGER_LIMIT)
// are frozen across every peer compiling against this layout and are not
// configurable; Config only covers knobs that actually change runtime
// behavior, loaded from an ini-format parameter file the way the teacher
// loads its EDS files.
type Config struct {
	BackingDirectory string
	BandwidthMbps    int
	LatencyMicros    int
}

// DefaultConfig returns the parameter set implied by §6: advertisement
// hints as specified, backing directory defaulting to the usual POSIX
// shared-memory mount.
func DefaultConfig() Config {
	return Config{
		BackingDirectory: "/dev/shm",
		BandwidthMbps:    20000,
		LatencyMicros:    1,
	}
}

// LoadConfig reads BTL parameters from an ini-format file (section
// "btl_rsm"), overlaying them onto DefaultConfig. Missing keys keep their
// default value.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := ini.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("rsm: loading config %s: %w", path, err)
	}

	section := f.Section("btl_rsm")
	if section.HasKey("backing_directory") {
		cfg.BackingDirectory = section.Key("backing_directory").String()
	}
	if section.HasKey("bandwidth_mbps") {
		v, err := section.Key("bandwidth_mbps").Int()
		if err != nil {
			return cfg, fmt.Errorf("rsm: parsing bandwidth_mbps: %w", err)
		}
		cfg.BandwidthMbps = v
	}
	if section.HasKey("latency_micros") {
		v, err := section.Key("latency_micros").Int()
		if err != nil {
			return cfg, fmt.Errorf("rsm: parsing latency_micros: %w", err)
		}
		cfg.LatencyMicros = v
	}
	return cfg, nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Simulation SimulationConfig `toml:"simulation"`
	Delay      DelayConfig      `toml:"delay"`
	Population PopulationConfig `toml:"population"`
	Topology   TopologyConfig   `toml:"topology"`
	Model      ModelConfig      `toml:"model"`
	Data       DataConfig       `toml:"data"`
	Report     ReportConfig     `toml:"report"`
	Logging    LoggingConfig    `toml:"logging"`
}

type SimulationConfig struct {
	Rounds       int     `toml:"rounds"`
	Delta        int     `toml:"delta"`
	Protocol     string  `toml:"protocol"`
	DropProb     float64 `toml:"drop_prob"`
	OnlineProb   float64 `toml:"online_prob"`
	SamplingEval float64 `toml:"sampling_eval"`
	Seed         uint64  `toml:"seed"`
	Sync         bool    `toml:"sync"`
	ParallelEval bool    `toml:"parallel_eval"`
}

// DelayConfig selects the message delay model. Ticks applies to "constant",
// Min/Max to "uniform", TimePerUnit/Overhead to "linear".
type DelayConfig struct {
	Kind        string  `toml:"kind"`
	Ticks       int     `toml:"ticks"`
	Min         int     `toml:"min"`
	Max         int     `toml:"max"`
	TimePerUnit float64 `toml:"time_per_unit"`
	Overhead    int     `toml:"overhead"`
}

type PopulationConfig struct {
	Nodes             int     `toml:"nodes"`
	MaliciousFraction float64 `toml:"malicious_fraction"`
	Assignment        string  `toml:"assignment"`

	// RestorePolicy is on_next_send, on_receive or immediately. on_receive
	// is a strict diagnostic mode and is expected to abort most runs that
	// have malicious nodes.
	RestorePolicy string `toml:"restore_policy"`
}

type TopologyConfig struct {
	Kind       string `toml:"kind"`
	Neighbours int    `toml:"neighbours"`
}

type ModelConfig struct {
	LearningRate float64 `toml:"learning_rate"`
	Epochs       int     `toml:"epochs"`
}

type DataConfig struct {
	Dim            int     `toml:"dim"`
	SamplesPerNode int     `toml:"samples_per_node"`
	TestFraction   float64 `toml:"test_fraction"`
	EvalSize       int     `toml:"eval_size"`
	Noise          float64 `toml:"noise"`
}

// ReportConfig.Path names a bbolt file for recorded results; empty keeps
// results in memory only.
type ReportConfig struct {
	Path string `toml:"path"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Simulation: SimulationConfig{
			Rounds:     100,
			Delta:      10,
			Protocol:   "push",
			DropProb:   0,
			OnlineProb: 1,
			Seed:       42,
			Sync:       true,
		},
		Delay: DelayConfig{
			Kind: "constant",
		},
		Population: PopulationConfig{
			Nodes:         20,
			Assignment:    "block",
			RestorePolicy: "on_next_send",
		},
		Topology: TopologyConfig{
			Kind:       "complete",
			Neighbours: 2,
		},
		Model: ModelConfig{
			LearningRate: 0.1,
			Epochs:       1,
		},
		Data: DataConfig{
			Dim:            4,
			SamplesPerNode: 20,
			TestFraction:   0.2,
			EvalSize:       200,
			Noise:          0.1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads a TOML config file and returns the parsed Config.
// If path is empty, only defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("parsing config: unknown keys %s", strings.Join(keys, ", "))
	}

	return cfg, nil
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Config carries the builder settings that are stable across runs: where the
// upstream and fork repositories live, how patch branches are named, and how
// the emitted packages are labeled.
type Config struct {
	PackageName     string   `yaml:"packageName"`
	Release         string   `yaml:"release"`
	Suffix          string   `yaml:"suffix"`
	DebArch         string   `yaml:"debArch"`
	RPMArch         string   `yaml:"rpmArch"`
	UpstreamURL     string   `yaml:"upstreamURL"`
	ForkURL         string   `yaml:"forkURL"`
	ForkMainBranch  string   `yaml:"forkMainBranch"`
	PatchBranchBase string   `yaml:"patchBranchBase"`
	RPMCandidates   []string `yaml:"rpmCandidates"`
	AptIndexURL     string   `yaml:"aptIndexURL"`
}

// schema validates the shape of a builder config file before it is decoded.
const schema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "packageName":     {"type": "string", "minLength": 1},
    "release":         {"type": "string", "minLength": 1},
    "suffix":          {"type": "string"},
    "debArch":         {"type": "string", "minLength": 1},
    "rpmArch":         {"type": "string", "minLength": 1},
    "upstreamURL":     {"type": "string", "minLength": 1},
    "forkURL":         {"type": "string", "minLength": 1},
    "forkMainBranch":  {"type": "string", "minLength": 1},
    "patchBranchBase": {"type": "string", "minLength": 1},
    "rpmCandidates":   {"type": "array", "items": {"type": "string", "minLength": 1}},
    "aptIndexURL":     {"type": "string"}
  }
}`

// Default returns the compiled-in builder configuration.
func Default() *Config {
	return &Config{
		PackageName:     "nvidia-open-armsbc",
		Release:         "1",
		Suffix:          "",
		DebArch:         "arm64",
		RPMArch:         "aarch64",
		UpstreamURL:     "https://github.com/NVIDIA/open-gpu-kernel-modules",
		ForkURL:         "https://github.com/scottjg/open-gpu-kernel-modules",
		ForkMainBranch:  "main",
		PatchBranchBase: "armsbc",
		RPMCandidates: []string{
			"akmod-nvidia-open",
			"akmod-nvidia",
			"xorg-x11-drv-nvidia",
		},
		AptIndexURL: "https://ports.ubuntu.com/ubuntu-ports",
	}
}

// Load reads a config file and overlays it on the defaults. A missing path
// is not an error: the defaults are used as-is.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := validate(data); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

func validate(data []byte) error {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing yaml: %w", err)
	}
	if raw == nil {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.schema.json", strings.NewReader(schema)); err != nil {
		return fmt.Errorf("loading config schema: %w", err)
	}
	sch, err := compiler.Compile("config.schema.json")
	if err != nil {
		return fmt.Errorf("compiling config schema: %w", err)
	}
	if err := sch.Validate(raw); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

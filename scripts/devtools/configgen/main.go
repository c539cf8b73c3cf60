// Command configgen renders per-binary config files from base configs plus a
// profile, so the shared secrets are written consistently into every binary.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

type Profile struct {
	OutputDir string                   `yaml:"outputDir"`
	Secrets   SharedSecrets            `yaml:"secrets"`
	Binaries  map[string]BinaryProfile `yaml:"binaries"`
}

// SharedSecrets are the values that must agree between binaries.
type SharedSecrets struct {
	JWTSecret      string `yaml:"jwtSecret"`
	JWTIssuer      string `yaml:"jwtIssuer"`
	ExecutorSecret string `yaml:"executorSecret"`
	OpsSecret      string `yaml:"opsSecret"`
}

// BinaryProfile names a base config and the overrides applied on top.
// Kind is one of server, executor, notifier, gradectl.
type BinaryProfile struct {
	Kind      string                 `yaml:"kind"`
	Base      string                 `yaml:"base"`
	Output    string                 `yaml:"output"`
	Overrides map[string]interface{} `yaml:"overrides"`
}

func main() {
	profilePath := flag.String("profile", "configs/dev-profile.yaml", "Path to config profile")
	outputDir := flag.String("output-dir", "", "Override output directory")
	flag.Parse()

	if err := generate(*profilePath, *outputDir); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}

func generate(profilePath, outputDir string) error {
	profilePathAbs, err := filepath.Abs(profilePath)
	if err != nil {
		return fmt.Errorf("resolve profile path failed: %w", err)
	}
	profile, err := loadProfile(profilePathAbs)
	if err != nil {
		return fmt.Errorf("load profile failed: %w", err)
	}
	if outputDir != "" {
		profile.OutputDir = outputDir
	}
	if profile.OutputDir == "" {
		return errors.New("output directory is required")
	}
	profileDir := filepath.Dir(profilePathAbs)
	if !filepath.IsAbs(profile.OutputDir) {
		profile.OutputDir = filepath.Join(profileDir, profile.OutputDir)
	}

	names := make([]string, 0, len(profile.Binaries))
	for name := range profile.Binaries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		binary := profile.Binaries[name]
		if binary.Base == "" {
			return fmt.Errorf("binary %q missing base config", name)
		}
		if !filepath.IsAbs(binary.Base) {
			binary.Base = filepath.Join(profileDir, binary.Base)
		}
		config, err := render(profile.Secrets, binary)
		if err != nil {
			return fmt.Errorf("render %q: %w", name, err)
		}
		outputPath, err := resolveOutputPath(profile.OutputDir, binary)
		if err != nil {
			return fmt.Errorf("resolve output path for %q: %w", name, err)
		}
		if err := writeYAML(outputPath, config); err != nil {
			return fmt.Errorf("write config for %q: %w", name, err)
		}
	}
	return nil
}

func render(secrets SharedSecrets, binary BinaryProfile) (map[string]interface{}, error) {
	base, err := loadYAML(binary.Base)
	if err != nil {
		return nil, err
	}
	config, ok := normalizeValue(base).(map[string]interface{})
	if !ok {
		if base != nil {
			return nil, errors.New("base config is not a map")
		}
		config = map[string]interface{}{}
	}
	if len(binary.Overrides) > 0 {
		override, _ := normalizeValue(binary.Overrides).(map[string]interface{})
		config = mergeMap(config, override)
	}
	if err := applySecrets(secrets, binary.Kind, config); err != nil {
		return nil, err
	}
	return config, nil
}

func loadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile failed: %w", err)
	}
	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile failed: %w", err)
	}
	if len(profile.Binaries) == 0 {
		return nil, errors.New("profile has no binaries")
	}
	return &profile, nil
}

func loadYAML(path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read yaml failed: %w", err)
	}
	var value interface{}
	if err := yaml.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("parse yaml failed: %w", err)
	}
	return value, nil
}

func writeYAML(path string, value interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir failed: %w", err)
	}
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal yaml failed: %w", err)
	}
	// Rendered files carry secrets.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write yaml failed: %w", err)
	}
	return nil
}

func resolveOutputPath(outputDir string, binary BinaryProfile) (string, error) {
	output := binary.Output
	if output == "" {
		output = filepath.Base(binary.Base)
	}
	if output == "" || output == "." {
		return "", errors.New("output path is empty")
	}
	if filepath.IsAbs(output) {
		return output, nil
	}
	return filepath.Join(outputDir, output), nil
}

func normalizeValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = normalizeValue(v)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			key, ok := k.(string)
			if !ok {
				key = fmt.Sprintf("%v", k)
			}
			out[key] = normalizeValue(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, normalizeValue(item))
		}
		return out
	default:
		return value
	}
}

// mergeMap overlays override onto base; nested maps merge, everything else replaces.
func mergeMap(base, override map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(base))
	for k, v := range base {
		merged[k] = v
	}
	for key, overrideValue := range override {
		baseChild, baseIsMap := merged[key].(map[string]interface{})
		overrideChild, overrideIsMap := overrideValue.(map[string]interface{})
		if baseIsMap && overrideIsMap {
			merged[key] = mergeMap(baseChild, overrideChild)
			continue
		}
		merged[key] = overrideValue
	}
	return merged
}

func applySecrets(secrets SharedSecrets, kind string, config map[string]interface{}) error {
	switch kind {
	case "server":
		auth := section(config, "auth")
		setIf(auth, "jwtSecret", secrets.JWTSecret)
		setIf(auth, "jwtIssuer", secrets.JWTIssuer)
		setIf(auth, "executorSecret", secrets.ExecutorSecret)
		setIf(auth, "opsSecret", secrets.OpsSecret)
	case "executor":
		setIf(section(config, "server"), "secret", secrets.ExecutorSecret)
	case "gradectl":
		setIf(config, "opsSecret", secrets.OpsSecret)
	case "notifier":
	default:
		return fmt.Errorf("unknown binary kind %q", kind)
	}
	return nil
}

func section(config map[string]interface{}, name string) map[string]interface{} {
	child, ok := config[name].(map[string]interface{})
	if !ok {
		child = map[string]interface{}{}
		config[name] = child
	}
	return child
}

func setIf(m map[string]interface{}, key, value string) {
	if value != "" {
		m[key] = value
	}
}

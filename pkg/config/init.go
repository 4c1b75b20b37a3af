package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// sectionComments are attached above the matching keys of the generated
// configuration file, addressed by their dotted path.
var sectionComments = map[string]string{
	"logging":                     "Logging\nlevel: DEBUG, INFO, WARN or ERROR. format: text or json.\noutput: stdout, stderr or a file path.",
	"core":                        "Engine behavior",
	"core.case_sensitivity":       "sensitive, insensitive or insensitive-preserving",
	"core.limits":                 "Registry limits. 0 means unlimited.",
	"core.security":               "POSIX permission enforcement. Callers without credentials act as default_uid/default_gid.",
	"core.cache":                  "Cache policy handed to adapters. The core itself does not cache across calls.",
	"content":                     "Copy-on-write content store",
	"content.max_bytes_in_memory": "In-memory budget in bytes. Blocks beyond it go to the spill tier.",
	"content.block_size":          "Copy-on-write granularity in bytes (power of two)",
	"content.spill":               "Spill tier: none, fs or badger. Spill files are deleted on shutdown.\ndirectory defaults to the OS temp directory.",
	"content.spill.fs":            "compression: none, lz4 or zstd",
	"content.spill.badger":        "compression: none, snappy or zstd",
	"control":                     "Control plane. Requests are rate limited per calling pid.",
	"metrics":                     "Prometheus metrics served on :port/metrics",
}

// InitConfig writes a default configuration file to the default location
// and returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	data, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// generateYAMLWithComments renders cfg as YAML with a header and a comment
// above each documented section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	var doc yaml.Node
	if err := doc.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	annotate(&doc, "")

	var b strings.Builder
	b.WriteString("# agentfs configuration file\n")
	b.WriteString("#\n")
	b.WriteString("# Every key can be overridden with an AGENTFS_ environment variable,\n")
	b.WriteString("# e.g. AGENTFS_LOGGING_LEVEL=DEBUG or AGENTFS_CORE_LIMITS_MAX_BRANCHES=50.\n\n")

	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return b.String(), nil
}

// Show renders cfg as plain YAML.
func Show(cfg *Config) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return string(data), nil
}

func annotate(node *yaml.Node, prefix string) {
	if node.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		path := key.Value
		if prefix != "" {
			path = prefix + "." + key.Value
		}
		if comment, ok := sectionComments[path]; ok {
			key.HeadComment = "# " + strings.ReplaceAll(comment, "\n", "\n# ")
		}
		annotate(value, path)
	}
}

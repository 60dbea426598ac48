package validate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Check names.
const (
	CheckRequiredFiles = "required-files"
	CheckRequiredDirs  = "required-dirs"
	CheckMetadata      = "metadata"
	CheckIdentity      = "identity"
	CheckDefinition    = "definition"
	CheckDocs          = "docs"
	CheckRego          = "rego"
	CheckBuild         = "build"
)

// DefaultChecks is the check order used when a Config does not declare one.
var DefaultChecks = []string{
	CheckRequiredFiles,
	CheckRequiredDirs,
	CheckMetadata,
	CheckIdentity,
	CheckDefinition,
	CheckDocs,
	CheckRego,
	CheckBuild,
}

// Config is the validation rule set. Field names follow the JSON rule file
// contributors' CI already uses.
//
// RequiredMetadataFields entries have the form "key" or "key:type", where key
// may be a dotted path into nested objects and type is one of string, number,
// bool, array, object, or any.
type Config struct {
	RequiredFiles           []string `json:"requiredFiles" yaml:"requiredFiles"`
	RequiredDirs            []string `json:"requiredDirs" yaml:"requiredDirs"`
	RequiredDocsFiles       []string `json:"requiredDocsFiles" yaml:"requiredDocsFiles"`
	RequiredMetadataFields  []string `json:"requiredMetadataFields" yaml:"requiredMetadataFields"`
	StrictValidation        bool     `json:"strictValidation" yaml:"strictValidation"`
	EnableGoBuildValidation bool     `json:"enableGoBuildValidation" yaml:"enableGoBuildValidation"`
	MaxParallelJobs         int      `json:"maxParallelJobs" yaml:"maxParallelJobs"`

	MetadataFile   string   `json:"metadataFile,omitempty" yaml:"metadataFile,omitempty"`
	DefinitionFile string   `json:"definitionFile,omitempty" yaml:"definitionFile,omitempty"`
	RegoPolicy     string   `json:"regoPolicy,omitempty" yaml:"regoPolicy,omitempty"`
	RegoPolicyFile string   `json:"regoPolicyFile,omitempty" yaml:"regoPolicyFile,omitempty"`
	Checks         []string `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// DefaultConfig returns the strict rule set for a Go policy contribution.
func DefaultConfig() Config {
	return Config{
		RequiredFiles:          []string{"metadata.json", "policy-definition.yaml"},
		RequiredDocsFiles:      []string{"README.md"},
		RequiredMetadataFields: []string{"name:string", "version:string", "description:string"},
		StrictValidation:       true,
		MaxParallelJobs:        4,
		MetadataFile:           "metadata.json",
		DefinitionFile:         "policy-definition.yaml",
	}
}

// Validate checks the config fields.
func (c *Config) Validate() error {
	if c.MaxParallelJobs < 0 {
		return fmt.Errorf("%w: maxParallelJobs must be >= 0", ErrInvalidConfig)
	}
	for _, f := range c.RequiredMetadataFields {
		if _, err := parseFieldSpec(f); err != nil {
			return err
		}
	}
	for _, name := range c.Checks {
		if !slices.Contains(DefaultChecks, name) {
			return fmt.Errorf("%w: %q", ErrUnknownCheck, name)
		}
	}
	if c.RegoPolicy != "" && c.RegoPolicyFile != "" {
		return fmt.Errorf("%w: regoPolicy and regoPolicyFile are mutually exclusive", ErrInvalidConfig)
	}
	for _, p := range slices.Concat(c.RequiredFiles, c.RequiredDirs, c.RequiredDocsFiles) {
		if !validRelPath(p) {
			return fmt.Errorf("%w: path %q must be relative to the version directory", ErrInvalidConfig, p)
		}
	}
	return nil
}

func (c *Config) metadataFile() string {
	if c.MetadataFile == "" {
		return "metadata.json"
	}
	return c.MetadataFile
}

func (c *Config) definitionFile() string {
	if c.DefinitionFile == "" {
		return "policy-definition.yaml"
	}
	return c.DefinitionFile
}

func (c *Config) checks() []string {
	if len(c.Checks) == 0 {
		return DefaultChecks
	}
	return c.Checks
}

// LoadConfig reads a rule file. Files ending in .yaml or .yml are parsed as
// YAML; anything else is parsed as JSON with comments and trailing commas
// allowed. Fields absent from the file keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	//nolint:gosec // path is operator-provided
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read rules %s: %w", path, err)
	}
	cfg, err := ParseConfig(data, filepath.Ext(path))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.RegoPolicyFile != "" && !filepath.IsAbs(cfg.RegoPolicyFile) {
		cfg.RegoPolicyFile = filepath.Join(filepath.Dir(path), cfg.RegoPolicyFile)
	}
	return cfg, nil
}

// ParseConfig decodes a rule file body. ext selects the format as in LoadConfig.
func ParseConfig(data []byte, ext string) (Config, error) {
	cfg := DefaultConfig()
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validRelPath(p string) bool {
	if p == "" || filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}

package validate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/meigma/release"
)

// check is one step of the pipeline.
type check struct {
	name       string
	structural bool
	run        func(ctx context.Context, in *input) release.CheckResult
}

// input is the per-candidate view shared by the checks of one run. The
// metadata document is parsed at most once.
type input struct {
	cand release.Candidate
	cfg  *Config

	metaOnce sync.Once
	meta     map[string]any
	metaErr  error
}

func (in *input) metadata() (map[string]any, error) {
	in.metaOnce.Do(func() {
		name := in.cfg.metadataFile()
		data, err := fs.ReadFile(in.cand.Files, name)
		if err != nil {
			in.metaErr = fmt.Errorf("read %s: %w", name, err)
			return
		}
		in.meta, err = parseMetadata(data)
		if err != nil {
			in.metaErr = fmt.Errorf("parse %s: %w", name, err)
		}
	})
	return in.meta, in.metaErr
}

func pass(name string) release.CheckResult {
	return release.CheckResult{Name: name, Passed: true}
}

func fail(name string, problems ...string) release.CheckResult {
	return release.CheckResult{Name: name, Message: strings.Join(problems, "; ")}
}

func requiredFilesCheck(cfg *Config) check {
	return check{
		name:       CheckRequiredFiles,
		structural: true,
		run: func(_ context.Context, in *input) release.CheckResult {
			var missing []string
			for _, f := range cfg.RequiredFiles {
				info, err := fs.Stat(in.cand.Files, f)
				if err != nil || info.IsDir() {
					missing = append(missing, f)
				}
			}
			if len(missing) > 0 {
				return fail(CheckRequiredFiles, "missing required files: "+strings.Join(missing, ", "))
			}
			return pass(CheckRequiredFiles)
		},
	}
}

func requiredDirsCheck(cfg *Config) check {
	return check{
		name:       CheckRequiredDirs,
		structural: true,
		run: func(_ context.Context, in *input) release.CheckResult {
			var missing []string
			for _, d := range cfg.RequiredDirs {
				info, err := fs.Stat(in.cand.Files, strings.TrimSuffix(d, "/"))
				if err != nil || !info.IsDir() {
					missing = append(missing, d)
				}
			}
			if len(missing) > 0 {
				return fail(CheckRequiredDirs, "missing required directories: "+strings.Join(missing, ", "))
			}
			return pass(CheckRequiredDirs)
		},
	}
}

func metadataCheck(cfg *Config) check {
	specs := make([]fieldSpec, 0, len(cfg.RequiredMetadataFields))
	for _, f := range cfg.RequiredMetadataFields {
		// Validated by Config.Validate.
		spec, _ := parseFieldSpec(f)
		specs = append(specs, spec)
	}
	return check{
		name: CheckMetadata,
		run: func(_ context.Context, in *input) release.CheckResult {
			doc, err := in.metadata()
			if err != nil {
				return fail(CheckMetadata, err.Error())
			}
			if problems := checkFields(doc, specs); len(problems) > 0 {
				return fail(CheckMetadata, problems...)
			}
			return pass(CheckMetadata)
		},
	}
}

// identityCheck verifies that the metadata describes the directory it lives
// in. Absent name or version fields are left to the metadata check.
func identityCheck() check {
	return check{
		name: CheckIdentity,
		run: func(_ context.Context, in *input) release.CheckResult {
			doc, err := in.metadata()
			if err != nil {
				return fail(CheckIdentity, err.Error())
			}
			var problems []string
			if name, ok := doc["name"].(string); ok && name != in.cand.Name {
				problems = append(problems, fmt.Sprintf("metadata name %q does not match directory %q", name, in.cand.Name))
			}
			if version, ok := doc["version"].(string); ok && version != in.cand.Version {
				problems = append(problems, fmt.Sprintf("metadata version %q does not match directory %q", version, in.cand.Version))
			}
			if len(problems) > 0 {
				return fail(CheckIdentity, problems...)
			}
			return pass(CheckIdentity)
		},
	}
}

// definitionCheck verifies that the policy definition file, when present, is
// a well-formed YAML mapping.
func definitionCheck(cfg *Config) check {
	return check{
		name: CheckDefinition,
		run: func(_ context.Context, in *input) release.CheckResult {
			name := cfg.definitionFile()
			data, err := fs.ReadFile(in.cand.Files, name)
			if errors.Is(err, fs.ErrNotExist) {
				return release.CheckResult{Name: CheckDefinition, Passed: true, Message: name + " not present"}
			}
			if err != nil {
				return fail(CheckDefinition, err.Error())
			}
			if len(bytes.TrimSpace(data)) == 0 {
				return fail(CheckDefinition, name+" is empty")
			}
			var doc map[string]any
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return fail(CheckDefinition, fmt.Sprintf("parse %s: %v", name, err))
			}
			return pass(CheckDefinition)
		},
	}
}

func docsCheck(cfg *Config) check {
	return check{
		name: CheckDocs,
		run: func(_ context.Context, in *input) release.CheckResult {
			var problems []string
			for _, f := range cfg.RequiredDocsFiles {
				data, err := fs.ReadFile(in.cand.Files, f)
				switch {
				case err != nil:
					problems = append(problems, "missing "+f)
				case len(data) == 0:
					problems = append(problems, f+" is empty")
				}
			}
			if len(problems) > 0 {
				return fail(CheckDocs, problems...)
			}
			return pass(CheckDocs)
		},
	}
}

func regoCheck(rule *regoRule) check {
	return check{
		name: CheckRego,
		run: func(ctx context.Context, in *input) release.CheckResult {
			// Metadata problems are reported by the metadata check; the rule
			// still sees the file list.
			doc, _ := in.metadata()
			files, err := listFiles(in.cand.Files)
			if err != nil {
				return fail(CheckRego, err.Error())
			}
			reasons, err := rule.eval(ctx, regoInput{
				Name:        in.cand.Name,
				Version:     in.cand.Version,
				ContentHash: in.cand.ContentHash.String(),
				Metadata:    doc,
				Files:       files,
			})
			if err != nil {
				return fail(CheckRego, err.Error())
			}
			if len(reasons) > 0 {
				return fail(CheckRego, reasons...)
			}
			return pass(CheckRego)
		},
	}
}

func buildCheck(oracle BuildOracle) check {
	return check{
		name: CheckBuild,
		run: func(ctx context.Context, in *input) release.CheckResult {
			if err := oracle.Build(ctx, in.cand); err != nil {
				return fail(CheckBuild, err.Error())
			}
			return pass(CheckBuild)
		},
	}
}

func listFiles(fsys fs.FS) ([]string, error) {
	var files []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

package schema

import (
	"os"

	"github.com/Ramsey-B/fern/pkg/kgerrors"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type overridesFile struct {
	Classification map[string]TargetRole `yaml:"classification"`
	SkipFields     []string              `yaml:"skip_fields"`
}

// ParseOverrides reads planner options from YAML:
//
//	classification:
//	  RunBiosample: sample
//	  Person: metadata
//	skip_fields: [sources, xref, provenance]
func ParseOverrides(data []byte) (Options, error) {
	var file overridesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Options{}, kgerrors.Wrap(kgerrors.KindSchemaInference, err, "invalid planner overrides")
	}
	for collection, role := range file.Classification {
		if !role.valid() {
			return Options{}, kgerrors.Newf(kgerrors.KindSchemaInference, "invalid classification override %q", role).WithCollection(collection)
		}
	}
	return Options{SkipFields: file.SkipFields, Overrides: file.Classification}, nil
}

// LoadOverrides reads planner options from a YAML file. An empty path yields defaults.
func LoadOverrides(path string) (Options, error) {
	if path == "" {
		return Options{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, errors.Wrapf(err, "failed to read planner overrides %s", path)
	}
	return ParseOverrides(data)
}

package engineconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/quantfall/perpintel/internal/core"
)

// ExportFormat selects the serialization of an export payload.
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatYAML ExportFormat = "yaml"
)

// ExportPayload wraps a config for transfer between deployments.
type ExportPayload struct {
	SchemaVersion string         `json:"schema_version" yaml:"schema_version"`
	ExportedAt    int64          `json:"exported_at" yaml:"exported_at"`
	Config        PipelineConfig `json:"config" yaml:"config"`
}

// ImportResult reports what an import did.
type ImportResult struct {
	Applied    bool           `json:"applied"`
	NewVersion int            `json:"new_version,omitempty"`
	NoChanges  bool           `json:"no_changes"`
	Config     PipelineConfig `json:"config"`
}

// Export serializes the active config.
func (s *Store) Export(format ExportFormat) ([]byte, error) {
	active := s.Active()
	payload := ExportPayload{
		SchemaVersion: active.SchemaVersion,
		ExportedAt:    active.CreatedAt,
		Config:        active,
	}

	switch format {
	case FormatYAML:
		return yaml.Marshal(payload)
	case FormatJSON, "":
		return json.MarshalIndent(payload, "", "  ")
	default:
		return nil, core.NewError(core.KindValidationFailure, "unsupported export format %q", format)
	}
}

// Import applies an exported payload through the normal update path.
// Re-importing the active config is detected and applied as a no-op with
// zero changes, preserving the export/import round-trip law.
func (s *Store) Import(ctx context.Context, data []byte, format ExportFormat, importedBy string) (*ImportResult, error) {
	payload, err := decodePayload(data, format)
	if err != nil {
		return nil, err
	}

	if err := checkSchemaCompatibility(payload.SchemaVersion); err != nil {
		return nil, err
	}

	if err := Validate(payload.Config); err != nil {
		return nil, err
	}

	active := s.Active()
	if sameParameters(active, payload.Config) {
		return &ImportResult{Applied: false, NoChanges: true, Config: active}, nil
	}

	proposed := payload.Config
	proposed.CreatedBy = importedBy
	if proposed.Notes == "" {
		proposed.Notes = "imported"
	}

	applied, err := s.Update(ctx, proposed, active.Version)
	if err != nil {
		return nil, err
	}
	return &ImportResult{Applied: true, NewVersion: applied.Version, Config: applied}, nil
}

func decodePayload(data []byte, format ExportFormat) (*ExportPayload, error) {
	var payload ExportPayload
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &payload); err != nil {
			return nil, core.WrapError(core.KindValidationFailure, err, "invalid yaml export payload")
		}
	case FormatJSON, "":
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, core.WrapError(core.KindValidationFailure, err, "invalid json export payload")
		}
	default:
		return nil, core.NewError(core.KindValidationFailure, "unsupported import format %q", format)
	}
	if payload.SchemaVersion == "" {
		return nil, core.NewError(core.KindValidationFailure, "export payload missing schema_version")
	}
	return &payload, nil
}

// checkSchemaCompatibility accepts payloads whose schema version shares the
// current major version and is not newer than this build.
func checkSchemaCompatibility(version string) error {
	in, err := semver.NewVersion(version)
	if err != nil {
		return core.WrapError(core.KindValidationFailure, err, "invalid schema version %q", version)
	}
	current, err := semver.NewVersion(SchemaVersion)
	if err != nil {
		return fmt.Errorf("invalid built-in schema version %s: %w", SchemaVersion, err)
	}

	if in.GreaterThan(current) {
		return core.NewError(core.KindValidationFailure,
			"payload schema %s is newer than supported %s", version, SchemaVersion)
	}
	if in.Major() != current.Major() {
		return core.NewError(core.KindValidationFailure,
			"no migration path from schema %s to %s", version, SchemaVersion)
	}
	return nil
}

// sameParameters compares two configs ignoring version bookkeeping fields.
func sameParameters(a, b PipelineConfig) bool {
	a.Version, b.Version = 0, 0
	a.CreatedAt, b.CreatedAt = 0, 0
	a.CreatedBy, b.CreatedBy = "", ""
	a.Notes, b.Notes = "", ""
	return bytes.Equal(mustCanonical(a), mustCanonical(b))
}

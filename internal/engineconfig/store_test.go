package engineconfig

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/perpintel/internal/core"
)

func decodeJSON(data []byte, v any) error { return json.Unmarshal(data, v) }

func encodeJSON(v any) ([]byte, error) { return json.Marshal(v) }

func TestDefaultConfigValidates(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestValidateRejectsBadWeightSum(t *testing.T) {
	cfg := Default()
	cfg.Weights.Signals[core.SignalTechnical] = 0.5 // sum now > 1

	err := Validate(cfg)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindValidationFailure))
}

func TestValidateRejectsMissingRequiredSignal(t *testing.T) {
	cfg := Default()
	delete(cfg.Weights.Signals, core.SignalCVD)
	// Restore the sum so only the missing-signal rule fires.
	cfg.Weights.Signals[core.SignalTechnical] += 0.15

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cvd")
}

func TestWeightSumTolerance(t *testing.T) {
	cfg := Default()
	// Nudge within tolerance: still accepted, never compared for equality.
	cfg.Weights.Signals[core.SignalFunding] += 5e-7
	require.NoError(t, Validate(cfg))
}

func TestUpdateOptimisticConcurrency(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()

	proposed := s.Active()
	proposed.Gates.MacroPermission = 6.5 // within 10% bound

	applied, err := s.Update(ctx, proposed, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, applied.Version)

	// A second writer based on the stale version must conflict.
	stale := s.Active()
	stale.Gates.MacroPermission = 6.2
	_, err = s.Update(ctx, stale, 1)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindVersionConflict))
}

func TestUpdateBoundedDelta(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()

	proposed := s.Active()
	// Move weight mass by 0.30, beyond the 0.25 cap.
	proposed.Weights.Signals[core.SignalTechnical] -= 0.15
	proposed.Weights.Signals[core.SignalCVD] += 0.30
	proposed.Weights.Signals[core.SignalStructure] -= 0.15

	_, err := s.Update(ctx, proposed, 1)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindValidationFailure))
	assert.Contains(t, err.Error(), "cvd")
}

func TestLoadVersionByteIdentical(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()

	first, err := s.LoadVersion(1)
	require.NoError(t, err)

	proposed := s.Active()
	proposed.Penalties.AlignmentBonus = 1.1
	_, err = s.Update(ctx, proposed, 1)
	require.NoError(t, err)

	// Version 1 is immutable: later reads return identical bytes.
	again, err := s.LoadVersion(1)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	_, err = s.LoadVersion(99)
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindNotFound))
}

func TestActiveSnapshotIsolation(t *testing.T) {
	s := NewStore(nil)

	snap := s.Active()
	snap.Weights.Signals[core.SignalTechnical] = 0.99

	// Mutating the snapshot must not leak into the store.
	assert.InDelta(t, 0.20, s.Active().Weights.Signals[core.SignalTechnical], 1e-9)
}

func TestRollback(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()

	proposed := s.Active()
	proposed.Gates.SetupVeto = 6.5
	_, err := s.Update(ctx, proposed, 1)
	require.NoError(t, err)

	rolled, err := s.Rollback(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, rolled.Version)
	assert.InDelta(t, 6.0, rolled.Gates.SetupVeto, 1e-9)

	history := s.History()
	require.Len(t, history, 3)
	assert.True(t, history[2].Rollback)
}

func TestExportImportRoundTrip(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()

	for _, format := range []ExportFormat{FormatJSON, FormatYAML} {
		payload, err := s.Export(format)
		require.NoError(t, err)

		res, err := s.Import(ctx, payload, format, "tester")
		require.NoError(t, err)
		assert.False(t, res.Applied, "re-import of the active config must apply zero changes (%s)", format)
		assert.True(t, res.NoChanges)
		assert.Equal(t, 1, s.ActiveVersion())
	}
}

func TestImportAppliesChangedConfig(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()

	payload, err := s.Export(FormatJSON)
	require.NoError(t, err)

	var decoded ExportPayload
	require.NoError(t, decodeJSON(payload, &decoded))
	decoded.Config.Penalties.AlignmentBonus = 1.1
	reencoded, err := encodeJSON(decoded)
	require.NoError(t, err)

	res, err := s.Import(ctx, reencoded, FormatJSON, "tester")
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, 2, res.NewVersion)
}

func TestImportRejectsNewerSchema(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()

	payload, err := s.Export(FormatJSON)
	require.NoError(t, err)

	var decoded ExportPayload
	require.NoError(t, decodeJSON(payload, &decoded))
	decoded.SchemaVersion = "2.0.0"
	reencoded, err := encodeJSON(decoded)
	require.NoError(t, err)

	_, err = s.Import(ctx, reencoded, FormatJSON, "tester")
	require.Error(t, err)
	assert.True(t, core.IsKind(err, core.KindValidationFailure))
}

type memRepo struct {
	saved map[int][]byte
}

func (r *memRepo) SaveVersion(_ context.Context, version int, payload []byte) error {
	if r.saved == nil {
		r.saved = make(map[int][]byte)
	}
	r.saved[version] = payload
	return nil
}

func (r *memRepo) LoadVersions(context.Context) (map[int][]byte, error) {
	return r.saved, nil
}

func TestUpdatePersistsThroughRepository(t *testing.T) {
	repo := &memRepo{}
	s := NewStore(repo)
	ctx := context.Background()

	proposed := s.Active()
	proposed.Gates.MacroPermission = 6.5
	applied, err := s.Update(ctx, proposed, 1)
	require.NoError(t, err)

	require.Contains(t, repo.saved, applied.Version)
}

func TestHydrateActivatesHighestPersistedVersion(t *testing.T) {
	repo := &memRepo{}
	first := NewStore(repo)
	ctx := context.Background()

	proposed := first.Active()
	proposed.Gates.MacroPermission = 6.5
	proposed.Notes = "tuned macro gate"
	applied, err := first.Update(ctx, proposed, 1)
	require.NoError(t, err)

	// A fresh store (service restart) hydrates to the persisted state.
	second := NewStore(repo)
	require.NoError(t, second.Hydrate(ctx))

	assert.Equal(t, applied.Version, second.ActiveVersion())
	assert.InDelta(t, 6.5, second.Active().Gates.MacroPermission, 1e-9)

	history := second.History()
	require.NotEmpty(t, history)
	assert.Equal(t, "tuned macro gate", history[len(history)-1].Notes)
}

func TestHydrateWithEmptyRepositoryKeepsBaseline(t *testing.T) {
	s := NewStore(&memRepo{})
	require.NoError(t, s.Hydrate(context.Background()))
	assert.Equal(t, 1, s.ActiveVersion())
}

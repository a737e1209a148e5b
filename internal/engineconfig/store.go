package engineconfig

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfall/perpintel/internal/core"
)

// Repository persists config versions. The store works without one; when
// present, writes go to it after the in-memory swap so readers never block
// on storage.
type Repository interface {
	SaveVersion(ctx context.Context, version int, payload []byte) error
	LoadVersions(ctx context.Context) (map[int][]byte, error)
}

// HistoryEntry records one accepted config write.
type HistoryEntry struct {
	Version   int    `json:"version"`
	CreatedAt int64  `json:"created_at"`
	CreatedBy string `json:"created_by,omitempty"`
	Notes     string `json:"notes,omitempty"`
	Rollback  bool   `json:"rollback,omitempty"`
}

// Store owns the single active config version. Readers take an immutable
// snapshot; writers go through optimistic concurrency. The mutex guards
// only the pointer swap and history append, never an I/O call.
type Store struct {
	mu       sync.RWMutex
	active   PipelineConfig
	payloads map[int][]byte // canonical JSON per version, immutable
	history  []HistoryEntry
	repo     Repository
	now      func() time.Time
}

// NewStore seeds a store with the baseline config as version 1.
func NewStore(repo Repository) *Store {
	s := &Store{
		payloads: make(map[int][]byte),
		repo:     repo,
		now:      time.Now,
	}
	initial := Default()
	initial.CreatedAt = s.now().UnixMilli()
	s.active = initial
	s.payloads[initial.Version] = mustCanonical(initial)
	s.history = append(s.history, HistoryEntry{
		Version:   initial.Version,
		CreatedAt: initial.CreatedAt,
		CreatedBy: "system",
		Notes:     "baseline",
	})
	return s
}

// Hydrate replaces the in-memory versions with what the repository holds,
// activating the highest persisted version. A repository with no rows
// leaves the baseline untouched.
func (s *Store) Hydrate(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	payloads, err := s.repo.LoadVersions(ctx)
	if err != nil {
		return err
	}
	if len(payloads) == 0 {
		return nil
	}

	versions := make([]int, 0, len(payloads))
	for v := range payloads {
		versions = append(versions, v)
	}
	sort.Ints(versions)

	decoded := make(map[int]PipelineConfig, len(versions))
	for _, v := range versions {
		var cfg PipelineConfig
		if err := json.Unmarshal(payloads[v], &cfg); err != nil {
			return core.WrapError(core.KindFatal, err, "persisted config version %d undecodable", v)
		}
		decoded[v] = cfg
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = make(map[int][]byte, len(versions))
	s.history = s.history[:0]
	for _, v := range versions {
		s.payloads[v] = payloads[v]
		cfg := decoded[v]
		s.history = append(s.history, HistoryEntry{
			Version:   cfg.Version,
			CreatedAt: cfg.CreatedAt,
			CreatedBy: cfg.CreatedBy,
			Notes:     cfg.Notes,
		})
	}
	s.active = decoded[versions[len(versions)-1]]

	log.Info().
		Int("versions", len(versions)).
		Int("active", s.active.Version).
		Msg("Config store hydrated from repository")
	return nil
}

// Active returns an immutable snapshot of the current config. The returned
// value is decoded from the stored canonical payload so callers can never
// alias the store's internal maps.
func (s *Store) Active() PipelineConfig {
	s.mu.RLock()
	payload := s.payloads[s.active.Version]
	s.mu.RUnlock()

	var cfg PipelineConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		// Payloads are produced by mustCanonical; a decode failure means
		// memory corruption, not bad input.
		panic(err)
	}
	return cfg
}

// ActiveVersion returns the current version number without copying.
func (s *Store) ActiveVersion() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.Version
}

// LoadVersion returns the byte-exact stored payload for a version.
func (s *Store) LoadVersion(version int) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	payload, ok := s.payloads[version]
	if !ok {
		return nil, core.NewError(core.KindNotFound, "config version %d not found", version)
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

// GetVersion decodes a stored version.
func (s *Store) GetVersion(version int) (PipelineConfig, error) {
	payload, err := s.LoadVersion(version)
	if err != nil {
		return PipelineConfig{}, err
	}
	var cfg PipelineConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return PipelineConfig{}, core.WrapError(core.KindFatal, err, "stored config version %d undecodable", version)
	}
	return cfg, nil
}

// History lists accepted writes, oldest first.
func (s *Store) History() []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// Update proposes a new config. It is accepted only when basedOnVersion
// equals the active version (optimistic concurrency) and the proposal
// passes structural plus bounded-delta validation. On success the active
// reference is swapped atomically and a history record appended.
func (s *Store) Update(ctx context.Context, proposed PipelineConfig, basedOnVersion int) (PipelineConfig, error) {
	if err := Validate(proposed); err != nil {
		return PipelineConfig{}, err
	}

	s.mu.Lock()
	if s.active.Version != basedOnVersion {
		current := s.active.Version
		s.mu.Unlock()
		return PipelineConfig{}, core.NewError(core.KindVersionConflict,
			"config changed: based on %d but active is %d, refresh required", basedOnVersion, current).
			WithContext("current_version", current)
	}

	if err := ValidateDelta(s.active, proposed); err != nil {
		s.mu.Unlock()
		return PipelineConfig{}, err
	}

	proposed.Version = s.active.Version + 1
	proposed.SchemaVersion = SchemaVersion
	proposed.CreatedAt = s.now().UnixMilli()

	payload := mustCanonical(proposed)
	s.active = proposed
	s.payloads[proposed.Version] = payload
	s.history = append(s.history, HistoryEntry{
		Version:   proposed.Version,
		CreatedAt: proposed.CreatedAt,
		CreatedBy: proposed.CreatedBy,
		Notes:     proposed.Notes,
	})
	s.mu.Unlock()

	s.persist(ctx, proposed.Version, payload)

	log.Info().
		Int("version", proposed.Version).
		Str("created_by", proposed.CreatedBy).
		Msg("Config version activated")

	return proposed, nil
}

// Rollback activates a copy of an earlier version as a new version, keeping
// version numbers strictly increasing and history append-only.
func (s *Store) Rollback(ctx context.Context, toVersion int) (PipelineConfig, error) {
	target, err := s.GetVersion(toVersion)
	if err != nil {
		return PipelineConfig{}, err
	}

	s.mu.Lock()
	target.Version = s.active.Version + 1
	target.CreatedAt = s.now().UnixMilli()
	target.CreatedBy = "rollback"
	payload := mustCanonical(target)
	s.active = target
	s.payloads[target.Version] = payload
	s.history = append(s.history, HistoryEntry{
		Version:   target.Version,
		CreatedAt: target.CreatedAt,
		CreatedBy: target.CreatedBy,
		Notes:     target.Notes,
		Rollback:  true,
	})
	s.mu.Unlock()

	s.persist(ctx, target.Version, payload)

	log.Info().
		Int("version", target.Version).
		Int("rolled_back_to", toVersion).
		Msg("Config rolled back")

	return target, nil
}

func (s *Store) persist(ctx context.Context, version int, payload []byte) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SaveVersion(ctx, version, payload); err != nil {
		log.Error().Err(err).Int("version", version).Msg("Failed to persist config version")
	}
}

// mustCanonical produces the immutable stored payload. encoding/json sorts
// map keys, so equal configs always produce identical bytes.
func mustCanonical(cfg PipelineConfig) []byte {
	payload, err := json.Marshal(cfg)
	if err != nil {
		panic(err)
	}
	return payload
}

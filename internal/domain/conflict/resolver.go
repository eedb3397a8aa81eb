package conflict

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/ehrsync/internal/domain/resource"
)

// Resolver detects divergence between local and remote copies of a resource
// and produces resolutions under configurable per-field policies. All state
// is instance-owned; pending conflicts and resolution history live in memory
// and are rebuilt empty on restart, the durable store remains authoritative
// for resource contents.
type Resolver struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	pending map[string]*ResourceConflict
	byID    map[uuid.UUID]string
	history map[string][]Resolution
}

// NewResolver builds a Resolver with the given policy configuration.
func NewResolver(cfg Config, log zerolog.Logger) *Resolver {
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = TimestampBased
	}
	return &Resolver{
		cfg:     cfg,
		log:     log.With().Str("component", "conflict-resolver").Logger(),
		pending: make(map[string]*ResourceConflict),
		byID:    make(map[uuid.UUID]string),
		history: make(map[string][]Resolution),
	}
}

func conflictKey(orgID uuid.UUID, resourceType, fhirID string) string {
	return orgID.String() + "/" + resourceType + "/" + fhirID
}

// Detect compares a canonical resource against a freshly fetched remote
// payload. It returns nil when the two agree. A detected conflict is added
// to the pending set, replacing any earlier pending conflict for the same
// resource.
func (r *Resolver) Detect(local *resource.CanonicalResource, remote resource.Payload) (*ResourceConflict, error) {
	localPayload, err := resource.DecodePayload(local.Data)
	if err != nil {
		return nil, fmt.Errorf("decode local payload: %w", err)
	}

	entries := DetectPayloads(localPayload, remote, local.UpdatedAt, remote.LastUpdated())
	if len(entries) == 0 {
		return nil, nil
	}

	c := &ResourceConflict{
		ID:             uuid.New(),
		ResourceID:     local.ID,
		OrganizationID: local.OrganizationID,
		ResourceType:   local.ResourceType,
		FHIRID:         local.FHIRID,
		Local:          localPayload,
		Remote:         remote,
		Entries:        entries,
		Severity:       r.severity(entries),
		DetectedAt:     time.Now().UTC(),
	}

	key := conflictKey(c.OrganizationID, c.ResourceType, c.FHIRID)
	r.mu.Lock()
	if prev, ok := r.pending[key]; ok {
		delete(r.byID, prev.ID)
	}
	r.pending[key] = c
	r.byID[c.ID] = key
	r.mu.Unlock()

	r.log.Debug().
		Str("resource_type", c.ResourceType).
		Str("fhir_id", c.FHIRID).
		Str("severity", string(c.Severity)).
		Int("entries", len(entries)).
		Msg("conflict detected")
	return c, nil
}

func (r *Resolver) severity(entries []Entry) Severity {
	score := 0
	for _, e := range entries {
		score += e.Kind.score()
		if r.cfg.critical(e.Field) {
			score += 5
		}
	}
	return r.cfg.severityFor(score)
}

// Resolve produces a resolution for a conflict. Strategy selection per
// entry: a manual override wins, then a critical field errors out, then the
// per-field configured strategy, then the strategy argument, then the
// resolver default. Passing an empty strategy selects the default. The
// conflict is removed from the pending set on success.
func (r *Resolver) Resolve(conflict *ResourceConflict, strategy Strategy, overrides map[string]interface{}) (*Resolution, error) {
	res, err := r.resolve(conflict, strategy, overrides)
	if err != nil {
		return nil, err
	}
	r.commit(conflict, res)
	return res, nil
}

// ResolveAndPersist computes a resolution and hands it to persist before the
// conflict leaves the pending set. A persist failure keeps the conflict
// pending and records nothing in history.
func (r *Resolver) ResolveAndPersist(ctx context.Context, conflict *ResourceConflict, strategy Strategy, overrides map[string]interface{}, persist func(context.Context, *ResourceConflict, *Resolution) error) (*Resolution, error) {
	res, err := r.resolve(conflict, strategy, overrides)
	if err != nil {
		return nil, err
	}
	if persist != nil {
		if err := persist(ctx, conflict, res); err != nil {
			return nil, err
		}
	}
	r.commit(conflict, res)
	return res, nil
}

// resolve computes a resolution without touching the pending set or history.
func (r *Resolver) resolve(conflict *ResourceConflict, strategy Strategy, overrides map[string]interface{}) (*Resolution, error) {
	if strategy == "" {
		strategy = r.cfg.DefaultStrategy
	}
	if !strategy.known() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedStrategy, strategy)
	}

	resolved := deepCopy(map[string]interface{}(conflict.Local)).(map[string]interface{})
	changes := make([]AppliedChange, 0, len(conflict.Entries))

	for _, entry := range conflict.Entries {
		if overrides != nil {
			if v, ok := overrides[entry.Field]; ok {
				setField(resolved, entry.Field, v)
				changes = append(changes, AppliedChange{
					Field:  entry.Field,
					Action: ActionManualOverride,
					Value:  v,
					Reason: "manual override provided",
				})
				continue
			}
		}

		if r.cfg.critical(entry.Field) {
			return nil, fmt.Errorf("%w: %s", ErrCriticalField, entry.Field)
		}

		fieldStrategy := strategy
		if s, ok := r.cfg.FieldStrategies[entry.Field]; ok {
			fieldStrategy = s
		}

		change, err := r.applyEntry(fieldStrategy, entry, conflict)
		if err != nil {
			return nil, err
		}
		if change.Value == nil {
			deleteField(resolved, entry.Field)
		} else {
			setField(resolved, entry.Field, change.Value)
		}
		changes = append(changes, change)
	}

	res := &Resolution{
		ConflictID:     conflict.ID,
		OrganizationID: conflict.OrganizationID,
		FHIRID:         conflict.FHIRID,
		Strategy:       strategy,
		Resolved:       resource.Payload(resolved),
		AppliedChanges: changes,
		ResolvedAt:     time.Now().UTC(),
		ResolvedBy:     "system",
	}
	if overrides != nil {
		res.ResolvedBy = "user"
	}
	return res, nil
}

// commit removes a resolved conflict from the pending set and records the
// resolution in history.
func (r *Resolver) commit(conflict *ResourceConflict, res *Resolution) {
	key := conflictKey(conflict.OrganizationID, conflict.ResourceType, conflict.FHIRID)
	r.mu.Lock()
	if cur, ok := r.pending[key]; ok && cur.ID == conflict.ID {
		delete(r.pending, key)
		delete(r.byID, conflict.ID)
	}
	r.history[key] = append(r.history[key], *res)
	r.mu.Unlock()
}

func (r *Resolver) applyEntry(strategy Strategy, entry Entry, conflict *ResourceConflict) (AppliedChange, error) {
	switch strategy {
	case LocalWins:
		return AppliedChange{
			Field:  entry.Field,
			Action: ActionKeepLocal,
			Value:  entry.LocalValue,
			Reason: "local version kept by policy",
		}, nil

	case RemoteWins:
		return AppliedChange{
			Field:  entry.Field,
			Action: ActionAcceptRemote,
			Value:  entry.RemoteValue,
			Reason: "remote version accepted by policy",
		}, nil

	case TimestampBased:
		// Ties keep local.
		if entry.RemoteModified.After(entry.LocalModified) {
			return AppliedChange{
				Field:  entry.Field,
				Action: ActionAcceptRemote,
				Value:  entry.RemoteValue,
				Reason: "remote version is more recent",
			}, nil
		}
		return AppliedChange{
			Field:  entry.Field,
			Action: ActionKeepLocal,
			Value:  entry.LocalValue,
			Reason: "local version is more recent",
		}, nil

	case MergeCompatible:
		if merged, ok := mergeArrays(entry.LocalValue, entry.RemoteValue); ok {
			return AppliedChange{
				Field:  entry.Field,
				Action: ActionMerge,
				Value:  merged,
				Reason: "merged compatible array values",
			}, nil
		}
		return r.applyEntry(TimestampBased, entry, conflict)

	case SourcePriority:
		if r.cfg.trusted(conflict.Remote.Source()) {
			return AppliedChange{
				Field:  entry.Field,
				Action: ActionAcceptRemote,
				Value:  entry.RemoteValue,
				Reason: "remote source is trusted",
			}, nil
		}
		return AppliedChange{
			Field:  entry.Field,
			Action: ActionKeepLocal,
			Value:  entry.LocalValue,
			Reason: "remote source is not trusted",
		}, nil

	default:
		return AppliedChange{}, fmt.Errorf("%w: %q", ErrUnsupportedStrategy, strategy)
	}
}

// mergeArrays unions two array values, local order first, remote elements
// appended, duplicates removed by deep value equality. ok is false when
// either side is not an array.
func mergeArrays(local, remote interface{}) ([]interface{}, bool) {
	la, lok := local.([]interface{})
	ra, rok := remote.([]interface{})
	if !lok || !rok {
		return nil, false
	}

	merged := make([]interface{}, 0, len(la)+len(ra))
	var seen []*Value
	add := func(v interface{}) {
		tv := FromInterface(v)
		for _, s := range seen {
			if Equal(s, tv) {
				return
			}
		}
		seen = append(seen, tv)
		merged = append(merged, v)
	}
	for _, v := range la {
		add(v)
	}
	for _, v := range ra {
		add(v)
	}
	return merged, true
}

// AutoResolveEligible reports whether a conflict may be resolved without
// human review: severity strictly below the configured threshold, never
// critical, and no entry touching a critical field.
func (r *Resolver) AutoResolveEligible(conflict *ResourceConflict) bool {
	if conflict.Severity == SeverityCritical {
		return false
	}
	// A threshold outside the known severities (e.g. "never") disables
	// auto-resolution entirely.
	switch r.cfg.AutoResolveBelow {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
	default:
		return false
	}
	if conflict.Severity.rank() >= r.cfg.AutoResolveBelow.rank() {
		return false
	}
	for _, e := range conflict.Entries {
		if r.cfg.critical(e.Field) {
			return false
		}
	}
	return true
}

// AutoResolvePending resolves every eligible pending conflict with the
// default strategy and hands each resolution to persist. Individual
// failures are logged and skipped, and a conflict whose resolution could
// not be persisted stays pending; auto-resolution never aborts the sweep.
func (r *Resolver) AutoResolvePending(ctx context.Context, persist func(context.Context, *ResourceConflict, *Resolution) error) []Resolution {
	r.mu.Lock()
	eligible := make([]*ResourceConflict, 0)
	for _, c := range r.pending {
		if r.AutoResolveEligible(c) {
			eligible = append(eligible, c)
		}
	}
	r.mu.Unlock()

	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].DetectedAt.Before(eligible[j].DetectedAt)
	})

	resolutions := make([]Resolution, 0, len(eligible))
	for _, c := range eligible {
		if ctx.Err() != nil {
			break
		}
		res, err := r.ResolveAndPersist(ctx, c, "", nil, persist)
		if err != nil {
			r.log.Warn().Err(err).
				Str("fhir_id", c.FHIRID).
				Msg("auto-resolution failed, conflict stays pending")
			continue
		}
		resolutions = append(resolutions, *res)
		r.log.Info().
			Str("fhir_id", c.FHIRID).
			Str("strategy", string(res.Strategy)).
			Msg("conflict auto-resolved")
	}
	return resolutions
}

// PendingConflicts lists unresolved conflicts, oldest first. A nil orgID
// (uuid.Nil) lists conflicts across all organizations.
func (r *Resolver) PendingConflicts(orgID uuid.UUID) []ResourceConflict {
	r.mu.Lock()
	out := make([]ResourceConflict, 0, len(r.pending))
	for _, c := range r.pending {
		if orgID != uuid.Nil && c.OrganizationID != orgID {
			continue
		}
		out = append(out, *c)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].DetectedAt.Before(out[j].DetectedAt)
	})
	return out
}

// Get returns a pending conflict by ID.
func (r *Resolver) Get(id uuid.UUID) (*ResourceConflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r.pending[key]
	return &c, nil
}

// ResolveByID resolves a pending conflict identified by its ID.
func (r *Resolver) ResolveByID(id uuid.UUID, strategy Strategy, overrides map[string]interface{}) (*Resolution, error) {
	c, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return r.Resolve(c, strategy, overrides)
}

// ResolutionHistory lists resolutions, oldest first. A nil orgID lists
// history across all organizations.
func (r *Resolver) ResolutionHistory(orgID uuid.UUID) []Resolution {
	r.mu.Lock()
	out := make([]Resolution, 0)
	for _, list := range r.history {
		for _, res := range list {
			if orgID != uuid.Nil && res.OrganizationID != orgID {
				continue
			}
			out = append(out, res)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ResolvedAt.Before(out[j].ResolvedAt)
	})
	return out
}

// setField writes a dotted-path field into a nested map, creating
// intermediate objects as needed.
func setField(m map[string]interface{}, path string, value interface{}) {
	keys := strings.Split(path, ".")
	cur := m
	for _, k := range keys[:len(keys)-1] {
		next, ok := cur[k].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[k] = next
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = value
}

// deleteField removes a dotted-path field from a nested map. Missing
// intermediate objects make it a no-op.
func deleteField(m map[string]interface{}, path string) {
	keys := strings.Split(path, ".")
	cur := m
	for _, k := range keys[:len(keys)-1] {
		next, ok := cur[k].(map[string]interface{})
		if !ok {
			return
		}
		cur = next
	}
	delete(cur, keys[len(keys)-1])
}

// deepCopy clones decoded-JSON shapes so resolutions never alias the
// conflict's local snapshot.
func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, item := range t {
			m[k] = deepCopy(item)
		}
		return m
	case []interface{}:
		arr := make([]interface{}, len(t))
		for i, item := range t {
			arr[i] = deepCopy(item)
		}
		return arr
	default:
		return t
	}
}

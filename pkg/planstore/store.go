// Package planstore archives computed execution plans in a pluggable
// backend, keyed by cluster and plan id.
package planstore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/davidthor/taskgraph/pkg/engine/planner"
	"github.com/davidthor/taskgraph/pkg/errors"
	"github.com/davidthor/taskgraph/pkg/planstore/backend"
)

// Entry identifies one archived plan.
type Entry = backend.Key

// Store reads and writes plans. Plan ids are derived from plan content, so a
// stored plan never changes and saving it again is a no-op.
type Store struct {
	backend backend.Backend
}

// New creates a store over the given backend.
func New(b backend.Backend) *Store {
	return &Store{backend: b}
}

// NewFromConfig creates a store over a registered backend.
func NewFromConfig(config backend.Config) (*Store, error) {
	b, err := backend.Create(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}
	return New(b), nil
}

// Backend returns the underlying backend.
func (s *Store) Backend() backend.Backend {
	return s.backend
}

// Save archives a plan. It returns false if the plan was already stored,
// including when a concurrent writer stored it first.
func (s *Store) Save(ctx context.Context, plan *planner.Plan) (bool, error) {
	if plan == nil || plan.ID == "" || plan.ClusterID == "" {
		return false, errors.InvalidData("plan needs an id and a cluster id to be saved", nil)
	}

	content, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return false, fmt.Errorf("failed to encode plan: %w", err)
	}

	err = s.backend.Create(ctx, Entry{ClusterID: plan.ClusterID, PlanID: plan.ID}, content)
	switch {
	case stderrors.Is(err, backend.ErrExists):
		return false, nil
	case err != nil:
		return false, errors.BackendError(s.backend.Type(), "create", err)
	}
	return true, nil
}

// Get loads a stored plan.
func (s *Store) Get(ctx context.Context, clusterID, planID string) (*planner.Plan, error) {
	key := Entry{ClusterID: clusterID, PlanID: planID}
	data, err := s.backend.Read(ctx, key)
	if err != nil {
		if stderrors.Is(err, backend.ErrNotFound) {
			return nil, errors.NotFoundError("plan", key.String())
		}
		return nil, errors.BackendError(s.backend.Type(), "read", err)
	}

	var plan planner.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan %s: %w", key, err)
	}
	return &plan, nil
}

// List returns the plans stored for a cluster, or for all clusters when
// clusterID is empty, sorted by cluster then plan id.
func (s *Store) List(ctx context.Context, clusterID string) ([]Entry, error) {
	keys, err := s.backend.Keys(ctx, clusterID)
	if err != nil {
		return nil, errors.BackendError(s.backend.Type(), "list", err)
	}
	if keys == nil {
		keys = []Entry{}
	}
	return keys, nil
}

// Delete removes a stored plan. Deleting a missing plan is not an error.
func (s *Store) Delete(ctx context.Context, clusterID, planID string) error {
	if err := s.backend.Delete(ctx, Entry{ClusterID: clusterID, PlanID: planID}); err != nil {
		return errors.BackendError(s.backend.Type(), "delete", err)
	}
	return nil
}

package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/i474232898/weather-chat/internal/conversation"
	"github.com/i474232898/weather-chat/internal/kv"
)

// persist stores the snapshot together with the params that produced it.
// A half-written pair is removed.
func (s *Session) persist(ctx context.Context, snap Snapshot, params conversation.SearchParams) {
	if s.opts.Cache == nil {
		return
	}
	raw, err := snap.Raw()
	if err != nil {
		s.logger.Warn("encode snapshot", "error", err)
		return
	}
	p, err := json.Marshal(params)
	if err != nil {
		s.logger.Warn("encode params", "error", err)
		return
	}

	if err := s.opts.Cache.Set(ctx, keySnapshot, string(raw)); err != nil {
		s.logger.Warn("persist snapshot", "error", err)
		return
	}
	if err := s.opts.Cache.Set(ctx, keyParams, string(p)); err != nil {
		s.logger.Warn("persist params", "error", err)
		s.clearPersisted(ctx)
	}
}

func (s *Session) clearPersisted(ctx context.Context) {
	if s.opts.Cache == nil {
		return
	}
	if err := s.opts.Cache.Delete(ctx, keySnapshot, keyParams); err != nil {
		s.logger.Warn("clear persisted weather state", "error", err)
	}
}

// loadPersisted returns the stored pair. found is false when nothing is
// stored; err is set when something is stored but unusable.
func (s *Session) loadPersisted(ctx context.Context) (snap Snapshot, params conversation.SearchParams, found bool, err error) {
	rawSnap, snapErr := s.opts.Cache.Get(ctx, keySnapshot)
	rawParams, paramsErr := s.opts.Cache.Get(ctx, keyParams)

	snapMissing := errors.Is(snapErr, kv.ErrNotFound)
	paramsMissing := errors.Is(paramsErr, kv.ErrNotFound)
	if snapMissing && paramsMissing {
		return Snapshot{}, params, false, nil
	}
	if snapErr != nil && !snapMissing {
		return Snapshot{}, params, false, fmt.Errorf("read snapshot: %w", snapErr)
	}
	if paramsErr != nil && !paramsMissing {
		return Snapshot{}, params, false, fmt.Errorf("read params: %w", paramsErr)
	}
	if snapMissing || paramsMissing {
		return Snapshot{}, params, true, errors.New("incomplete persisted pair")
	}

	if err := json.Unmarshal([]byte(rawParams), &params); err != nil {
		return Snapshot{}, params, true, fmt.Errorf("decode params: %w", err)
	}
	snap, err = ParseSnapshot([]byte(rawSnap))
	if err != nil {
		return Snapshot{}, params, true, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, params, true, nil
}

// Restore re-renders the persisted result without a network call. Malformed
// state is logged, discarded and reported as absent.
func (s *Session) Restore(ctx context.Context) bool {
	if s.opts.Cache == nil {
		return false
	}

	snap, params, found, err := s.loadPersisted(ctx)
	if !found && err == nil {
		return false
	}
	if err == nil {
		s.mu.Lock()
		err = s.conv.Restore(params)
		s.mu.Unlock()
	}
	if err != nil {
		s.logger.Warn("discarding persisted weather state", "error", err)
		if found {
			s.clearPersisted(ctx)
		}
		return false
	}

	s.opts.Presenter.Render(snap, params)
	return true
}

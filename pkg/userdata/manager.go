// Package userdata enforces the rules for per-user content state: argument
// validation, invalidation, preload filtering and ordering for delivery. It
// holds no state between calls and persists through a store.Backend.
package userdata

import (
	"context"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilhg/contentstate/pkg/errmodel"
	"github.com/wilhg/contentstate/pkg/store"
)

// DeliveryEntry maps one dataType to its saved state.
type DeliveryEntry map[string]string

// SaveInput carries the arguments of a save call. Invalidate and Preload are
// taken as they arrive from the caller and must hold Go bool values.
type SaveInput struct {
	ContentID    string
	DataType     string
	SubContentID string
	UserState    string
	Invalidate   any
	Preload      any
	User         store.User
}

// FinishedInput carries a completion event.
type FinishedInput struct {
	ContentID         string
	Score             int
	MaxScore          int
	OpenedTimestamp   int64
	FinishedTimestamp int64
	CompletionTime    int64
	User              store.User
}

type mode int

const (
	unconfigured mode = iota
	configured
)

// Manager mediates between callers and the storage backend.
type Manager struct {
	mode    mode
	backend store.Backend
	log     zerolog.Logger
	tracer  trace.Tracer
}

// NewManager builds a manager over backend. A nil backend, including a typed
// nil pointer, puts the manager in degraded mode: loads report absent and
// mutations succeed without effect.
func NewManager(backend store.Backend, log zerolog.Logger) *Manager {
	m := &Manager{
		mode:    unconfigured,
		backend: backend,
		log:     log.With().Str("component", "userdata-manager").Logger(),
		tracer:  otel.Tracer("userdata/manager"),
	}
	if isNil(backend) {
		m.backend = nil
	} else {
		m.mode = configured
	}
	return m
}

func isNil(backend store.Backend) bool {
	if backend == nil {
		return true
	}
	v := reflect.ValueOf(backend)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// Enabled reports whether a storage backend is configured.
func (m *Manager) Enabled() bool { return m.mode == configured }

func (m *Manager) start(ctx context.Context, op, contentID string, user store.User) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, "Manager."+op, trace.WithAttributes(
		attribute.String("content.id", contentID),
		attribute.String("user.id", user.ID),
		attribute.Bool("userdata.enabled", m.Enabled()),
	))
}

func (m *Manager) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	m.log.Error().Err(err).Str("op", op).Msg("user data operation failed")
	return err
}

// LoadUserData fetches a single record by exact key.
func (m *Manager) LoadUserData(ctx context.Context, contentID, dataType, subContentID string, user store.User) (store.Record, bool, error) {
	ctx, span := m.start(ctx, "LoadUserData", contentID, user)
	defer span.End()

	switch m.mode {
	case configured:
		rec, ok, err := m.backend.LoadUserData(ctx, contentID, dataType, normalizeSubContentID(subContentID), user)
		if err != nil {
			return store.Record{}, false, m.fail(span, "load", err)
		}
		span.SetAttributes(attribute.Bool("userdata.found", ok))
		return rec, ok, nil
	default:
		return store.Record{}, false, nil
	}
}

// SaveUserData upserts the record at the exact key, or, when Invalidate is
// true, deletes every record the user holds for the content instead.
func (m *Manager) SaveUserData(ctx context.Context, in SaveInput) error {
	ctx, span := m.start(ctx, "SaveUserData", in.ContentID, in.User)
	defer span.End()

	invalidate, preload, err := validateFlags(in.Invalidate, in.Preload)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		m.log.Warn().Err(err).Str("content_id", in.ContentID).Msg("rejected save")
		return err
	}
	span.SetAttributes(attribute.Bool("userdata.invalidate", invalidate), attribute.Bool("userdata.preload", preload))

	switch m.mode {
	case configured:
		if invalidate {
			m.log.Debug().Str("content_id", in.ContentID).Str("user_id", in.User.ID).Msg("invalidating user data")
			if err := m.backend.DeleteUserDataByUser(ctx, in.ContentID, in.User.ID, in.User); err != nil {
				return m.fail(span, "invalidate", err)
			}
			return nil
		}
		rec := store.Record{
			ContentID:    in.ContentID,
			UserID:       in.User.ID,
			DataType:     in.DataType,
			SubContentID: normalizeSubContentID(in.SubContentID),
			UserState:    in.UserState,
			Preload:      preload,
		}
		if err := m.backend.SaveUserData(ctx, rec, in.User); err != nil {
			return m.fail(span, "save", err)
		}
		return nil
	default:
		return nil
	}
}

// DeleteUserDataByUser removes every record of userID for contentID. The
// requesting user is forwarded for the backend's own authorization decision.
func (m *Manager) DeleteUserDataByUser(ctx context.Context, contentID, userID string, requestingUser store.User) error {
	ctx, span := m.start(ctx, "DeleteUserDataByUser", contentID, requestingUser)
	defer span.End()
	span.SetAttributes(attribute.String("userdata.target_user", userID))

	switch m.mode {
	case configured:
		if err := m.backend.DeleteUserDataByUser(ctx, contentID, userID, requestingUser); err != nil {
			return m.fail(span, "delete_by_user", err)
		}
		return nil
	default:
		return nil
	}
}

// DeleteAllUserDataForContent removes every record for contentID across all users.
func (m *Manager) DeleteAllUserDataForContent(ctx context.Context, contentID string, requestingUser store.User) error {
	ctx, span := m.start(ctx, "DeleteAllUserDataForContent", contentID, requestingUser)
	defer span.End()

	switch m.mode {
	case configured:
		if err := m.backend.DeleteAllUserDataForContent(ctx, contentID, requestingUser); err != nil {
			return m.fail(span, "delete_for_content", err)
		}
		m.log.Info().Str("content_id", contentID).Str("requested_by", requestingUser.ID).Msg("deleted all user data for content")
		return nil
	default:
		return nil
	}
}

// AggregateForDelivery returns the user's preload records for contentID as
// single-key entries ordered by numeric sub-content id. ok is false when no
// backend is configured.
func (m *Manager) AggregateForDelivery(ctx context.Context, contentID string, user store.User) ([]DeliveryEntry, bool, error) {
	ctx, span := m.start(ctx, "AggregateForDelivery", contentID, user)
	defer span.End()

	switch m.mode {
	case configured:
		recs, err := m.backend.ListRecordsForContent(ctx, contentID, user.ID)
		if err != nil {
			return nil, false, m.fail(span, "aggregate", err)
		}
		out := aggregate(recs)
		span.SetAttributes(attribute.Int("userdata.records", len(recs)), attribute.Int("userdata.delivered", len(out)))
		return out, true, nil
	default:
		return nil, false, nil
	}
}

// RecordCompletion forwards a completion event verbatim.
func (m *Manager) RecordCompletion(ctx context.Context, in FinishedInput) error {
	ctx, span := m.start(ctx, "RecordCompletion", in.ContentID, in.User)
	defer span.End()

	switch m.mode {
	case configured:
		rec := store.FinishedRecord{
			ContentID:         in.ContentID,
			UserID:            in.User.ID,
			Score:             in.Score,
			MaxScore:          in.MaxScore,
			OpenedTimestamp:   in.OpenedTimestamp,
			FinishedTimestamp: in.FinishedTimestamp,
			CompletionTime:    in.CompletionTime,
		}
		if err := m.backend.RecordCompletion(ctx, rec, in.User); err != nil {
			return m.fail(span, "record_completion", err)
		}
		return nil
	default:
		return nil
	}
}

// ListCompletions lists recorded completions for contentID. ok is false when
// no backend is configured or the backend cannot list completions.
func (m *Manager) ListCompletions(ctx context.Context, contentID string, requestingUser store.User) ([]store.FinishedRecord, bool, error) {
	ctx, span := m.start(ctx, "ListCompletions", contentID, requestingUser)
	defer span.End()

	switch m.mode {
	case configured:
		lister, ok := m.backend.(store.CompletionLister)
		if !ok {
			return nil, false, nil
		}
		recs, err := lister.ListCompletions(ctx, contentID)
		if err != nil {
			return nil, false, m.fail(span, "list_completions", err)
		}
		if recs == nil {
			recs = []store.FinishedRecord{}
		}
		return recs, true, nil
	default:
		return nil, false, nil
	}
}

func validateFlags(invalidate, preload any) (bool, bool, error) {
	inv, ok := invalidate.(bool)
	if !ok {
		return false, false, errmodel.Validation("invalid_argument", "invalidate must be a boolean", map[string]any{"got": typeName(invalidate)})
	}
	pre, ok := preload.(bool)
	if !ok {
		return false, false, errmodel.Validation("invalid_argument", "preload must be a boolean", map[string]any{"got": typeName(preload)})
	}
	return inv, pre, nil
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}

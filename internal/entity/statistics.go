package entity

import (
	"context"
	"time"

	"github.com/hyperengineering/flashsync/internal/conflict"
	"github.com/hyperengineering/flashsync/internal/store"
	"github.com/hyperengineering/flashsync/internal/types"
)

// SessionAPI is the remote surface for study sessions.
type SessionAPI interface {
	ListSessions(ctx context.Context) ([]types.StudySession, error)
	GetSession(ctx context.Context, id string) (types.StudySession, error)
	CreateSession(ctx context.Context, in types.SessionInput) (types.StudySession, error)
	UpdateSession(ctx context.Context, id string, s types.StudySession) (types.StudySession, error)
	DeleteSession(ctx context.Context, id string) error
}

// Statistics is the offline-first store for study sessions.
type Statistics = Store[types.StudySession, types.SessionInput, types.SessionPatch]

// NewStatistics creates the study session store. Seeding does not apply.
func NewStatistics(s store.Store, q Queue, conn Connectivity, api SessionAPI, opts ...Option) *Statistics {
	return newStore[types.StudySession, types.SessionInput, types.SessionPatch](sessionAdapter{api: api}, s, q, conn, opts...)
}

type sessionAdapter struct {
	api SessionAPI
}

func (sessionAdapter) Kind() types.EntityKind       { return types.EntityStatistics }
func (sessionAdapter) Collection() store.Collection { return store.CollectionStatistics }
func (sessionAdapter) Seed(time.Time) []types.StudySession {
	return nil
}

func (sessionAdapter) Build(id string, in types.SessionInput, now time.Time) types.StudySession {
	return types.NewStudySession(id, in, now)
}

func (sessionAdapter) Apply(s types.StudySession, patch types.SessionPatch, now time.Time) types.StudySession {
	return patch.Apply(s, now)
}

func (sessionAdapter) Resolve(local, remote types.StudySession, now time.Time) conflict.Result[types.StudySession] {
	return conflict.Resolve(local, remote, now, conflict.MergeSessions)
}

func (a sessionAdapter) List(ctx context.Context) ([]types.StudySession, error) {
	return a.api.ListSessions(ctx)
}

func (a sessionAdapter) Get(ctx context.Context, id string) (types.StudySession, error) {
	return a.api.GetSession(ctx, id)
}

func (a sessionAdapter) Create(ctx context.Context, in types.SessionInput) (types.StudySession, error) {
	return a.api.CreateSession(ctx, in)
}

func (a sessionAdapter) Update(ctx context.Context, id string, s types.StudySession) (types.StudySession, error) {
	return a.api.UpdateSession(ctx, id, s)
}

func (a sessionAdapter) Delete(ctx context.Context, id string) error {
	return a.api.DeleteSession(ctx, id)
}

func (sessionAdapter) CreateOp(tempID string, in types.SessionInput) types.Payload {
	return types.CreateSession{TempID: tempID, Input: in}
}

func (sessionAdapter) UpdateOp(s types.StudySession) types.Payload {
	return types.UpdateSession{Session: s}
}

func (sessionAdapter) DeleteOp(id string) types.Payload {
	return types.DeleteSession{ID: id}
}

// Overview aggregates the sessions currently in the projection.
func Overview(st *Statistics) types.Overview {
	return types.Summarize(st.List())
}

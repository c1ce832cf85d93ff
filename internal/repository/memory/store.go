// Package memory provides in-process repository implementations used by
// tests and local runs without a database. They honour the same conditional
// write rules as the Postgres repositories.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/triple-line-dialer/internal/domain"
	"github.com/acme/triple-line-dialer/internal/repository"
)

// CallRepository is an in-memory repository.CallRepository.
type CallRepository struct {
	mu    sync.Mutex
	calls map[string]domain.ActiveCall
}

// NewCallRepository returns an empty repository.
func NewCallRepository() *CallRepository {
	return &CallRepository{calls: map[string]domain.ActiveCall{}}
}

func (r *CallRepository) Insert(_ context.Context, call *domain.ActiveCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[call.CallID]; ok {
		return fmt.Errorf("memory calls: duplicate %s: %w", call.CallID, repository.ErrConflict)
	}
	if call.EndedAt == nil {
		for _, c := range r.calls {
			if c.UserID == call.UserID && c.LineNumber == call.LineNumber && c.EndedAt == nil {
				return fmt.Errorf("memory calls: line %d busy: %w", call.LineNumber, repository.ErrConflict)
			}
		}
	}
	r.calls[call.CallID] = *call
	return nil
}

func (r *CallRepository) Get(_ context.Context, callID string) (*domain.ActiveCall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (r *CallRepository) CompareAndSetStatus(_ context.Context, callID string, expected domain.CallStatus, change repository.StatusChange) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callID]
	if !ok || c.Status != expected {
		return false, nil
	}
	c.Status = change.Status
	c.StatusSource = change.Source
	c.StatusChangedAt = change.ChangedAt
	if change.AMDResult != "" {
		c.AMDResult = change.AMDResult
	}
	if change.DurationSeconds != nil {
		c.DurationSeconds = *change.DurationSeconds
	}
	if change.MarkAnswered && c.AnsweredAt == nil {
		t := change.ChangedAt
		c.AnsweredAt = &t
	}
	if change.MarkEnded && c.EndedAt == nil {
		t := change.ChangedAt
		c.EndedAt = &t
	}
	r.calls[callID] = c
	return true, nil
}

func (r *CallRepository) ListOpenByUser(_ context.Context, userID string) ([]domain.ActiveCall, error) {
	return r.filter(func(c domain.ActiveCall) bool { return c.UserID == userID && c.EndedAt == nil }), nil
}

func (r *CallRepository) ListOpenByLine(_ context.Context, userID string, line int) ([]domain.ActiveCall, error) {
	return r.filter(func(c domain.ActiveCall) bool {
		return c.UserID == userID && c.LineNumber == line && c.EndedAt == nil
	}), nil
}

func (r *CallRepository) ListByUser(_ context.Context, userID string) ([]domain.ActiveCall, error) {
	all := r.filter(func(c domain.ActiveCall) bool { return c.UserID == userID })
	latest := map[int]domain.ActiveCall{}
	for _, c := range all {
		if cur, ok := latest[c.LineNumber]; !ok || c.CreatedAt.After(cur.CreatedAt) {
			latest[c.LineNumber] = c
		}
	}
	out := make([]domain.ActiveCall, 0, len(latest))
	for _, c := range latest {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineNumber < out[j].LineNumber })
	return out, nil
}

func (r *CallRepository) ListSince(_ context.Context, userID string, since time.Time) ([]domain.ActiveCall, error) {
	return r.filter(func(c domain.ActiveCall) bool { return c.UserID == userID && !c.CreatedAt.Before(since) }), nil
}

func (r *CallRepository) ListBySession(_ context.Context, userID string, sessionID uuid.UUID) ([]domain.ActiveCall, error) {
	return r.filter(func(c domain.ActiveCall) bool {
		return c.UserID == userID && c.SessionID != nil && *c.SessionID == sessionID
	}), nil
}

func (r *CallRepository) ListStale(_ context.Context, statuses []domain.CallStatus, before time.Time, limit int) ([]domain.ActiveCall, error) {
	out := r.filter(func(c domain.ActiveCall) bool {
		return c.EndedAt == nil && slices.Contains(statuses, c.Status) && c.StatusChangedAt.Before(before)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *CallRepository) DeleteTerminalBefore(_ context.Context, before time.Time, limit int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, c := range r.calls {
		if limit > 0 && n >= int64(limit) {
			break
		}
		if c.EndedAt != nil && c.EndedAt.Before(before) {
			delete(r.calls, id)
			n++
		}
	}
	return n, nil
}

func (r *CallRepository) filter(keep func(domain.ActiveCall) bool) []domain.ActiveCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ActiveCall
	for _, c := range r.calls {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].LineNumber < out[j].LineNumber
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// SessionRepository is an in-memory repository.SessionRepository.
type SessionRepository struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]domain.DialSession
	queues   map[uuid.UUID][]queueEntry
	leads    *LeadRepository
}

type queueEntry struct {
	leadID uuid.UUID
	state  domain.QueueState
}

// NewSessionRepository returns an empty repository that resolves queued
// lead ids through leads.
func NewSessionRepository(leads *LeadRepository) *SessionRepository {
	return &SessionRepository{
		sessions: map[uuid.UUID]domain.DialSession{},
		queues:   map[uuid.UUID][]queueEntry{},
		leads:    leads,
	}
}

func (r *SessionRepository) Start(_ context.Context, session *domain.DialSession, leadIDs []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		if s.UserID == session.UserID && s.Active {
			s.Active = false
			t := session.StartedAt
			s.EndedAt = &t
			r.sessions[id] = s
		}
	}
	r.sessions[session.ID] = *session
	entries := make([]queueEntry, 0, len(leadIDs))
	for _, id := range leadIDs {
		entries = append(entries, queueEntry{leadID: id, state: domain.QueueStatePending})
	}
	r.queues[session.ID] = entries
	return nil
}

func (r *SessionRepository) Get(_ context.Context, userID string, id uuid.UUID) (*domain.DialSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok || s.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (r *SessionRepository) GetActive(_ context.Context, userID string) (*domain.DialSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.UserID == userID && s.Active {
			return &s, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *SessionRepository) ClaimNext(ctx context.Context, sessionID uuid.UUID, n int) ([]domain.QueuedLead, error) {
	r.mu.Lock()
	entries := r.queues[sessionID]
	var claimed []domain.QueuedLead
	for i := range entries {
		if len(claimed) >= n {
			break
		}
		if entries[i].state != domain.QueueStatePending {
			continue
		}
		entries[i].state = domain.QueueStateDialing
		claimed = append(claimed, domain.QueuedLead{SessionID: sessionID, Position: i + 1, Lead: domain.Lead{ID: entries[i].leadID}})
	}
	userID := r.sessions[sessionID].UserID
	r.mu.Unlock()

	for i := range claimed {
		if lead, err := r.leads.Get(ctx, userID, claimed[i].Lead.ID); err == nil {
			claimed[i].Lead = *lead
		}
	}
	return claimed, nil
}

func (r *SessionRepository) IncrementAttempted(_ context.Context, sessionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	if s.AttemptedCount >= s.TotalLeads {
		return fmt.Errorf("memory sessions: attempted at total: %w", repository.ErrConflict)
	}
	s.AttemptedCount++
	r.sessions[sessionID] = s
	return nil
}

func (r *SessionRepository) IncrementCompleted(_ context.Context, sessionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	if s.CompletedCount >= s.AttemptedCount {
		return fmt.Errorf("memory sessions: completed at attempted: %w", repository.ErrConflict)
	}
	s.CompletedCount++
	r.sessions[sessionID] = s
	return nil
}

func (r *SessionRepository) End(_ context.Context, userID string, sessionID uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.UserID != userID {
		return repository.ErrNotFound
	}
	s.Active = false
	if s.EndedAt == nil {
		s.EndedAt = &at
	}
	s.UpdatedAt = at
	r.sessions[sessionID] = s
	return nil
}

// LeadRepository is an in-memory repository.LeadRepository.
type LeadRepository struct {
	mu    sync.Mutex
	leads map[uuid.UUID]domain.Lead
}

// NewLeadRepository returns a repository seeded with leads.
func NewLeadRepository(leads ...domain.Lead) *LeadRepository {
	r := &LeadRepository{leads: map[uuid.UUID]domain.Lead{}}
	for _, l := range leads {
		r.leads[l.ID] = l
	}
	return r
}

func (r *LeadRepository) ListDialable(_ context.Context, userID, pipelineStage string, limit int) ([]domain.Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Lead
	for _, l := range r.leads {
		if l.UserID != userID {
			continue
		}
		if l.Status != domain.LeadStatusNew && l.Status != domain.LeadStatusCallback {
			continue
		}
		if pipelineStage != "" && l.PipelineStage != pipelineStage {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *LeadRepository) Get(_ context.Context, userID string, id uuid.UUID) (*domain.Lead, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok || l.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return &l, nil
}

func (r *LeadRepository) UpdateStatus(_ context.Context, userID string, id uuid.UUID, status domain.LeadStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.leads[id]
	if !ok || l.UserID != userID {
		return repository.ErrNotFound
	}
	l.Status = status
	r.leads[id] = l
	return nil
}

func (r *LeadRepository) TouchCalled(_ context.Context, userID string, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.leads[id]; ok && l.UserID == userID {
		l.LastCalledAt = &at
		r.leads[id] = l
	}
	return nil
}

// OutcomeRepository is an in-memory repository.OutcomeRepository.
type OutcomeRepository struct {
	mu       sync.Mutex
	outcomes []domain.CallOutcome
}

// NewOutcomeRepository returns an empty repository.
func NewOutcomeRepository() *OutcomeRepository {
	return &OutcomeRepository{}
}

func (r *OutcomeRepository) Insert(_ context.Context, outcome *domain.CallOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.outcomes {
		if o.CallID == outcome.CallID {
			return fmt.Errorf("memory outcomes: call %s already logged: %w", outcome.CallID, repository.ErrConflict)
		}
	}
	r.outcomes = append(r.outcomes, *outcome)
	return nil
}

func (r *OutcomeRepository) GetByCall(_ context.Context, userID, callID string) (*domain.CallOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.outcomes {
		if o.UserID == userID && o.CallID == callID {
			return &o, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *OutcomeRepository) ListSince(_ context.Context, userID string, since time.Time) ([]domain.CallOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CallOutcome
	for _, o := range r.outcomes {
		if o.UserID == userID && !o.CreatedAt.Before(since) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *OutcomeRepository) ListBySession(_ context.Context, userID string, sessionID uuid.UUID) ([]domain.CallOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CallOutcome
	for _, o := range r.outcomes {
		if o.UserID == userID && o.SessionID != nil && *o.SessionID == sessionID {
			out = append(out, o)
		}
	}
	return out, nil
}

// SettingsRepository is an in-memory repository.SettingsRepository.
type SettingsRepository struct {
	mu       sync.Mutex
	settings map[string]domain.DialSettings
}

// NewSettingsRepository returns a repository seeded with settings.
func NewSettingsRepository(settings ...domain.DialSettings) *SettingsRepository {
	r := &SettingsRepository{settings: map[string]domain.DialSettings{}}
	for _, s := range settings {
		r.settings[s.UserID] = s
	}
	return r
}

func (r *SettingsRepository) Get(_ context.Context, userID string) (*domain.DialSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.settings[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (r *SettingsRepository) Upsert(_ context.Context, settings *domain.DialSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[settings.UserID] = *settings
	return nil
}

// TimelineStore is an in-memory repository.TimelineStore.
type TimelineStore struct {
	mu     sync.Mutex
	events []domain.CallStatusEvent
}

// NewTimelineStore returns an empty store.
func NewTimelineStore() *TimelineStore {
	return &TimelineStore{}
}

func (s *TimelineStore) Append(_ context.Context, event domain.CallStatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *TimelineStore) ListByCall(_ context.Context, userID string, _ time.Time, callID string, limit int, _ []byte) ([]domain.CallStatusEvent, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CallStatusEvent
	for _, e := range s.events {
		if e.UserID == userID && e.CallID == callID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil, nil
}

var (
	_ repository.CallRepository     = (*CallRepository)(nil)
	_ repository.SessionRepository  = (*SessionRepository)(nil)
	_ repository.LeadRepository     = (*LeadRepository)(nil)
	_ repository.OutcomeRepository  = (*OutcomeRepository)(nil)
	_ repository.SettingsRepository = (*SettingsRepository)(nil)
	_ repository.TimelineStore      = (*TimelineStore)(nil)
)

// Package memstore is an in-memory persistence adapter for development and
// tests. It enforces the same uniqueness rules as the sqlite schema.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/deemkeen/fedi/domain"
	"github.com/google/uuid"
)

const publicCollection = "https://www.w3.org/ns/activitystreams#Public"

type Store struct {
	mu            sync.Mutex
	actors        map[uuid.UUID]*domain.Actor
	accounts      map[uuid.UUID]*domain.Account
	statuses      map[uuid.UUID]*domain.Status
	follows       map[uuid.UUID]*domain.Follow
	likes         map[uuid.UUID]*domain.Like
	notifications []domain.Notification
	activities    map[string]domain.Activity
}

func New() *Store {
	return &Store{
		actors:     map[uuid.UUID]*domain.Actor{},
		accounts:   map[uuid.UUID]*domain.Account{},
		statuses:   map[uuid.UUID]*domain.Status{},
		follows:    map[uuid.UUID]*domain.Follow{},
		likes:      map[uuid.UUID]*domain.Like{},
		activities: map[string]domain.Activity{},
	}
}

// Actors

func (s *Store) ReadActorById(ctx context.Context, id uuid.UUID) (*domain.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneActor(s.actors[id]), nil
}

func (s *Store) ReadActorByURI(ctx context.Context, uri string) (*domain.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneActor(s.actorByURI(uri)), nil
}

func (s *Store) ReadLocalActorByUsername(ctx context.Context, username string) (*domain.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actors {
		if a.Local && strings.EqualFold(a.Username, username) {
			return cloneActor(a), nil
		}
	}
	return nil, nil
}

func (s *Store) CreateLocalActor(ctx context.Context, actor *domain.Actor, acc *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actors {
		if a.URI == actor.URI || (a.Local && strings.EqualFold(a.Username, actor.Username)) {
			return domain.ErrAlreadyExists
		}
	}
	for _, existing := range s.accounts {
		if acc.PublicKeyHash != "" && existing.PublicKeyHash == acc.PublicKeyHash {
			return domain.ErrAlreadyExists
		}
	}
	stored := cloneActor(actor)
	stored.Local = true
	s.actors[stored.Id] = stored

	account := *acc
	account.ActorId = stored.Id
	s.accounts[account.Id] = &account
	return nil
}

// UpsertRemoteActor keeps the id and counters of an already known actor.
func (s *Store) UpsertRemoteActor(ctx context.Context, actor *domain.Actor) (*domain.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := cloneActor(actor)
	if existing := s.actorByURI(actor.URI); existing != nil {
		stored.Id = existing.Id
		stored.FollowersCount = existing.FollowersCount
		stored.FollowingCount = existing.FollowingCount
		stored.StatusesCount = existing.StatusesCount
		stored.CreatedAt = existing.CreatedAt
	} else {
		if stored.Id == uuid.Nil {
			stored.Id = uuid.New()
		}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = time.Now()
		}
	}
	stored.Local = false
	stored.PrivateKeyPem = ""
	s.actors[stored.Id] = stored
	return cloneActor(stored), nil
}

func (s *Store) ReadAccountByPkHash(ctx context.Context, pkHash string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		if acc.PublicKeyHash == pkHash {
			copied := *acc
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *Store) ReadAccountByActorId(ctx context.Context, actorId uuid.UUID) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, acc := range s.accounts {
		if acc.ActorId == actorId {
			copied := *acc
			return &copied, nil
		}
	}
	return nil, nil
}

// Statuses

func (s *Store) CreateStatus(ctx context.Context, status *domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.statuses {
		if existing.URI == status.URI {
			return domain.ErrAlreadyExists
		}
		if status.Kind == domain.KindAnnounce && existing.Kind == domain.KindAnnounce &&
			existing.AccountId == status.AccountId && sameId(existing.OriginalStatusId, status.OriginalStatusId) {
			return domain.ErrAlreadyExists
		}
	}
	s.statuses[status.Id] = cloneStatus(status)
	if author := s.actors[status.AccountId]; author != nil {
		author.StatusesCount++
	}
	return nil
}

func (s *Store) ReadStatusById(ctx context.Context, id uuid.UUID) (*domain.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneStatus(s.statuses[id]), nil
}

func (s *Store) ReadStatusByURI(ctx context.Context, uri string) (*domain.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.statuses {
		if st.URI == uri {
			return cloneStatus(st), nil
		}
	}
	return nil, nil
}

func (s *Store) ReadAnnounce(ctx context.Context, accountId uuid.UUID, originalId uuid.UUID) (*domain.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.statuses {
		if st.Kind == domain.KindAnnounce && st.AccountId == accountId && sameId(st.OriginalStatusId, &originalId) {
			return cloneStatus(st), nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateStatus(ctx context.Context, status *domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.statuses[status.Id]
	if existing == nil {
		return nil
	}
	updated := cloneStatus(status)
	updated.LikesCount = existing.LikesCount
	s.statuses[status.Id] = updated
	return nil
}

// DeleteStatus also removes announces of the status, its likes and the
// notifications pointing at it.
func (s *Store) DeleteStatus(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteStatus(id), nil
}

func (s *Store) deleteStatus(id uuid.UUID) bool {
	status := s.statuses[id]
	if status == nil {
		return false
	}
	delete(s.statuses, id)
	if author := s.actors[status.AccountId]; author != nil && author.StatusesCount > 0 {
		author.StatusesCount--
	}

	for _, st := range s.statuses {
		if st.Kind == domain.KindAnnounce && sameId(st.OriginalStatusId, &id) {
			s.deleteStatus(st.Id)
		}
	}
	for likeId, like := range s.likes {
		if like.StatusId == id {
			delete(s.likes, likeId)
		}
	}
	kept := s.notifications[:0]
	for _, n := range s.notifications {
		if n.StatusId == nil || *n.StatusId != id {
			kept = append(kept, n)
		}
	}
	s.notifications = kept
	return true
}

func (s *Store) ReadStatusesByAccount(ctx context.Context, accountId uuid.UUID, limit int, offset int) ([]domain.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Status
	for _, st := range s.statuses {
		if st.AccountId == accountId {
			out = append(out, *cloneStatus(st))
		}
	}
	return page(newestFirst(out), limit, offset), nil
}

// ReadHomeTimeline returns the actor's own statuses and the statuses of
// accepted followees addressed to the public, to their followers or to the
// actor.
func (s *Store) ReadHomeTimeline(ctx context.Context, accountId uuid.UUID, limit int) ([]domain.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	self := s.actors[accountId]
	if self == nil {
		return nil, nil
	}
	followees := map[uuid.UUID]bool{}
	for _, f := range s.follows {
		if f.AccountId == accountId && f.Status == domain.FollowAccepted {
			followees[f.TargetAccountId] = true
		}
	}

	var out []domain.Status
	for _, st := range s.statuses {
		visible := st.AccountId == accountId || st.Addressed(self.URI)
		if !visible && followees[st.AccountId] {
			author := s.actors[st.AccountId]
			visible = st.Addressed(publicCollection) || (author != nil && st.Addressed(author.FollowersURI))
		}
		if visible {
			out = append(out, *cloneStatus(st))
		}
	}
	return page(newestFirst(out), limit, 0), nil
}

// Follows

func (s *Store) CreateFollow(ctx context.Context, follow *domain.Follow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.follows {
		if f.AccountId == follow.AccountId && f.TargetAccountId == follow.TargetAccountId && f.Status.Active() && follow.Status.Active() {
			return domain.ErrAlreadyExists
		}
	}
	stored := *follow
	s.follows[stored.Id] = &stored
	if stored.Status == domain.FollowAccepted {
		s.adjustCounts(&stored, 1)
	}
	return nil
}

func (s *Store) ReadFollowById(ctx context.Context, id uuid.UUID) (*domain.Follow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneFollow(s.follows[id]), nil
}

func (s *Store) ReadFollowByURI(ctx context.Context, uri string) (*domain.Follow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.follows {
		if f.URI == uri {
			return cloneFollow(f), nil
		}
	}
	return nil, nil
}

func (s *Store) ReadActiveFollow(ctx context.Context, accountId uuid.UUID, targetId uuid.UUID) (*domain.Follow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.follows {
		if f.AccountId == accountId && f.TargetAccountId == targetId && f.Status.Active() {
			return cloneFollow(f), nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateFollowStatus(ctx context.Context, id uuid.UUID, from []domain.FollowStatus, to domain.FollowStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.follows[id]
	if f == nil {
		return false, nil
	}
	allowed := false
	for _, status := range from {
		if f.Status == status {
			allowed = true
		}
	}
	if !allowed {
		return false, nil
	}

	if f.Status == domain.FollowAccepted && to != domain.FollowAccepted {
		s.adjustCounts(f, -1)
	}
	if f.Status != domain.FollowAccepted && to == domain.FollowAccepted {
		s.adjustCounts(f, 1)
	}
	f.Status = to
	f.UpdatedAt = time.Now()
	return true, nil
}

func (s *Store) adjustCounts(f *domain.Follow, delta int) {
	if follower := s.actors[f.AccountId]; follower != nil {
		follower.FollowingCount = max(0, follower.FollowingCount+delta)
	}
	if followee := s.actors[f.TargetAccountId]; followee != nil {
		followee.FollowersCount = max(0, followee.FollowersCount+delta)
	}
}

func (s *Store) ReadFollowers(ctx context.Context, targetId uuid.UUID) ([]domain.Follow, error) {
	return s.followsWhere(func(f *domain.Follow) bool {
		return f.TargetAccountId == targetId && f.Status == domain.FollowAccepted
	}), nil
}

func (s *Store) ReadFollowRequests(ctx context.Context, targetId uuid.UUID) ([]domain.Follow, error) {
	return s.followsWhere(func(f *domain.Follow) bool {
		return f.TargetAccountId == targetId && f.Status == domain.FollowRequested
	}), nil
}

func (s *Store) ReadFollowsByInbox(ctx context.Context, inbox string) ([]domain.Follow, error) {
	return s.followsWhere(func(f *domain.Follow) bool {
		return f.InboxURI == inbox || f.SharedInboxURI == inbox
	}), nil
}

func (s *Store) followsWhere(match func(*domain.Follow) bool) []domain.Follow {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Follow
	for _, f := range s.follows {
		if match(f) {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Likes

func (s *Store) CreateLike(ctx context.Context, like *domain.Like) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.likes {
		if (l.AccountId == like.AccountId && l.StatusId == like.StatusId) || l.URI == like.URI {
			return domain.ErrAlreadyExists
		}
	}
	stored := *like
	s.likes[stored.Id] = &stored
	if status := s.statuses[like.StatusId]; status != nil {
		status.LikesCount++
	}
	return nil
}

func (s *Store) ReadLikeById(ctx context.Context, id uuid.UUID) (*domain.Like, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneLike(s.likes[id]), nil
}

func (s *Store) ReadLikeByURI(ctx context.Context, uri string) (*domain.Like, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.likes {
		if l.URI == uri {
			return cloneLike(l), nil
		}
	}
	return nil, nil
}

func (s *Store) ReadLike(ctx context.Context, accountId uuid.UUID, statusId uuid.UUID) (*domain.Like, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.likes {
		if l.AccountId == accountId && l.StatusId == statusId {
			return cloneLike(l), nil
		}
	}
	return nil, nil
}

func (s *Store) DeleteLike(ctx context.Context, accountId uuid.UUID, statusId uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, l := range s.likes {
		if l.AccountId == accountId && l.StatusId == statusId {
			delete(s.likes, id)
			if status := s.statuses[statusId]; status != nil && status.LikesCount > 0 {
				status.LikesCount--
			}
			return true, nil
		}
	}
	return false, nil
}

// Notifications and the activity ledger

func (s *Store) CreateNotification(ctx context.Context, n *domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, *n)
	return nil
}

func (s *Store) ReadNotifications(ctx context.Context, accountId uuid.UUID, limit int) ([]domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Notification
	for idx := len(s.notifications) - 1; idx >= 0; idx-- {
		n := s.notifications[idx]
		if n.AccountId == accountId {
			out = append(out, n)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) HasActivity(ctx context.Context, dedupId string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.activities[dedupId]
	return ok, nil
}

func (s *Store) RecordActivity(ctx context.Context, activity *domain.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.activities[activity.Id]; ok {
		return domain.ErrAlreadyExists
	}
	s.activities[activity.Id] = *activity
	return nil
}

// Deletion lifecycle

func (s *Store) UpdateDeletionStatus(ctx context.Context, actorId uuid.UUID, from []domain.DeletionStatus, to domain.DeletionStatus, scheduledAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	actor := s.actors[actorId]
	if actor == nil {
		return false, nil
	}
	for _, status := range from {
		if actor.DeletionStatus == status {
			actor.DeletionStatus = to
			if scheduledAt != nil {
				at := *scheduledAt
				actor.DeletionScheduledAt = &at
			} else if to == domain.DeletionNone {
				actor.DeletionScheduledAt = nil
			}
			return true, nil
		}
	}
	return false, nil
}

// ReadActorsDueForDeletion includes actors stuck in deleting so an
// interrupted cascade is picked up again.
func (s *Store) ReadActorsDueForDeletion(ctx context.Context, now time.Time) ([]domain.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Actor
	for _, a := range s.actors {
		if !a.Local {
			continue
		}
		due := a.DeletionStatus == domain.DeletionScheduled && a.DeletionScheduledAt != nil && !a.DeletionScheduledAt.After(now)
		if due || a.DeletionStatus == domain.DeletionDeleting {
			out = append(out, *cloneActor(a))
		}
	}
	return out, nil
}

func (s *Store) DeleteActorData(ctx context.Context, actorId uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, st := range s.statuses {
		if st.AccountId == actorId {
			s.deleteStatus(id)
		}
	}
	for id, l := range s.likes {
		if l.AccountId == actorId {
			if status := s.statuses[l.StatusId]; status != nil && status.LikesCount > 0 {
				status.LikesCount--
			}
			delete(s.likes, id)
		}
	}
	for id, f := range s.follows {
		if f.AccountId == actorId || f.TargetAccountId == actorId {
			if f.Status == domain.FollowAccepted {
				s.adjustCounts(f, -1)
			}
			delete(s.follows, id)
		}
	}
	kept := s.notifications[:0]
	for _, n := range s.notifications {
		if n.AccountId != actorId && n.SourceAccountId != actorId {
			kept = append(kept, n)
		}
	}
	s.notifications = kept
	for id, acc := range s.accounts {
		if acc.ActorId == actorId {
			delete(s.accounts, id)
		}
	}
	delete(s.actors, actorId)
	return nil
}

func (s *Store) actorByURI(uri string) *domain.Actor {
	for _, a := range s.actors {
		if a.URI == uri {
			return a
		}
	}
	return nil
}

func sameId(a, b *uuid.UUID) bool {
	return a != nil && b != nil && *a == *b
}

func newestFirst(list []domain.Status) []domain.Status {
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return list
}

func page(list []domain.Status, limit int, offset int) []domain.Status {
	if offset >= len(list) {
		return nil
	}
	list = list[offset:]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}

func cloneActor(a *domain.Actor) *domain.Actor {
	if a == nil {
		return nil
	}
	copied := *a
	if a.DeletionScheduledAt != nil {
		at := *a.DeletionScheduledAt
		copied.DeletionScheduledAt = &at
	}
	return &copied
}

func cloneStatus(st *domain.Status) *domain.Status {
	if st == nil {
		return nil
	}
	copied := *st
	copied.To = append([]string(nil), st.To...)
	copied.CC = append([]string(nil), st.CC...)
	copied.Choices = append([]domain.PollChoice(nil), st.Choices...)
	copied.Edits = append([]domain.StatusEdit(nil), st.Edits...)
	copied.Attachments = append([]domain.Attachment(nil), st.Attachments...)
	return &copied
}

func cloneFollow(f *domain.Follow) *domain.Follow {
	if f == nil {
		return nil
	}
	copied := *f
	return &copied
}

func cloneLike(l *domain.Like) *domain.Like {
	if l == nil {
		return nil
	}
	copied := *l
	return &copied
}

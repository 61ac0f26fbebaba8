package game

import (
	"errors"
	"time"

	"github.com/Seednode/botornot/internal/broadcast"
	"github.com/Seednode/botornot/internal/room"
)

type presenceKey struct {
	code   string
	userID string
}

// Subscribe attaches a live connection for a member of the room and returns
// the projection it should render first.
func (s *Service) Subscribe(code, userID string) (*broadcast.Subscription, Result, error) {
	e, err := s.store.Get(code)
	if err != nil {
		return nil, Result{}, err
	}

	e.Lock()
	defer e.Unlock()

	if e.Closed() {
		return nil, Result{}, room.ErrRoomNotFound
	}
	r := e.Room()
	if r.Player(userID) == nil {
		return nil, Result{}, room.ErrUserNotFound
	}

	s.cancelEviction(e.Code(), userID)

	r.Touch(userID, s.opts.Now())
	sub := s.hub.Subscribe(e.Code(), userID)

	return sub, Result{Code: e.Code(), View: r.View(s.opts.View)}, nil
}

// Unsubscribe detaches a connection. Once a player holds no connection for
// the player timeout, they are removed from the room.
func (s *Service) Unsubscribe(sub *broadcast.Subscription) {
	s.hub.Unsubscribe(sub)
	s.scheduleEviction(sub.Code, sub.UserID)
}

// scheduleEviction arms the removal timer for a player without a live
// connection. Players who join and never connect are covered too.
func (s *Service) scheduleEviction(code, userID string) {
	if s.opts.PlayerTimeout <= 0 || s.hub.Connected(code, userID) {
		return
	}

	key := presenceKey{code, userID}

	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()

	if t, ok := s.presence[key]; ok {
		t.Stop()
	}
	s.presence[key] = time.AfterFunc(s.opts.PlayerTimeout, func() {
		s.evict(key)
	})
}

func (s *Service) cancelEviction(code, userID string) {
	key := presenceKey{code, userID}

	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()

	if t, ok := s.presence[key]; ok {
		t.Stop()
		delete(s.presence, key)
	}
}

func (s *Service) evict(key presenceKey) {
	s.presenceMu.Lock()
	delete(s.presence, key)
	s.presenceMu.Unlock()

	if s.hub.Connected(key.code, key.userID) {
		return
	}

	_, err := s.remove(key.code, "", func(r *room.Room) ([]room.Event, error) {
		return r.Leave(key.userID, room.ReasonTimeout)
	}, key.userID)
	switch {
	case err == nil, errors.Is(err, room.ErrRoomNotFound), errors.Is(err, room.ErrUserNotFound):
	default:
		s.opts.Logf("ERROR: Evicting %s from %s: %v", key.userID, key.code, err)
	}
}

func (s *Service) stopEvictions() {
	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()

	for key, t := range s.presence {
		t.Stop()
		delete(s.presence, key)
	}
}

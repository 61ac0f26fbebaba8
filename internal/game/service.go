// Package game is the entry point for every player action. It serializes
// transitions per room, fans the resulting events out to subscribers, and
// runs the synthetic answer requests outside of the room lock.
package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Seednode/botornot/internal/answer"
	"github.com/Seednode/botornot/internal/broadcast"
	"github.com/Seednode/botornot/internal/room"
	"github.com/Seednode/botornot/internal/store"
)

const (
	// EventKicked is sent only to a player removed by the owner.
	EventKicked = "kicked"

	// EventRoomClosed is sent when an idle room is reaped.
	EventRoomClosed = "roomClosed"
)

type Options struct {
	Provider      answer.Provider
	AnswerTimeout time.Duration

	// PlayerTimeout is how long a player may stay disconnected before they
	// are removed. Zero disables presence eviction.
	PlayerTimeout time.Duration

	View room.ViewOptions
	Now  func() time.Time
	Logf func(format string, args ...any)
}

type Service struct {
	store *store.Store
	hub   *broadcast.Hub
	opts  Options

	ctx    context.Context
	cancel context.CancelFunc

	// tasksMu guards closed so no task is added once Close is waiting.
	tasksMu sync.Mutex
	closed  bool
	tasks   sync.WaitGroup

	presenceMu sync.Mutex
	presence   map[presenceKey]*time.Timer
}

// Result is the success payload of an action.
type Result struct {
	Code string `json:"code"`
	View any    `json:"room"`
}

// EventPayload is the data of every room event.
type EventPayload struct {
	PlayerID   string `json:"playerId,omitempty"`
	PlayerName string `json:"playerName,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Submitted  int    `json:"submittedCount"`
	Expected   int    `json:"totalExpected"`
	Room       any    `json:"room"`
}

func New(st *store.Store, hub *broadcast.Hub, opts Options) *Service {
	if opts.Provider == nil {
		opts.Provider = answer.Static{}
	}
	if opts.AnswerTimeout <= 0 {
		opts.AnswerTimeout = answer.DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logf == nil {
		opts.Logf = func(string, ...any) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:    st,
		hub:      hub,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		presence: make(map[presenceKey]*time.Timer),
	}
}

// Run reaps idle rooms until ctx is done.
func (s *Service) Run(ctx context.Context, idle time.Duration) {
	s.store.Run(ctx, idle, func(code string) {
		if msg, err := broadcast.NewMessage(EventRoomClosed, map[string]string{"code": code}); err == nil {
			s.hub.Publish(code, msg)
		}
		s.hub.CloseRoom(code)
	})
}

// Close cancels outstanding answer requests and waits for them to settle.
func (s *Service) Close() {
	s.tasksMu.Lock()
	s.closed = true
	s.tasksMu.Unlock()

	s.stopEvictions()
	s.cancel()
	s.tasks.Wait()
}

// Wait blocks until every outstanding answer request has been applied.
func (s *Service) Wait() {
	s.tasks.Wait()
}

// outcome is what a transition produced, captured under the room lock.
type outcome struct {
	code      string
	view      any
	messages  []broadcast.Message
	events    []room.Event
	round     int
	question  string
	destroyed bool
}

// do runs fn as a single transition on the room. fn must not block. The
// room is restored to its prior state if fn fails or panics.
func (s *Service) do(code, actorID string, fn func(r *room.Room) ([]room.Event, error)) (outcome, error) {
	e, err := s.store.Get(code)
	if err != nil {
		return outcome{}, err
	}

	e.Lock()
	out, err := s.apply(e, actorID, fn)
	if err != nil {
		e.Unlock()
		return outcome{}, err
	}

	// Transitions on one room reach subscribers in the order they applied.
	e.LockPublish()
	e.Unlock()
	s.publish(out)
	e.UnlockPublish()

	return out, nil
}

func (s *Service) apply(e *store.Entry, actorID string, fn func(r *room.Room) ([]room.Event, error)) (out outcome, err error) {
	if e.Closed() {
		return outcome{}, room.ErrRoomNotFound
	}

	before := e.Room().Clone()
	defer func() {
		if p := recover(); p != nil {
			s.opts.Logf("ERROR: Transition panicked in %s: %v", e.Code(), p)
			e.Replace(before)
			out, err = outcome{}, room.ErrInternal
		}
	}()

	r := e.Room()
	events, err := fn(r)
	if err != nil {
		e.Replace(before)
		return outcome{}, err
	}

	if len(events) > 0 {
		r.LastActive = s.opts.Now()
	}
	if actorID != "" {
		r.Touch(actorID, s.opts.Now())
	}

	out = outcome{
		code:     e.Code(),
		view:     r.View(s.opts.View),
		events:   events,
		round:    r.Round,
		question: r.Question,
	}

	for _, ev := range events {
		msg, err := broadcast.NewMessage(string(ev.Type), EventPayload{
			PlayerID:   ev.PlayerID,
			PlayerName: ev.PlayerName,
			Reason:     string(ev.Reason),
			Submitted:  ev.Submitted,
			Expected:   ev.Expected,
			Room:       out.view,
		})
		if err != nil {
			e.Replace(before)
			return outcome{}, fmt.Errorf("%w: encode %s: %v", room.ErrInternal, ev.Type, err)
		}
		out.messages = append(out.messages, msg)
	}

	out.destroyed = s.store.DestroyIfEmpty(e)
	return out, nil
}

// publish runs after the room lock is released so slow subscribers never
// hold up the next transition.
func (s *Service) publish(out outcome) {
	for _, msg := range out.messages {
		s.hub.Publish(out.code, msg)
	}
	if out.destroyed {
		s.hub.CloseRoom(out.code)
	}
}

func (s *Service) CreateRoom(userID, name string) (Result, error) {
	code, e, err := s.store.Create(userID, name)
	if err != nil {
		return Result{}, err
	}

	e.Lock()
	view := e.Room().View(s.opts.View)
	e.Unlock()

	s.opts.Logf("ROOMS: %q created %s", name, code)
	s.scheduleEviction(code, userID)
	return Result{Code: code, View: view}, nil
}

func (s *Service) JoinRoom(code, userID, name string) (Result, error) {
	out, err := s.do(code, userID, func(r *room.Room) ([]room.Event, error) {
		return r.Join(userID, name, s.opts.Now())
	})
	if err != nil {
		return Result{}, err
	}
	if len(out.events) > 0 {
		s.opts.Logf("ROOMS: %q joined %s", name, out.code)
	}
	s.scheduleEviction(out.code, userID)
	return out.result(), nil
}

func (s *Service) LeaveRoom(code, userID string) (Result, error) {
	return s.remove(code, userID, func(r *room.Room) ([]room.Event, error) {
		return r.Leave(userID, room.ReasonLeft)
	}, userID)
}

func (s *Service) Kick(code, requesterID, targetID string) (Result, error) {
	res, err := s.remove(code, requesterID, func(r *room.Room) ([]room.Event, error) {
		return r.Kick(requesterID, targetID)
	}, targetID)
	if err != nil {
		return Result{}, err
	}

	if msg, err := broadcast.NewMessage(EventKicked, EventPayload{PlayerID: targetID, Room: res.View}); err == nil {
		s.hub.PublishTo(res.Code, targetID, msg)
	}
	s.hub.Disconnect(res.Code, targetID)
	return res, nil
}

func (s *Service) remove(code, actorID string, fn func(r *room.Room) ([]room.Event, error), goneID string) (Result, error) {
	out, err := s.do(code, actorID, fn)
	if err != nil {
		return Result{}, err
	}
	for _, ev := range out.events {
		if ev.Type == room.EventPlayerLeft {
			s.opts.Logf("ROOMS: %q left %s (%s)", ev.PlayerName, out.code, ev.Reason)
		}
	}
	if out.destroyed {
		s.opts.Logf("ROOMS: %s is empty", out.code)
	}
	// Kicked players are told why before their connections close.
	if goneID == actorID {
		s.hub.Disconnect(out.code, goneID)
	}
	return out.result(), nil
}

func (s *Service) StartGame(code, requesterID string) (Result, error) {
	out, err := s.do(code, requesterID, func(r *room.Room) ([]room.Event, error) {
		return r.Start(requesterID)
	})
	if err != nil {
		return Result{}, err
	}
	s.opts.Logf("ROOMS: Game started in %s", out.code)
	return out.result(), nil
}

// SubmitQuestion acknowledges the question and then asks the provider for
// the synthetic answer in the background.
func (s *Service) SubmitQuestion(code, requesterID, text string) (Result, error) {
	out, err := s.do(code, requesterID, func(r *room.Room) ([]room.Event, error) {
		return r.AskQuestion(requesterID, text)
	})
	if err != nil {
		return Result{}, err
	}

	s.requestSynthetic(out.code, out.round, out.question)
	return out.result(), nil
}

func (s *Service) requestSynthetic(code string, round int, question string) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	if s.closed {
		return
	}

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()

		text, err := answer.Request(s.ctx, s.opts.Provider, question, s.opts.AnswerTimeout)
		if err != nil {
			s.opts.Logf("ROOMS: Answer provider failed in %s, using fallback: %v", code, err)
		}

		_, err = s.do(code, "", func(r *room.Room) ([]room.Event, error) {
			return r.SubmitSyntheticAnswer(round, text)
		})
		if err != nil && !errors.Is(err, room.ErrRoomNotFound) {
			s.opts.Logf("ERROR: Applying synthetic answer in %s: %v", code, err)
		}
	}()
}

func (s *Service) SubmitAnswer(code, requesterID, text string) (Result, error) {
	out, err := s.do(code, requesterID, func(r *room.Room) ([]room.Event, error) {
		return r.SubmitAnswer(requesterID, text)
	})
	if err != nil {
		return Result{}, err
	}
	return out.result(), nil
}

func (s *Service) CastVote(code, requesterID, targetAuthorID string) (Result, error) {
	out, err := s.do(code, requesterID, func(r *room.Room) ([]room.Event, error) {
		return r.CastVote(requesterID, targetAuthorID)
	})
	if err != nil {
		return Result{}, err
	}
	return out.result(), nil
}

func (s *Service) AdvanceTurn(code, requesterID string) (Result, error) {
	out, err := s.do(code, requesterID, func(r *room.Room) ([]room.Event, error) {
		return r.Advance(requesterID)
	})
	if err != nil {
		return Result{}, err
	}
	return out.result(), nil
}

// View returns the current projection of a room.
func (s *Service) View(code string) (Result, error) {
	e, err := s.store.Get(code)
	if err != nil {
		return Result{}, err
	}

	e.Lock()
	defer e.Unlock()

	if e.Closed() {
		return Result{}, room.ErrRoomNotFound
	}
	return Result{Code: e.Code(), View: e.Room().View(s.opts.View)}, nil
}

func (o outcome) result() Result {
	return Result{Code: o.code, View: o.view}
}

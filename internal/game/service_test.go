package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Seednode/botornot/internal/answer"
	"github.com/Seednode/botornot/internal/broadcast"
	"github.com/Seednode/botornot/internal/room"
	"github.com/Seednode/botornot/internal/store"
)

func newService(t *testing.T, opts Options) *Service {
	t.Helper()
	s := New(store.New(), broadcast.NewHub(64, nil), opts)
	t.Cleanup(s.Close)
	return s
}

func fixedProvider(text string) answer.Provider {
	return answer.ProviderFunc(func(context.Context, string) (string, error) {
		return text, nil
	})
}

// newRoom creates a room owned by p0 with n players in total.
func newRoom(t *testing.T, s *Service, n int) string {
	t.Helper()
	res, err := s.CreateRoom("p0", "owner")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 1; i < n; i++ {
		id := "p" + string(rune('0'+i))
		if _, err := s.JoinRoom(res.Code, id, "player"+id); err != nil {
			t.Fatalf("join %s: %v", id, err)
		}
	}
	return res.Code
}

func gameView(t *testing.T, s *Service, code string) room.GameView {
	t.Helper()
	res, err := s.View(code)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	v, ok := res.View.(room.GameView)
	if !ok {
		t.Fatalf("expected game view, got %T", res.View)
	}
	return v
}

func lobbyView(t *testing.T, s *Service, code string) room.LobbyView {
	t.Helper()
	res, err := s.View(code)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	v, ok := res.View.(room.LobbyView)
	if !ok {
		t.Fatalf("expected lobby view, got %T", res.View)
	}
	return v
}

func drain(sub *broadcast.Subscription) []broadcast.Message {
	var msgs []broadcast.Message
	for {
		select {
		case msg := <-sub.C():
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func eventNames(msgs []broadcast.Message) []string {
	names := make([]string, 0, len(msgs))
	for _, m := range msgs {
		names = append(names, m.Event)
	}
	return names
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestSyntheticAnswerOpensVoting(t *testing.T) {
	s := newService(t, Options{Provider: fixedProvider("Probably the moon.")})
	code := newRoom(t, s, 3)

	if _, err := s.StartGame(code, "p0"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.SubmitQuestion(code, "p0", "Where do socks go?"); err != nil {
		t.Fatalf("question: %v", err)
	}
	for _, id := range []string{"p1", "p2"} {
		if _, err := s.SubmitAnswer(code, id, "answer from "+id); err != nil {
			t.Fatalf("answer %s: %v", id, err)
		}
	}
	s.Wait()

	v := gameView(t, s, code)
	if v.Phase != room.PhaseVoting {
		t.Fatalf("expected voting, got %s", v.Phase)
	}
	if len(v.Answers) != 3 {
		t.Fatalf("expected 3 answers, got %d", len(v.Answers))
	}
	i := slices.IndexFunc(v.Answers, func(a room.AnswerView) bool {
		return a.AuthorID == room.SyntheticAuthor
	})
	if i < 0 || v.Answers[i].Text != "Probably the moon." {
		t.Fatalf("expected synthetic answer among %+v", v.Answers)
	}
	if v.Answers[i].Synthetic {
		t.Fatalf("expected synthetic flag hidden while voting")
	}
}

func TestProviderFailureUsesFallback(t *testing.T) {
	s := newService(t, Options{
		Provider: answer.ProviderFunc(func(context.Context, string) (string, error) {
			return "", errors.New("rate limited")
		}),
	})
	code := newRoom(t, s, 2)

	if _, err := s.StartGame(code, "p0"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.SubmitQuestion(code, "p0", "Best breakfast?"); err != nil {
		t.Fatalf("question: %v", err)
	}
	if _, err := s.SubmitAnswer(code, "p1", "Eggs"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	s.Wait()

	v := gameView(t, s, code)
	if v.Phase != room.PhaseVoting {
		t.Fatalf("expected voting, got %s", v.Phase)
	}
	for _, a := range v.Answers {
		if a.AuthorID == room.SyntheticAuthor && !slices.Contains(answer.Fallbacks, a.Text) {
			t.Fatalf("expected fallback text, got %q", a.Text)
		}
	}
}

func TestSlowProviderTimesOut(t *testing.T) {
	s := newService(t, Options{
		Provider: answer.ProviderFunc(func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}),
		AnswerTimeout: 20 * time.Millisecond,
	})
	code := newRoom(t, s, 2)

	if _, err := s.StartGame(code, "p0"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.SubmitQuestion(code, "p0", "Favorite color?"); err != nil {
		t.Fatalf("question: %v", err)
	}
	s.Wait()

	if v := gameView(t, s, code); v.AnswersCount != 1 {
		t.Fatalf("expected fallback answer recorded, got %d answers", v.AnswersCount)
	}
}

func TestStaleSyntheticAnswerDropped(t *testing.T) {
	release := make(chan struct{})
	s := newService(t, Options{
		Provider: answer.ProviderFunc(func(_ context.Context, question string) (string, error) {
			if question == "first" {
				<-release
				return "stale", nil
			}
			return "fresh", nil
		}),
	})
	code := newRoom(t, s, 3)

	if _, err := s.StartGame(code, "p0"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := s.SubmitQuestion(code, "p0", "first"); err != nil {
		t.Fatalf("question: %v", err)
	}
	// The asker leaving abandons the round and passes the turn to p1.
	if _, err := s.LeaveRoom(code, "p0"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, err := s.SubmitQuestion(code, "p1", "second"); err != nil {
		t.Fatalf("second question: %v", err)
	}
	close(release)
	s.Wait()

	if _, err := s.SubmitAnswer(code, "p2", "mine"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	v := gameView(t, s, code)
	if v.Phase != room.PhaseVoting || len(v.Answers) != 2 {
		t.Fatalf("expected voting with 2 answers, got %s with %d", v.Phase, len(v.Answers))
	}
	for _, a := range v.Answers {
		if a.Text == "stale" {
			t.Fatalf("expected stale answer to be dropped")
		}
	}
}

func TestRollbackOnError(t *testing.T) {
	s := newService(t, Options{})
	code := newRoom(t, s, 2)

	_, err := s.do(code, "p0", func(r *room.Room) ([]room.Event, error) {
		r.Players[0].Points = 99
		r.OwnerID = "p1"
		return nil, room.ErrNotOwner
	})
	if !errors.Is(err, room.ErrNotOwner) {
		t.Fatalf("expected %v, got %v", room.ErrNotOwner, err)
	}

	v := lobbyView(t, s, code)
	if v.OwnerID != "p0" || v.Players[0].Points != 0 {
		t.Fatalf("expected room unchanged, got %+v", v)
	}
}

func TestRollbackOnPanic(t *testing.T) {
	s := newService(t, Options{})
	code := newRoom(t, s, 2)

	_, err := s.do(code, "p0", func(r *room.Room) ([]room.Event, error) {
		r.Players = r.Players[:1]
		panic("boom")
	})
	if room.CodeOf(err) != room.CodeInternal {
		t.Fatalf("expected %s, got %v", room.CodeInternal, err)
	}

	if v := lobbyView(t, s, code); len(v.Players) != 2 {
		t.Fatalf("expected 2 players after rollback, got %d", len(v.Players))
	}

	// The room stays usable.
	if _, err := s.StartGame(code, "p0"); err != nil {
		t.Fatalf("start after panic: %v", err)
	}
}

func TestEventsFanOut(t *testing.T) {
	s := newService(t, Options{})
	code := newRoom(t, s, 1)

	sub, initial, err := s.Subscribe(code, "p0")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, ok := initial.View.(room.LobbyView); !ok {
		t.Fatalf("expected lobby view, got %T", initial.View)
	}

	if _, err := s.JoinRoom(code, "p1", "bob"); err != nil {
		t.Fatalf("join: %v", err)
	}

	msgs := drain(sub)
	if len(msgs) != 1 || msgs[0].Event != string(room.EventPlayerJoined) {
		t.Fatalf("expected playerJoined, got %v", eventNames(msgs))
	}

	var payload struct {
		PlayerName string         `json:"playerName"`
		Room       room.LobbyView `json:"room"`
	}
	if err := json.Unmarshal(msgs[0].Data, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.PlayerName != "bob" || len(payload.Room.Players) != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestFailedActionPublishesNothing(t *testing.T) {
	s := newService(t, Options{})
	code := newRoom(t, s, 2)

	sub, _, err := s.Subscribe(code, "p1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := s.StartGame(code, "p1"); !errors.Is(err, room.ErrNotOwner) {
		t.Fatalf("expected %v, got %v", room.ErrNotOwner, err)
	}
	if msgs := drain(sub); len(msgs) != 0 {
		t.Fatalf("expected no events, got %v", eventNames(msgs))
	}
}

func TestSubscribeRequiresMembership(t *testing.T) {
	s := newService(t, Options{})
	code := newRoom(t, s, 1)

	if _, _, err := s.Subscribe(code, "stranger"); !errors.Is(err, room.ErrUserNotFound) {
		t.Fatalf("expected %v, got %v", room.ErrUserNotFound, err)
	}
	if _, _, err := s.Subscribe("ZZZZZZ", "p0"); !errors.Is(err, room.ErrRoomNotFound) {
		t.Fatalf("expected %v, got %v", room.ErrRoomNotFound, err)
	}
}

func TestKickNotifiesTarget(t *testing.T) {
	s := newService(t, Options{})
	code := newRoom(t, s, 3)

	target, _, err := s.Subscribe(code, "p2")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := s.Kick(code, "p1", "p2"); !errors.Is(err, room.ErrNotOwner) {
		t.Fatalf("expected %v, got %v", room.ErrNotOwner, err)
	}
	if _, err := s.Kick(code, "p0", "p2"); err != nil {
		t.Fatalf("kick: %v", err)
	}

	select {
	case <-target.Done():
	default:
		t.Fatalf("expected kicked subscription closed")
	}
	if names := eventNames(drain(target)); !slices.Contains(names, EventKicked) {
		t.Fatalf("expected %s event, got %v", EventKicked, names)
	}
	if v := lobbyView(t, s, code); len(v.Players) != 2 {
		t.Fatalf("expected 2 players, got %d", len(v.Players))
	}
}

func TestLastPlayerLeavingDestroysRoom(t *testing.T) {
	s := newService(t, Options{})
	code := newRoom(t, s, 1)

	sub, _, err := s.Subscribe(code, "p0")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, err := s.LeaveRoom(code, "p0"); err != nil {
		t.Fatalf("leave: %v", err)
	}

	if _, err := s.View(code); !errors.Is(err, room.ErrRoomNotFound) {
		t.Fatalf("expected %v, got %v", room.ErrRoomNotFound, err)
	}
	select {
	case <-sub.Done():
	default:
		t.Fatalf("expected subscription closed")
	}
	if _, err := s.JoinRoom(code, "p1", "late"); !errors.Is(err, room.ErrRoomNotFound) {
		t.Fatalf("expected %v, got %v", room.ErrRoomNotFound, err)
	}
}

// connectedRoom creates a room owned by p0, who stays connected, and joins
// p1. It returns the room code.
func connectedRoom(t *testing.T, s *Service) string {
	t.Helper()
	res, err := s.CreateRoom("p0", "owner")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := s.Subscribe(res.Code, "p0"); err != nil {
		t.Fatalf("subscribe owner: %v", err)
	}
	if _, err := s.JoinRoom(res.Code, "p1", "bob"); err != nil {
		t.Fatalf("join: %v", err)
	}
	return res.Code
}

func TestPresenceTimeoutEvicts(t *testing.T) {
	s := newService(t, Options{PlayerTimeout: 200 * time.Millisecond})
	code := connectedRoom(t, s)

	sub, _, err := s.Subscribe(code, "p1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	s.Unsubscribe(sub)

	waitFor(t, func() bool {
		return len(lobbyView(t, s, code).Players) == 1
	})
}

func TestJoinWithoutConnectionEvicts(t *testing.T) {
	s := newService(t, Options{PlayerTimeout: 200 * time.Millisecond})
	code := connectedRoom(t, s)

	waitFor(t, func() bool {
		return len(lobbyView(t, s, code).Players) == 1
	})
	if v := lobbyView(t, s, code); v.Players[0].ID != "p0" {
		t.Fatalf("expected connected owner kept, got %+v", v.Players)
	}
}

func TestReconnectCancelsEviction(t *testing.T) {
	s := newService(t, Options{PlayerTimeout: 200 * time.Millisecond})
	code := connectedRoom(t, s)

	sub, _, err := s.Subscribe(code, "p1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	s.Unsubscribe(sub)
	if _, _, err := s.Subscribe(code, "p1"); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}

	time.Sleep(500 * time.Millisecond)
	if v := lobbyView(t, s, code); len(v.Players) != 2 {
		t.Fatalf("expected reconnected player kept, got %d players", len(v.Players))
	}
}

func TestEventsArriveInTransitionOrder(t *testing.T) {
	const joiners = 300

	for trial := range 20 {
		s := New(store.New(), broadcast.NewHub(4096, nil), Options{})
		t.Cleanup(s.Close)

		res, err := s.CreateRoom("p0", "owner")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		sub, _, err := s.Subscribe(res.Code, "p0")
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}

		var wg sync.WaitGroup
		for i := range joiners {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id := fmt.Sprintf("u%d", i)
				if _, err := s.JoinRoom(res.Code, id, "name"+id); err != nil {
					t.Errorf("join %s: %v", id, err)
				}
			}()
		}
		wg.Wait()

		msgs := drain(sub)
		if len(msgs) != joiners {
			t.Fatalf("trial %d: expected %d events, got %d", trial, joiners, len(msgs))
		}

		last := 0
		for _, msg := range msgs {
			var payload struct {
				Room room.LobbyView `json:"room"`
			}
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if n := len(payload.Room.Players); n <= last {
				t.Fatalf("trial %d: expected roster to grow past %d, got %d", trial, last, n)
			} else {
				last = n
			}
		}
	}
}

func TestQuestionAfterCloseStartsNoTask(t *testing.T) {
	var calls atomic.Int32
	s := newService(t, Options{
		Provider: answer.ProviderFunc(func(context.Context, string) (string, error) {
			calls.Add(1)
			return "late", nil
		}),
	})
	code := newRoom(t, s, 2)

	if _, err := s.StartGame(code, "p0"); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Close()

	if _, err := s.SubmitQuestion(code, "p0", "Anyone there?"); err != nil {
		t.Fatalf("question: %v", err)
	}
	s.Wait()

	if calls.Load() != 0 {
		t.Fatalf("expected no provider call after close, got %d", calls.Load())
	}
	if v := gameView(t, s, code); v.AnswersCount != 0 {
		t.Fatalf("expected no synthetic answer, got %d answers", v.AnswersCount)
	}
}

func TestCloseWhileQuestionsArrive(t *testing.T) {
	s := newService(t, Options{Provider: fixedProvider("hi")})

	var wg sync.WaitGroup
	for range 20 {
		code := newRoom(t, s, 2)
		if _, err := s.StartGame(code, "p0"); err != nil {
			t.Fatalf("start: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.SubmitQuestion(code, "p0", "Quick one?")
		}()
	}
	s.Close()
	wg.Wait()
	s.Wait()
}

func TestRunClosesIdleRooms(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	s := New(store.New(store.WithClock(clock)), broadcast.NewHub(8, nil), Options{Now: clock})
	t.Cleanup(s.Close)

	code := newRoom(t, s, 1)
	sub, _, err := s.Subscribe(code, "p0")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now = now.Add(time.Hour)
	go s.Run(ctx, 20*time.Millisecond)

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected idle room closed")
	}
	if names := eventNames(drain(sub)); !slices.Contains(names, EventRoomClosed) {
		t.Fatalf("expected %s event, got %v", EventRoomClosed, names)
	}
}

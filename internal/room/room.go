// Package room holds the game session aggregate and its turn, answer and
// voting state machine.
//
// A Room is not safe for concurrent use. Callers serialize transitions per
// room and publish the returned events after releasing their lock.
package room

import (
	"slices"
	"strings"
	"time"
)

// Status is the coarse lifecycle of a room.
type Status string

const (
	StatusLobby   Status = "lobby"
	StatusPlaying Status = "playing"
)

// Phase is the sub-state of a room that is playing.
type Phase string

const (
	PhaseAsking    Phase = "asking"
	PhaseAnswering Phase = "answering"
	PhaseVoting    Phase = "voting"
)

const (
	// SyntheticAuthor is the author id of the generated answer.
	SyntheticAuthor = "synthetic"

	// SyntheticName is shown as the author of the generated answer once a
	// round is closed.
	SyntheticName = "AI"

	// MinPlayers is the minimum number of players required to play.
	MinPlayers = 2

	// HumanVotePoints is awarded to a human author for each vote on their answer.
	HumanVotePoints = 1

	// SyntheticVotePoints is awarded to each voter who picked the synthetic answer.
	SyntheticVotePoints = 2
)

type Player struct {
	ID       string
	Name     string
	Points   int
	LastSeen time.Time
}

type Answer struct {
	AuthorID   string
	AuthorName string
	Text       string
	Votes      []string // voter ids
	Synthetic  bool
}

// RoundRecord is a closed round, kept for display only.
type RoundRecord struct {
	Question string
	Asker    string
	Answers  []Answer
}

type Room struct {
	Code    string
	OwnerID string
	Players []Player
	Status  Status
	Phase   Phase

	// Turn indexes Players and identifies the asker.
	Turn     int
	Question string
	Answers  []Answer
	History  []RoundRecord

	// Round increases every time a question is asked. Synthetic answers carry
	// the round they were requested for so late arrivals can be discarded.
	Round int

	CreatedAt  time.Time
	LastActive time.Time
}

// New creates a room in the lobby with its owner as the only player.
func New(code, ownerID, ownerName string, now time.Time) (*Room, error) {
	ownerName = strings.TrimSpace(ownerName)
	if ownerName == "" {
		return nil, ErrInvalidName
	}

	return &Room{
		Code:    code,
		OwnerID: ownerID,
		Players: []Player{{
			ID:       ownerID,
			Name:     ownerName,
			LastSeen: now,
		}},
		Status:     StatusLobby,
		Phase:      PhaseAsking,
		CreatedAt:  now,
		LastActive: now,
	}, nil
}

// Empty reports whether the last player has left.
func (r *Room) Empty() bool {
	return len(r.Players) == 0
}

// Asker returns the player whose turn it is, or nil for an empty room.
func (r *Room) Asker() *Player {
	if r.Turn < 0 || r.Turn >= len(r.Players) {
		return nil
	}
	return &r.Players[r.Turn]
}

// Player returns the player with the given id, or nil.
func (r *Room) Player(id string) *Player {
	if i := r.indexOf(id); i >= 0 {
		return &r.Players[i]
	}
	return nil
}

// Touch records activity from a player.
func (r *Room) Touch(id string, now time.Time) {
	if p := r.Player(id); p != nil {
		p.LastSeen = now
	}
	r.LastActive = now
}

// Voters returns the number of distinct players holding an active vote.
func (r *Room) Voters() int {
	n := 0
	for _, a := range r.Answers {
		n += len(a.Votes)
	}
	return n
}

// Clone returns a deep copy of the room.
func (r *Room) Clone() *Room {
	c := *r
	c.Players = slices.Clone(r.Players)
	c.Answers = cloneAnswers(r.Answers)
	c.History = slices.Clone(r.History)
	return &c
}

func (r *Room) indexOf(id string) int {
	return slices.IndexFunc(r.Players, func(p Player) bool {
		return p.ID == id
	})
}

func (r *Room) answerOf(authorID string) int {
	return slices.IndexFunc(r.Answers, func(a Answer) bool {
		return a.AuthorID == authorID
	})
}

func (r *Room) hasSynthetic() bool {
	return slices.ContainsFunc(r.Answers, func(a Answer) bool {
		return a.Synthetic
	})
}

func (r *Room) nameTaken(name string) bool {
	return slices.ContainsFunc(r.Players, func(p Player) bool {
		return p.Name == name
	})
}

func cloneAnswers(answers []Answer) []Answer {
	if answers == nil {
		return nil
	}
	out := make([]Answer, len(answers))
	for i, a := range answers {
		a.Votes = slices.Clone(a.Votes)
		out[i] = a
	}
	return out
}

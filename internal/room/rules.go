package room

import (
	"math/rand/v2"
	"slices"
	"strings"
	"time"
)

// Join adds a player to a room in the lobby. A player that is already a
// member rejoins without an event.
func (r *Room) Join(id, name string, now time.Time) ([]Event, error) {
	if r.indexOf(id) >= 0 {
		r.Touch(id, now)
		return nil, nil
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	if r.Status != StatusLobby {
		return nil, ErrRoomInProgress
	}
	if r.nameTaken(name) {
		return nil, ErrNameTaken
	}

	r.Players = append(r.Players, Player{
		ID:       id,
		Name:     name,
		LastSeen: now,
	})
	r.LastActive = now

	return []Event{{
		Type:       EventPlayerJoined,
		PlayerID:   id,
		PlayerName: name,
	}}, nil
}

// Leave removes a player for the given reason.
func (r *Room) Leave(id string, reason Reason) ([]Event, error) {
	i := r.indexOf(id)
	if i < 0 {
		return nil, ErrUserNotFound
	}
	return r.removeAt(i, reason), nil
}

// Kick removes target on behalf of the owner.
func (r *Room) Kick(requesterID, targetID string) ([]Event, error) {
	if requesterID != r.OwnerID {
		return nil, ErrNotOwner
	}
	i := r.indexOf(targetID)
	if i < 0 {
		return nil, ErrUserNotFound
	}
	return r.removeAt(i, ReasonKicked), nil
}

// removeAt deletes Players[i] and repairs the turn, owner and round state.
func (r *Room) removeAt(i int, reason Reason) []Event {
	gone := r.Players[i]
	askerLeft := i == r.Turn

	r.Players = slices.Delete(r.Players, i, i+1)

	events := []Event{{
		Type:       EventPlayerLeft,
		PlayerID:   gone.ID,
		PlayerName: gone.Name,
		Reason:     reason,
	}}

	if r.Empty() {
		r.Turn = 0
		return events
	}

	// The player after the removed one slides into index i, so only removals
	// before the turn shift it.
	if i < r.Turn {
		r.Turn--
	}
	if r.Turn >= len(r.Players) {
		r.Turn = 0
	}

	if gone.ID == r.OwnerID {
		r.OwnerID = r.Players[0].ID
	}

	if r.Status != StatusPlaying {
		return events
	}

	if len(r.Players) < MinPlayers {
		r.Status = StatusLobby
		r.Turn = 0
		r.clearRound()
		return events
	}

	switch {
	case askerLeft:
		r.clearRound()
	case r.Phase == PhaseAnswering:
		r.withdraw(gone.ID)
		events = append(events, r.completeAnswers()...)
	case r.Phase == PhaseVoting:
		r.withdraw(gone.ID)
	}

	return events
}

// Start moves the room from the lobby into the first asking phase.
func (r *Room) Start(requesterID string) ([]Event, error) {
	if requesterID != r.OwnerID {
		return nil, ErrNotOwner
	}
	if r.Status != StatusLobby {
		return nil, ErrRoomInProgress
	}
	if len(r.Players) < MinPlayers {
		return nil, ErrNotEnoughPlayers
	}

	r.Status = StatusPlaying
	r.Turn = 0
	r.clearRound()

	asker := r.Players[r.Turn]
	return []Event{{
		Type:       EventGameStarted,
		PlayerID:   asker.ID,
		PlayerName: asker.Name,
	}}, nil
}

// AskQuestion opens the answering phase. The caller is expected to request
// a synthetic answer for r.Round afterwards.
func (r *Room) AskQuestion(requesterID, text string) ([]Event, error) {
	if r.Status != StatusPlaying {
		return nil, ErrNotPlaying
	}
	asker := r.Asker()
	if r.Phase != PhaseAsking || asker == nil || asker.ID != requesterID {
		return nil, ErrNotYourTurn
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyQuestion
	}

	r.Question = text
	r.Answers = nil
	r.Phase = PhaseAnswering
	r.Round++

	return []Event{{
		Type:       EventQuestionReceived,
		PlayerID:   asker.ID,
		PlayerName: asker.Name,
		Expected:   len(r.Players),
	}}, nil
}

// SubmitAnswer records a human answer to the current question.
func (r *Room) SubmitAnswer(requesterID, text string) ([]Event, error) {
	if r.Status != StatusPlaying || r.Phase != PhaseAnswering {
		return nil, ErrNotAnsweringPhase
	}
	author := r.Player(requesterID)
	if author == nil {
		return nil, ErrUserNotFound
	}
	if r.Asker().ID == requesterID {
		return nil, ErrSelfAnswer
	}
	if r.answerOf(requesterID) >= 0 {
		return nil, ErrDuplicateAnswer
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyAnswer
	}

	return r.addAnswer(Answer{AuthorID: author.ID, AuthorName: author.Name, Text: text}), nil
}

// SubmitSyntheticAnswer fills the synthetic slot for round. It is a no-op
// when that round is over or the slot is already filled.
func (r *Room) SubmitSyntheticAnswer(round int, text string) ([]Event, error) {
	if r.Status != StatusPlaying || r.Phase != PhaseAnswering || r.Round != round || r.hasSynthetic() {
		return nil, nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyAnswer
	}

	return r.addAnswer(Answer{
		AuthorID:   SyntheticAuthor,
		AuthorName: SyntheticName,
		Text:       text,
		Synthetic:  true,
	}), nil
}

func (r *Room) addAnswer(a Answer) []Event {
	r.Answers = append(r.Answers, a)

	events := []Event{{
		Type:      EventAnswerSubmitted,
		PlayerID:  a.AuthorID,
		Submitted: len(r.Answers),
		Expected:  len(r.Players),
	}}
	return append(events, r.completeAnswers()...)
}

// completeAnswers opens voting once every slot is filled: one answer per
// player, with the asker's slot taken by the synthetic answer.
func (r *Room) completeAnswers() []Event {
	if r.Phase != PhaseAnswering || len(r.Answers) != len(r.Players) || !r.hasSynthetic() {
		return nil
	}

	rand.Shuffle(len(r.Answers), func(i, j int) {
		r.Answers[i], r.Answers[j] = r.Answers[j], r.Answers[i]
	})
	r.Phase = PhaseVoting

	return []Event{{
		Type:      EventVotingPhase,
		Submitted: len(r.Answers),
		Expected:  len(r.Players),
	}}
}

// CastVote moves the requester's single vote to targetAuthorID, or removes
// it when it was already there.
func (r *Room) CastVote(requesterID, targetAuthorID string) ([]Event, error) {
	if r.Status != StatusPlaying || r.Phase != PhaseVoting {
		return nil, ErrNotVotingPhase
	}
	if r.indexOf(requesterID) < 0 {
		return nil, ErrUserNotFound
	}
	if targetAuthorID == requesterID {
		return nil, ErrSelfVote
	}
	target := r.answerOf(targetAuthorID)
	if target < 0 {
		return nil, ErrAnswerNotFound
	}

	if prev := r.withdrawVote(requesterID); prev != targetAuthorID {
		r.Answers[target].Votes = append(r.Answers[target].Votes, requesterID)
	}

	return []Event{{
		Type:      EventVoteUpdated,
		PlayerID:  requesterID,
		Submitted: r.Voters(),
		Expected:  len(r.Players),
	}}, nil
}

// Advance scores the round, archives it and passes the turn on.
func (r *Room) Advance(requesterID string) ([]Event, error) {
	if r.Status != StatusPlaying {
		return nil, ErrNotPlaying
	}
	asker := r.Asker()
	if asker == nil || asker.ID != requesterID {
		return nil, ErrNotAsker
	}
	if r.Phase != PhaseVoting {
		return nil, ErrNotVotingPhase
	}

	r.score()

	r.History = append(r.History, RoundRecord{
		Question: r.Question,
		Asker:    asker.Name,
		Answers:  cloneAnswers(r.Answers),
	})

	r.clearRound()
	r.Turn = (r.Turn + 1) % len(r.Players)

	next := r.Players[r.Turn]
	return []Event{{
		Type:       EventNextTurnStarted,
		PlayerID:   next.ID,
		PlayerName: next.Name,
	}}, nil
}

func (r *Room) score() {
	for _, a := range r.Answers {
		if a.Synthetic {
			for _, voter := range a.Votes {
				if p := r.Player(voter); p != nil {
					p.Points += SyntheticVotePoints
				}
			}
			continue
		}
		if p := r.Player(a.AuthorID); p != nil {
			p.Points += HumanVotePoints * len(a.Votes)
		}
	}
}

// withdraw drops a departed player's answer and vote from the round.
func (r *Room) withdraw(id string) {
	r.withdrawVote(id)
	if i := r.answerOf(id); i >= 0 {
		r.Answers = slices.Delete(r.Answers, i, i+1)
	}
}

// withdrawVote removes every vote cast by voterID and returns the author of
// the answer it was on, or "".
func (r *Room) withdrawVote(voterID string) string {
	prev := ""
	for i := range r.Answers {
		votes := r.Answers[i].Votes
		if j := slices.Index(votes, voterID); j >= 0 {
			r.Answers[i].Votes = slices.Delete(votes, j, j+1)
			prev = r.Answers[i].AuthorID
		}
	}
	return prev
}

func (r *Room) clearRound() {
	r.Phase = PhaseAsking
	r.Question = ""
	r.Answers = nil
}

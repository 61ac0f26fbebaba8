package room

import "slices"

// ViewOptions controls what a projection discloses.
type ViewOptions struct {
	// AnonymousVotes hides voter identities, leaving only counts.
	AnonymousVotes bool
}

type PlayerView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// LobbyView exposes identity and roster only.
type LobbyView struct {
	Code    string       `json:"code"`
	OwnerID string       `json:"ownerId"`
	Players []PlayerView `json:"players"`
	Status  Status       `json:"status"`
}

type AnswerView struct {
	AuthorID   string   `json:"authorId"`
	AuthorName string   `json:"authorName,omitempty"`
	Text       string   `json:"text"`
	Votes      int      `json:"votes"`
	Voters     []string `json:"voters,omitempty"`
	Synthetic  bool     `json:"synthetic,omitempty"`
}

type RoundView struct {
	Question string       `json:"question"`
	Asker    string       `json:"askedBy"`
	Answers  []AnswerView `json:"answers"`
}

// GameView is the projection of a room that is playing.
type GameView struct {
	LobbyView

	Phase           Phase        `json:"phase"`
	Turn            int          `json:"currentTurn"`
	AskerID         string       `json:"askerId"`
	Question        string       `json:"currentQuestion,omitempty"`
	Answers         []AnswerView `json:"answers"`
	AnswersCount    int          `json:"answersCount"`
	AnswersExpected int          `json:"totalAnswersExpected"`
	VotedCount      int          `json:"votedCount"`
	VotesExpected   int          `json:"totalVotesExpected"`
	History         []RoundView  `json:"roundHistory"`
}

// View projects the room for subscribers: a LobbyView in the lobby and a
// GameView while playing.
func (r *Room) View(opts ViewOptions) any {
	if r.Status == StatusLobby {
		return r.LobbyView()
	}
	return r.GameView(opts)
}

func (r *Room) LobbyView() LobbyView {
	players := make([]PlayerView, 0, len(r.Players))
	for _, p := range r.Players {
		players = append(players, PlayerView{ID: p.ID, Name: p.Name, Points: p.Points})
	}
	return LobbyView{
		Code:    r.Code,
		OwnerID: r.OwnerID,
		Players: players,
		Status:  r.Status,
	}
}

// GameView hides answer text until voting opens, and never marks which
// pending answer is synthetic. Closed rounds are shown in full.
func (r *Room) GameView(opts ViewOptions) GameView {
	v := GameView{
		LobbyView:       r.LobbyView(),
		Phase:           r.Phase,
		Turn:            r.Turn,
		Question:        r.Question,
		Answers:         []AnswerView{},
		AnswersCount:    len(r.Answers),
		AnswersExpected: len(r.Players),
		VotedCount:      r.Voters(),
		VotesExpected:   len(r.Players),
		History:         make([]RoundView, 0, len(r.History)),
	}
	if asker := r.Asker(); asker != nil {
		v.AskerID = asker.ID
	}

	if r.Phase == PhaseVoting {
		for _, a := range r.Answers {
			av := AnswerView{
				AuthorID: a.AuthorID,
				Text:     a.Text,
				Votes:    len(a.Votes),
			}
			if !opts.AnonymousVotes {
				av.Voters = slices.Clone(a.Votes)
			}
			v.Answers = append(v.Answers, av)
		}
	}

	for _, round := range r.History {
		rv := RoundView{
			Question: round.Question,
			Asker:    round.Asker,
			Answers:  make([]AnswerView, 0, len(round.Answers)),
		}
		for _, a := range round.Answers {
			av := AnswerView{
				AuthorID:   a.AuthorID,
				AuthorName: a.AuthorName,
				Text:       a.Text,
				Votes:      len(a.Votes),
				Synthetic:  a.Synthetic,
			}
			if !opts.AnonymousVotes {
				av.Voters = slices.Clone(a.Votes)
			}
			rv.Answers = append(rv.Answers, av)
		}
		v.History = append(v.History, rv)
	}

	return v
}

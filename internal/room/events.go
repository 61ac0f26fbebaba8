package room

// EventType names a change pushed to every subscriber of a room.
type EventType string

const (
	EventPlayerJoined     EventType = "playerJoined"
	EventPlayerLeft       EventType = "playerLeft"
	EventGameStarted      EventType = "gameStarted"
	EventQuestionReceived EventType = "questionReceived"
	EventAnswerSubmitted  EventType = "answerSubmitted"
	EventVotingPhase      EventType = "votingPhase"
	EventVoteUpdated      EventType = "voteUpdated"
	EventNextTurnStarted  EventType = "nextTurnStarted"
)

// Reason explains why a player left a room.
type Reason string

const (
	ReasonLeft    Reason = "left"
	ReasonKicked  Reason = "kicked"
	ReasonTimeout Reason = "timeout"
)

// Event is emitted by a successful transition. The subject fields that do
// not apply to a given type are left zero.
type Event struct {
	Type       EventType
	PlayerID   string
	PlayerName string
	Reason     Reason

	// Submitted and Expected count answers for AnswerSubmitted, and voters
	// for VoteUpdated.
	Submitted int
	Expected  int
}

package room

import "errors"

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Room lifecycle
	CodeInvalidName        Code = "INVALID_NAME"
	CodeRoomNotFound       Code = "ROOM_NOT_FOUND"
	CodeRoomInProgress     Code = "ROOM_IN_PROGRESS"
	CodeNameTaken          Code = "NAME_TAKEN"
	CodeNotOwner           Code = "NOT_OWNER"
	CodeUserNotFound       Code = "USER_NOT_FOUND"
	CodeNotEnoughPlayers   Code = "NOT_ENOUGH_PLAYERS"
	CodeCodeSpaceExhausted Code = "CODE_SPACE_EXHAUSTED"

	// Turn and phase
	CodeNotPlaying        Code = "NOT_PLAYING"
	CodeNotYourTurn       Code = "NOT_YOUR_TURN"
	CodeEmptyQuestion     Code = "EMPTY_QUESTION"
	CodeNotAnsweringPhase Code = "NOT_ANSWERING_PHASE"
	CodeSelfAnswer        Code = "SELF_ANSWER"
	CodeDuplicateAnswer   Code = "DUPLICATE_ANSWER"
	CodeEmptyAnswer       Code = "EMPTY_ANSWER"
	CodeNotVotingPhase    Code = "NOT_VOTING_PHASE"
	CodeSelfVote          Code = "SELF_VOTE"
	CodeAnswerNotFound    Code = "ANSWER_NOT_FOUND"
	CodeNotAsker          Code = "NOT_ASKER"

	CodeInternal Code = "INTERNAL"
)

// Error is a named domain failure returned to the caller.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrInvalidName        = &Error{CodeInvalidName, "a name is required"}
	ErrRoomNotFound       = &Error{CodeRoomNotFound, "room not found"}
	ErrRoomInProgress     = &Error{CodeRoomInProgress, "game already in progress"}
	ErrNameTaken          = &Error{CodeNameTaken, "that name is already taken in this room"}
	ErrNotOwner           = &Error{CodeNotOwner, "only the room owner can do that"}
	ErrUserNotFound       = &Error{CodeUserNotFound, "player not in room"}
	ErrNotEnoughPlayers   = &Error{CodeNotEnoughPlayers, "need at least 2 players to start"}
	ErrCodeSpaceExhausted = &Error{CodeCodeSpaceExhausted, "unable to allocate a room code"}

	ErrNotPlaying        = &Error{CodeNotPlaying, "the game has not started"}
	ErrNotYourTurn       = &Error{CodeNotYourTurn, "it is not your turn to ask"}
	ErrEmptyQuestion     = &Error{CodeEmptyQuestion, "a question is required"}
	ErrNotAnsweringPhase = &Error{CodeNotAnsweringPhase, "answers are not being collected"}
	ErrSelfAnswer        = &Error{CodeSelfAnswer, "you cannot answer your own question"}
	ErrDuplicateAnswer   = &Error{CodeDuplicateAnswer, "you already submitted an answer"}
	ErrEmptyAnswer       = &Error{CodeEmptyAnswer, "an answer is required"}
	ErrNotVotingPhase    = &Error{CodeNotVotingPhase, "not in voting phase"}
	ErrSelfVote          = &Error{CodeSelfVote, "you cannot vote for your own answer"}
	ErrAnswerNotFound    = &Error{CodeAnswerNotFound, "answer not found"}
	ErrNotAsker          = &Error{CodeNotAsker, "only the question asker can start the next turn"}

	// ErrInternal is returned when a transition faults unexpectedly. The room
	// is left in its pre-transition state.
	ErrInternal = &Error{CodeInternal, "internal error"}
)

// CodeOf returns the code carried by err, or CodeUnknown when err is not a
// domain error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

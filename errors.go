/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/Seednode/botornot/internal/room"
)

func logf(cfg *Config, format string, args ...any) {
	if !cfg.verbose {
		return
	}

	log.Printf("%s | "+format, append([]any{time.Now().Format(logDate)}, args...)...)
}

// logger adapts logf for the internal packages.
func logger(cfg *Config) func(format string, args ...any) {
	return func(format string, args ...any) {
		logf(cfg, format, args...)
	}
}

func newPage(title, body string) string {
	var htmlBody strings.Builder

	htmlBody.WriteString(`<!DOCTYPE html><html lang="en"><head>`)
	htmlBody.WriteString(`<style>`)
	htmlBody.WriteString(`html,body,a{display:block;height:100%;width:100%;text-decoration:none;color:inherit;cursor:auto;}</style>`)
	htmlBody.WriteString(fmt.Sprintf("<title>%s</title></head>", title))
	htmlBody.WriteString(fmt.Sprintf("<body><a href=\"/\">%s</a></body></html>", body))

	return htmlBody.String()
}

const codeBadRequest room.Code = "BAD_REQUEST"

var errBadRequest = &room.Error{Code: codeBadRequest, Message: "malformed request body"}

type errorBody struct {
	Error   room.Code `json:"error"`
	Message string    `json:"message"`
}

func newErrorBody(err error) errorBody {
	var re *room.Error
	if errors.As(err, &re) && re.Code != room.CodeInternal {
		return errorBody{Error: re.Code, Message: re.Message}
	}
	return errorBody{Error: room.CodeInternal, Message: room.ErrInternal.Message}
}

func statusOf(err error) int {
	switch room.CodeOf(err) {
	case room.CodeRoomNotFound, room.CodeUserNotFound, room.CodeAnswerNotFound:
		return http.StatusNotFound
	case room.CodeNotOwner, room.CodeNotAsker, room.CodeNotYourTurn:
		return http.StatusForbidden
	case room.CodeRoomInProgress, room.CodeNameTaken, room.CodeNotPlaying,
		room.CodeNotAnsweringPhase, room.CodeNotVotingPhase, room.CodeDuplicateAnswer,
		room.CodeNotEnoughPlayers:
		return http.StatusConflict
	case codeBadRequest, room.CodeInvalidName, room.CodeEmptyQuestion, room.CodeEmptyAnswer,
		room.CodeSelfAnswer, room.CodeSelfVote:
		return http.StatusBadRequest
	case room.CodeCodeSpaceExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(v)
}

func writeError(cfg *Config, w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logf(cfg, "ERROR: %s %s from %s: %v", r.Method, r.URL.Path, realIP(r), err)
	}

	securityHeaders(cfg, w)
	_ = writeJSON(w, status, newErrorBody(err))
}

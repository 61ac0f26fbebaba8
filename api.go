/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/botornot/internal/game"
)

const (
	playerCookieName = "botornot_id"

	maxBodySize = 4 << 10
)

// getOrSetPlayerID returns the caller's player id, issuing a new one in a
// cookie on first contact.
func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int((30 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// actionRequest is the body of every room action. Fields not used by an
// action are ignored.
type actionRequest struct {
	Name     string `json:"name,omitempty"`
	Text     string `json:"text,omitempty"`
	TargetID string `json:"targetId,omitempty"`
}

type actionResponse struct {
	Code   string `json:"code"`
	UserID string `json:"userId"`
	Room   any    `json:"room"`
}

type action func(svc *game.Service, code, userID string, req actionRequest) (game.Result, error)

// actions maps action names to service calls. The websocket client sends
// the same names as message types.
var actions = map[string]action{
	"join": func(svc *game.Service, code, userID string, req actionRequest) (game.Result, error) {
		return svc.JoinRoom(code, userID, req.Name)
	},
	"leave": func(svc *game.Service, code, userID string, _ actionRequest) (game.Result, error) {
		return svc.LeaveRoom(code, userID)
	},
	"kick": func(svc *game.Service, code, userID string, req actionRequest) (game.Result, error) {
		return svc.Kick(code, userID, req.TargetID)
	},
	"start": func(svc *game.Service, code, userID string, _ actionRequest) (game.Result, error) {
		return svc.StartGame(code, userID)
	},
	"question": func(svc *game.Service, code, userID string, req actionRequest) (game.Result, error) {
		return svc.SubmitQuestion(code, userID, req.Text)
	},
	"answer": func(svc *game.Service, code, userID string, req actionRequest) (game.Result, error) {
		return svc.SubmitAnswer(code, userID, req.Text)
	},
	"vote": func(svc *game.Service, code, userID string, req actionRequest) (game.Result, error) {
		return svc.CastVote(code, userID, req.TargetID)
	},
	"advance": func(svc *game.Service, code, userID string, _ actionRequest) (game.Result, error) {
		return svc.AdvanceTurn(code, userID)
	},
}

func decodeAction(r *http.Request) (actionRequest, error) {
	var req actionRequest

	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req)
	switch {
	case errors.Is(err, io.EOF):
		return req, nil
	case err != nil:
		return req, errBadRequest
	}
	return req, nil
}

func serveCreateRoom(cfg *Config, svc *game.Service) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		userID := getOrSetPlayerID(w, r)

		req, err := decodeAction(r)
		if err != nil {
			writeError(cfg, w, r, err)

			return
		}

		res, err := svc.CreateRoom(userID, req.Name)
		if err != nil {
			writeError(cfg, w, r, err)

			return
		}

		logf(cfg, "SERVE: Created room %s for %s", res.Code, realIP(r))

		securityHeaders(cfg, w)
		_ = writeJSON(w, http.StatusCreated, actionResponse{Code: res.Code, UserID: userID, Room: res.View})
	}
}

func serveAction(cfg *Config, svc *game.Service, name string) httprouter.Handle {
	do := actions[name]

	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		userID := getOrSetPlayerID(w, r)

		req, err := decodeAction(r)
		if err != nil {
			writeError(cfg, w, r, err)

			return
		}

		res, err := do(svc, p.ByName("code"), userID, req)
		if err != nil {
			writeError(cfg, w, r, err)

			return
		}

		securityHeaders(cfg, w)
		_ = writeJSON(w, http.StatusOK, actionResponse{Code: res.Code, UserID: userID, Room: res.View})

		logf(cfg, "SERVE: %s in %s by %s in %s",
			name,
			res.Code,
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func serveRoom(cfg *Config, svc *game.Service) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		userID := getOrSetPlayerID(w, r)

		res, err := svc.View(p.ByName("code"))
		if err != nil {
			writeError(cfg, w, r, err)

			return
		}

		securityHeaders(cfg, w)
		_ = writeJSON(w, http.StatusOK, actionResponse{Code: res.Code, UserID: userID, Room: res.View})
	}
}

// registerAPI sets up routes so that:
//   - /api/rooms                → create a room
//   - /api/rooms/:code          → current view of a room
//   - /api/rooms/:code/:action  → join, leave, kick, start, question, answer, vote, advance
//   - /api/rooms/:code/ws       → websocket stream and actions
//   - /api/rooms/:code/events   → server-sent event stream
//   - /api/rooms/:code/qr       → PNG QR code of the share link
func registerAPI(cfg *Config, svc *game.Service, mux *httprouter.Router) {
	base := cfg.prefix + "/api/rooms"

	mux.POST(base, serveCreateRoom(cfg, svc))
	mux.GET(base+"/:code", serveRoom(cfg, svc))

	for name := range actions {
		mux.POST(base+"/:code/"+name, serveAction(cfg, svc, name))
	}

	mux.GET(base+"/:code/ws", serveWebSocket(cfg, svc))
	mux.GET(base+"/:code/events", serveEvents(cfg, svc))
	mux.GET(base+"/:code/qr", serveQR(cfg))
}

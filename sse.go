package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/botornot/internal/broadcast"
	"github.com/Seednode/botornot/internal/game"
)

const keepAlive = 30 * time.Second

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, msg broadcast.Message) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, msg.Data); err != nil {
		return err
	}
	return rc.Flush()
}

// serveEvents streams the same events as the websocket, for clients that
// only need to listen.
func serveEvents(cfg *Config, svc *game.Service) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		userID := getOrSetPlayerID(w, r)

		sub, initial, err := svc.Subscribe(p.ByName("code"), userID)
		if err != nil {
			writeError(cfg, w, r, err)

			return
		}
		defer svc.Unsubscribe(sub)

		rc := http.NewResponseController(w)
		// The stream outlives the server write timeout.
		_ = rc.SetWriteDeadline(time.Time{})

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusOK)

		msg, err := broadcast.NewMessage(eventRoom, initial.View)
		if err != nil {
			return
		}
		if err := writeEvent(w, rc, msg); err != nil {
			return
		}

		logf(cfg, "SERVE: Event stream for %s in %s from %s", userID, sub.Code, realIP(r))

		ticker := time.NewTicker(keepAlive)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case msg := <-sub.C():
				if err := writeEvent(w, rc, msg); err != nil {
					return
				}
			case <-sub.Done():
				for {
					select {
					case msg := <-sub.C():
						if err := writeEvent(w, rc, msg); err != nil {
							return
						}
					default:
						return
					}
				}
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				if err := rc.Flush(); err != nil {
					return
				}
			}
		}
	}
}

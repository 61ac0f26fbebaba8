/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/Seednode/botornot/internal/broadcast"
	"github.com/Seednode/botornot/internal/game"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 << 10

	// eventRoom carries the full view a client renders on connect.
	eventRoom = "room"

	// eventError answers a failed action from the same connection.
	eventError = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ClientMessage is an action sent over the websocket. Type is one of the
// action names served under /api/rooms/:code/.
type ClientMessage struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	TargetID string `json:"targetId,omitempty"`
}

// Client is one websocket connection of a player.
type Client struct {
	conn   *websocket.Conn
	sub    *broadcast.Subscription
	userID string

	// replies carries messages meant only for this connection.
	replies chan broadcast.Message
}

func serveWebSocket(cfg *Config, svc *game.Service) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		userID := getOrSetPlayerID(w, r)

		sub, initial, err := svc.Subscribe(p.ByName("code"), userID)
		if err != nil {
			writeError(cfg, w, r, err)

			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			svc.Unsubscribe(sub)
			logf(cfg, "ERROR: Websocket upgrade for %s: %v", realIP(r), err)

			return
		}

		logf(cfg, "SERVE: Websocket for %s in %s from %s", userID, sub.Code, realIP(r))

		client := &Client{
			conn:    conn,
			sub:     sub,
			userID:  userID,
			replies: make(chan broadcast.Message, broadcast.DefaultBuffer),
		}

		// Written before the pump starts so it always comes first.
		if msg, err := broadcast.NewMessage(eventRoom, initial.View); err == nil {
			if err := client.write(msg); err != nil {
				svc.Unsubscribe(sub)
				_ = conn.Close()

				return
			}
		}

		go client.writePump()
		client.readPump(cfg, svc)
	}
}

func (c *Client) readPump(cfg *Config, svc *game.Service) {
	defer func() {
		svc.Unsubscribe(c.sub)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		do, ok := actions[msg.Type]
		if !ok || msg.Type == "join" {
			// ignore unknown types; joining needs the http endpoint
			continue
		}

		_, err := do(svc, c.sub.Code, c.userID, actionRequest{Text: msg.Text, TargetID: msg.TargetID})
		if err != nil {
			if statusOf(err) == http.StatusInternalServerError {
				logf(cfg, "ERROR: %s in %s by %s: %v", msg.Type, c.sub.Code, c.userID, err)
			}
			c.reply(eventError, newErrorBody(err))
		}
		if msg.Type == "leave" {
			return
		}
	}
}

func (c *Client) reply(event string, payload any) {
	msg, err := broadcast.NewMessage(event, payload)
	if err != nil {
		return
	}

	select {
	case c.replies <- msg:
	default:
	}
}

// writePump is the only writer to the connection. It stops once the
// subscription is closed, after flushing what was already queued.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.replies:
			if err := c.write(msg); err != nil {
				return
			}
		case msg := <-c.sub.C():
			if err := c.write(msg); err != nil {
				return
			}
		case <-c.sub.Done():
			for {
				select {
				case msg := <-c.sub.C():
					if err := c.write(msg); err != nil {
						return
					}
				default:
					_ = c.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(writeWait))
					return
				}
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(msg broadcast.Message) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

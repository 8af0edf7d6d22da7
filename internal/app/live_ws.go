// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/balance_recorder/internal/balance"
	"github.com/relabs-tech/balance_recorder/internal/motion"
)

const defaultLivePush = 200 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is sent from the client: "start", "stop", "clear" or "analyze".
type WSMessage struct {
	Action string `json:"action"`
}

// WSResponse is pushed to the client.
type WSResponse struct {
	Type    string          `json:"type"` // live, state, result, error
	Sample  *motion.Sample  `json:"sample,omitempty"`
	State   string          `json:"state,omitempty"`
	Samples int             `json:"samples"`
	Result  *balance.Result `json:"result,omitempty"`
	Message string          `json:"message,omitempty"`
}

// liveSocket pushes the latest sample and session state on a fixed period
// and accepts session actions from the client.
type liveSocket struct {
	rec      *Recorder
	interval time.Duration
}

func (s *liveSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("live: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	out := make(chan WSResponse, 8)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for {
			var msg WSMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("live: websocket read error: %v", err)
				}
				return
			}
			resp := s.handle(msg)
			select {
			case out <- resp:
			default:
				log.Printf("live: dropping %s response, client too slow", resp.Type)
			}
		}
	}()

	interval := s.interval
	if interval <= 0 {
		interval = defaultLivePush
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		var resp WSResponse
		select {
		case <-done:
			return
		case resp = <-out:
		case <-ticker.C:
			sample := s.rec.Live()
			st := s.rec.Status()
			resp = WSResponse{Type: "live", Sample: &sample, State: st.State, Samples: st.Samples}
		}
		if err := conn.WriteJSON(resp); err != nil {
			log.Printf("live: websocket write error: %v", err)
			return
		}
	}
}

func (s *liveSocket) handle(msg WSMessage) WSResponse {
	var err error
	switch msg.Action {
	case "start":
		err = s.rec.StartSession(s.rec.baseContext())
	case "stop":
		err = s.rec.StopSession()
	case "clear":
		err = s.rec.ClearSession()
	case "analyze":
		res := s.rec.Analyze(s.rec.baseContext())
		return WSResponse{Type: "result", Result: &res, State: s.rec.Status().State, Samples: res.Features.Samples}
	default:
		return WSResponse{Type: "error", Message: "unknown action " + msg.Action}
	}
	st := s.rec.Status()
	if err != nil {
		return WSResponse{Type: "error", Message: err.Error(), State: st.State, Samples: st.Samples}
	}
	return WSResponse{Type: "state", State: st.State, Samples: st.Samples}
}

package bybit

import (
	"context"
	"time"

	"liqwatch/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

const (
	defaultKeepAlive = 20 * time.Second
	readTimeout      = 35 * time.Second
)

// public linear streams accept at most ten topics per request
const maxTopicsPerRequest = 10

type subscriptionAck struct {
	Op      string `json:"op"`
	Success bool   `json:"success"`
	RetMsg  string `json:"ret_msg"`
}

func subscribe(conn *websocket.Conn, topics []string) error {
	for _, chunk := range lo.Chunk(topics, maxTopicsPerRequest) {
		req := struct {
			Op    string   `json:"op"`
			Args  []string `json:"args"`
			ReqID string   `json:"req_id"`
		}{
			Op:    "subscribe",
			Args:  chunk,
			ReqID: uuid.NewString(),
		}
		if err := conn.WriteJSON(req); err != nil {
			return err
		}
	}
	return nil
}

// startPingLoop sends control pings until ctx ends or a write fails, in
// which case cancel is called so the session tears down.
func startPingLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, interval time.Duration, log *logger.Entry) {
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					log.WithError(err).Warn("failed to send websocket ping")
					cancel()
					return
				}
			}
		}
	}()
}

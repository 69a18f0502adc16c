package main

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/life-stream-dev/stomp-engine/internal/broker"
	"github.com/life-stream-dev/stomp-engine/internal/frame"
	"github.com/life-stream-dev/stomp-engine/internal/logger"
	"github.com/life-stream-dev/stomp-engine/internal/server"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// STOMP-over-WebSocket clients are almost always served from a
	// different origin than the daemon; the protocol frame itself
	// carries the "host" header STOMP already authenticates against.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsHost adapts one WebSocket connection to hostapi.ServerHost, same
// wiring as stomp-tcpd's connHost but writing STOMP bytes as discrete
// WebSocket text messages instead of a raw TCP stream.
type wsHost struct {
	conn     *websocket.Conn
	registry *broker.Registry
	metrics  *daemonMetrics

	engine  *server.Engine
	session *broker.Session
}

func (h *wsHost) setEngine(e *server.Engine) { h.engine = e }

func (h *wsHost) SendBytes(data []byte) {
	if err := h.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logger.WarnF("write to %s failed: %v", h.conn.RemoteAddr(), err)
	}
}

func (h *wsHost) OnConnect(f *frame.Frame, login, passcode, host, sessionID string) (bool, string) {
	h.session = broker.NewSession(sessionID, h.engine)
	h.registry.Add(h.session)
	h.metrics.connectedSessions.Inc()
	logger.InfoF("%s connected as session %s", h.conn.RemoteAddr(), sessionID)
	return true, ""
}

func (h *wsHost) OnMessage(f *frame.Frame, destination string, body []byte, contentType string) {
	origin := ""
	if h.session != nil {
		origin = h.session.ID
	}
	delivered := h.registry.Publish(origin, destination, contentType, body)
	h.metrics.framesDelivered.Add(float64(delivered))
}

func (h *wsHost) OnSubscribe(f *frame.Frame, id, destination, ack string) {
	if h.session != nil {
		h.session.AddSub(id, destination)
	}
	h.metrics.subscribeTotal.Inc()
}

func (h *wsHost) OnUnsubscribe(f *frame.Frame, id, destination string) {
	if h.session != nil {
		h.session.RemoveSub(destination)
	}
	h.metrics.unsubscribeTotal.Inc()
}

func (h *wsHost) OnAck(f *frame.Frame, id string) {
	logger.DebugF("session %s acked %s", h.sessionID(), id)
}

func (h *wsHost) OnNack(f *frame.Frame, id string) {
	logger.DebugF("session %s nacked %s", h.sessionID(), id)
}

func (h *wsHost) OnError(f *frame.Frame, err error) {
	logger.WarnF("session %s protocol error: %v", h.sessionID(), err)
}

func (h *wsHost) OnDisconnect(f *frame.Frame, reason string) {
	logger.InfoF("session %s disconnected: %s", h.sessionID(), reason)
}

func (h *wsHost) sessionID() string {
	if h.session == nil {
		return "(unconnected)"
	}
	return h.session.ID
}

// serveWS upgrades r and drives the resulting connection until it
// closes, mirroring stomp-tcpd's serve loop one frame-read at a time.
func serveWS(w http.ResponseWriter, r *http.Request, registry *broker.Registry, metrics *daemonMetrics, cfg engineConfig) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnF("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	host := &wsHost{conn: conn, registry: registry, metrics: metrics}
	engine := server.New(host, cfg.scheduler, cfg.serverConfig)
	host.setEngine(engine)

	for {
		deadline := time.Time{} // a negative read timeout means no deadline
		if cfg.readTimeout >= 0 {
			deadline = time.Now().Add(cfg.readTimeout)
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			break
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				logger.WarnF("read error: %v", err)
			}
			break
		}
		engine.Feed(msg)
	}

	metrics.framesIn.Add(float64(engine.Stats().FramesIn))
	if host.session != nil {
		registry.Remove(host.session.ID)
		metrics.connectedSessions.Dec()
	}
	engine.Disconnect()
}

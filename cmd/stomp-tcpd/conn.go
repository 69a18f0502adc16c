package main

import (
	"net"
	"time"

	"github.com/life-stream-dev/stomp-engine/internal/broker"
	"github.com/life-stream-dev/stomp-engine/internal/frame"
	"github.com/life-stream-dev/stomp-engine/internal/logger"
	"github.com/life-stream-dev/stomp-engine/internal/server"
)

// connHost adapts one TCP connection to hostapi.ServerHost. It is
// constructed before the engine that will drive it, then wired to
// that engine via setEngine, so OnConnect can hand the newly minted
// session id back to the broker registry.
type connHost struct {
	conn     net.Conn
	registry *broker.Registry
	metrics  *daemonMetrics

	engine  *server.Engine
	session *broker.Session
}

func (h *connHost) setEngine(e *server.Engine) { h.engine = e }

func (h *connHost) SendBytes(data []byte) {
	if _, err := h.conn.Write(data); err != nil {
		logger.WarnF("write to %s failed: %v", h.conn.RemoteAddr(), err)
	}
}

func (h *connHost) OnConnect(f *frame.Frame, login, passcode, host, sessionID string) (bool, string) {
	h.session = broker.NewSession(sessionID, h.engine)
	h.registry.Add(h.session)
	h.metrics.connectedSessions.Inc()
	logger.InfoF("%s connected as session %s", h.conn.RemoteAddr(), sessionID)
	return true, ""
}

func (h *connHost) OnMessage(f *frame.Frame, destination string, body []byte, contentType string) {
	origin := ""
	if h.session != nil {
		origin = h.session.ID
	}
	delivered := h.registry.Publish(origin, destination, contentType, body)
	h.metrics.framesDelivered.Add(float64(delivered))
}

func (h *connHost) OnSubscribe(f *frame.Frame, id, destination, ack string) {
	if h.session != nil {
		h.session.AddSub(id, destination)
	}
	h.metrics.subscribeTotal.Inc()
}

func (h *connHost) OnUnsubscribe(f *frame.Frame, id, destination string) {
	if h.session != nil {
		h.session.RemoveSub(destination)
	}
	h.metrics.unsubscribeTotal.Inc()
}

func (h *connHost) OnAck(f *frame.Frame, id string) {
	logger.DebugF("session %s acked %s", h.sessionID(), id)
}

func (h *connHost) OnNack(f *frame.Frame, id string) {
	logger.DebugF("session %s nacked %s", h.sessionID(), id)
}

func (h *connHost) OnError(f *frame.Frame, err error) {
	logger.WarnF("session %s protocol error: %v", h.sessionID(), err)
}

func (h *connHost) OnDisconnect(f *frame.Frame, reason string) {
	logger.InfoF("session %s disconnected: %s", h.sessionID(), reason)
}

func (h *connHost) sessionID() string {
	if h.session == nil {
		return "(unconnected)"
	}
	return h.session.ID
}

// serve drives one accepted connection until it closes, then unwinds
// the broker registration and connection metrics.
func serve(conn net.Conn, registry *broker.Registry, metrics *daemonMetrics, cfg engineConfig) {
	defer conn.Close()

	host := &connHost{conn: conn, registry: registry, metrics: metrics}
	engine := server.New(host, cfg.scheduler, cfg.serverConfig)
	host.setEngine(engine)

	buf := make([]byte, 4096)
	for {
		deadline := time.Time{} // a negative read timeout means no deadline
		if cfg.readTimeout >= 0 {
			deadline = time.Now().Add(cfg.readTimeout)
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			break
		}
		n, err := conn.Read(buf)
		if n > 0 {
			engine.Feed(buf[:n])
		}
		if err != nil {
			break
		}
	}

	metrics.framesIn.Add(float64(engine.Stats().FramesIn))
	if host.session != nil {
		registry.Remove(host.session.ID)
		metrics.connectedSessions.Dec()
	}
	engine.Disconnect()
}

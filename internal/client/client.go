// Package client implements the client-side STOMP state machine:
// connect, subscribe, ack, transactions and receipts, driven by an
// embedder that supplies raw bytes in both directions.
package client

import (
	"strconv"

	"github.com/life-stream-dev/stomp-engine/internal/frame"
	"github.com/life-stream-dev/stomp-engine/internal/heartbeat"
	"github.com/life-stream-dev/stomp-engine/internal/hostapi"
	"github.com/life-stream-dev/stomp-engine/internal/jsoncodec"
	"github.com/life-stream-dev/stomp-engine/internal/scheduler"
	"github.com/life-stream-dev/stomp-engine/internal/stomperr"
	"github.com/life-stream-dev/stomp-engine/internal/stompparser"
)

// Subscription is the client-side bookkeeping record for one
// destination, per spec.md §3.
type Subscription struct {
	ID  string
	Ack string
}

// Stats is a read-only snapshot of an engine's traffic counters.
type Stats struct {
	FramesIn  int
	FramesOut int
	BytesIn   int
	BytesOut  int
	Connected bool
}

// Config holds the embedder-facing options spec.md §6 enumerates for
// the client side.
type Config struct {
	// Host is the virtual host placed in CONNECT. Defaults to "stomp".
	Host string
	// Receipt, when true, attaches a receipt header to every non-
	// CONNECT outbound frame even if the call site didn't ask for one.
	Receipt bool
	// AutoJSON decodes inbound MESSAGE bodies whose content-type is
	// application/json and passes the result to OnMessage. Outbound
	// bodies are sent exactly as given; they are never JSON-encoded.
	AutoJSON bool
	// MinSendIntervalMs is the local floor applied when negotiating the
	// heartbeat rate the server proposes.
	MinSendIntervalMs int
	// Codec is the JSON codec used when AutoJSON is set. Defaults to
	// jsoncodec.Default{}.
	Codec jsoncodec.Codec
}

// Engine is the client-side STOMP state machine. It is not safe for
// concurrent entry; an embedder must serialize calls to it the same
// way it would serialize access to a single socket.
type Engine struct {
	host      hostapi.ClientHost
	scheduler scheduler.Scheduler
	cfg       Config
	parser    *stompparser.Parser

	connected  bool
	version    frame.Version
	sessionID  string
	serverName string
	hb         *heartbeat.Heartbeat

	subs         map[string]Subscription
	ackToMessage map[string]string
	openTx       map[string]struct{}
	receipted    map[string]*frame.Frame

	nextSubscribeID int
	nextAckID       int
	nextTxID        int
	nextReceiptID   int

	stats Stats
}

// New constructs a client engine bound to host and sched. cfg's zero
// value is a usable default (host "stomp", no receipts, no auto-JSON).
func New(host hostapi.ClientHost, sched scheduler.Scheduler, cfg Config) *Engine {
	if cfg.Host == "" {
		cfg.Host = "stomp"
	}
	if cfg.Codec == nil {
		cfg.Codec = jsoncodec.Default{}
	}
	return &Engine{
		host:            host,
		scheduler:       sched,
		cfg:             cfg,
		parser:          stompparser.New(),
		subs:            make(map[string]Subscription),
		ackToMessage:    make(map[string]string),
		openTx:          make(map[string]struct{}),
		receipted:       make(map[string]*frame.Frame),
		nextSubscribeID: 1,
		nextAckID:       1,
		nextTxID:        1,
		nextReceiptID:   1,
	}
}

// Stats returns a snapshot of the engine's traffic counters.
func (e *Engine) Stats() Stats {
	s := e.stats
	s.Connected = e.connected
	return s
}

// Connected reports whether CONNECTED has been received and
// Disconnect hasn't been called since.
func (e *Engine) Connected() bool { return e.connected }

// ----- outbound operations -----

// Connect emits CONNECT. heartbeatMs is the raw "<cx>,<cy>" value to
// request, or "" to omit the heart-beat header entirely.
func (e *Engine) Connect(heartbeatMs, login, passcode string, extra map[string]string) error {
	if e.connected {
		return stomperr.NewProtocolError("Already connected", nil, nil)
	}
	f := frame.New("CONNECT")
	applyExtra(f, extra)
	f.Set("accept-version", "1.0,1.1,1.2")
	f.Set("host", e.cfg.Host)
	if heartbeatMs != "" {
		f.Set("heart-beat", heartbeatMs)
	}
	if login != "" {
		f.Set("login", login)
	}
	if passcode != "" {
		f.Set("passcode", passcode)
	}
	e.sendFrame(f)
	return nil
}

// Message emits SEND. If a receipt is requested (explicitly or via
// Config.Receipt) the allocated receipt id is returned.
func (e *Engine) Message(destination string, body []byte, contentType string, receipt bool, transactionID string, extra map[string]string) (string, error) {
	if err := e.requireConnected(); err != nil {
		return "", err
	}
	f := frame.New("SEND")
	applyExtra(f, extra)
	f.Set("destination", destination)
	if contentType != "" {
		f.Set(frame.HdrContentType, contentType)
	}
	if transactionID != "" {
		f.Set("transaction", transactionID)
	}
	f.Body = body
	receiptID := e.allocateReceipt(f, receipt)
	e.sendFrame(f)
	return receiptID, nil
}

// Subscribe emits SUBSCRIBE, allocating a monotonic subscribe id.
func (e *Engine) Subscribe(destination, ack string, receipt bool, extra map[string]string) (id, receiptID string, err error) {
	if err = e.requireConnected(); err != nil {
		return "", "", err
	}
	if ack == "" {
		ack = "auto"
	}
	if ack != "auto" && ack != "client" && ack != "client-individual" {
		return "", "", stomperr.NewProtocolError("Invalid ack header: "+ack, nil, nil)
	}
	if _, exists := e.subs[destination]; exists {
		return "", "", stomperr.NewApplicationError("Already subscribed to "+destination, nil)
	}

	id = e.allocID(&e.nextSubscribeID)
	f := frame.New("SUBSCRIBE")
	applyExtra(f, extra)
	f.Set("destination", destination)
	f.Set("id", id)
	f.Set("ack", ack)
	receiptID = e.allocateReceipt(f, receipt)

	e.subs[destination] = Subscription{ID: id, Ack: ack}
	e.sendFrame(f)
	return id, receiptID, nil
}

// Unsubscribe emits UNSUBSCRIBE for a previously subscribed destination.
func (e *Engine) Unsubscribe(destination string, receipt bool, extra map[string]string) (receiptID string, err error) {
	if err = e.requireConnected(); err != nil {
		return "", err
	}
	sub, ok := e.subs[destination]
	if !ok {
		return "", stomperr.NewApplicationError("Not subscribed to "+destination, nil)
	}

	f := frame.New("UNSUBSCRIBE")
	applyExtra(f, extra)
	if e.version == frame.V10 {
		f.Set("destination", destination)
	}
	f.Set("id", sub.ID)
	receiptID = e.allocateReceipt(f, receipt)

	delete(e.subs, destination)
	e.sendFrame(f)
	return receiptID, nil
}

// Ack emits ACK for a previously delivered non-auto message.
func (e *Engine) Ack(ackID string, receipt bool, transactionID string, extra map[string]string) (receiptID string, err error) {
	return e.ackOrNack("ACK", ackID, receipt, transactionID, extra)
}

// Nack emits NACK. Fails with ProtocolError on a 1.0 session, which
// has no NACK command.
func (e *Engine) Nack(ackID string, receipt bool, transactionID string, extra map[string]string) (receiptID string, err error) {
	if e.connected && e.version == frame.V10 {
		return "", stomperr.NewProtocolError("NACK not supported in STOMP 1.0", nil, nil)
	}
	return e.ackOrNack("NACK", ackID, receipt, transactionID, extra)
}

func (e *Engine) ackOrNack(command, ackID string, receipt bool, transactionID string, extra map[string]string) (string, error) {
	if err := e.requireConnected(); err != nil {
		return "", err
	}
	messageID, ok := e.ackToMessage[ackID]
	if !ok {
		return "", stomperr.NewApplicationError("Unknown ack id "+ackID, nil)
	}

	f := frame.New(command)
	applyExtra(f, extra)
	if e.version == frame.V10 {
		f.Set("message-id", messageID)
	} else {
		f.Set("id", ackID)
	}
	if transactionID != "" {
		f.Set("transaction", transactionID)
	}
	receiptID := e.allocateReceipt(f, receipt)

	delete(e.ackToMessage, ackID)
	e.sendFrame(f)
	return receiptID, nil
}

// Begin emits BEGIN, allocating a monotonic transaction id.
func (e *Engine) Begin(receipt bool, extra map[string]string) (transactionID, receiptID string, err error) {
	if err = e.requireConnected(); err != nil {
		return "", "", err
	}
	transactionID = e.allocID(&e.nextTxID)
	f := frame.New("BEGIN")
	applyExtra(f, extra)
	f.Set("transaction", transactionID)
	receiptID = e.allocateReceipt(f, receipt)

	e.openTx[transactionID] = struct{}{}
	e.sendFrame(f)
	return transactionID, receiptID, nil
}

// Commit emits COMMIT for a previously begun transaction.
func (e *Engine) Commit(id string, receipt bool, extra map[string]string) (string, error) {
	return e.endTransaction("COMMIT", id, receipt, extra)
}

// Abort emits ABORT for a previously begun transaction.
func (e *Engine) Abort(id string, receipt bool, extra map[string]string) (string, error) {
	return e.endTransaction("ABORT", id, receipt, extra)
}

func (e *Engine) endTransaction(command, id string, receipt bool, extra map[string]string) (string, error) {
	if err := e.requireConnected(); err != nil {
		return "", err
	}
	if _, ok := e.openTx[id]; !ok {
		return "", stomperr.NewApplicationError("Unknown transaction "+id, nil)
	}
	f := frame.New(command)
	applyExtra(f, extra)
	f.Set("transaction", id)
	receiptID := e.allocateReceipt(f, receipt)

	delete(e.openTx, id)
	e.sendFrame(f)
	return receiptID, nil
}

// Disconnect emits DISCONNECT, stops the heartbeat and clears the
// connected flag.
func (e *Engine) Disconnect(receipt bool, extra map[string]string) (string, error) {
	if err := e.requireConnected(); err != nil {
		return "", err
	}
	f := frame.New("DISCONNECT")
	applyExtra(f, extra)
	receiptID := e.allocateReceipt(f, receipt)
	e.sendFrame(f)

	if e.hb != nil {
		e.hb.Stop()
		e.hb = nil
	}
	e.connected = false
	return receiptID, nil
}

// ----- inbound handling -----

// Feed hands the engine raw bytes read from the transport. It never
// returns an error and never panics: every failure surfaces through
// the host's OnError callback.
func (e *Engine) Feed(data []byte) {
	if len(data) > 0 {
		e.stats.BytesIn += len(data)
		if e.hb != nil {
			e.hb.ReceivedData()
		}
	}
	if err := e.parser.Feed(data); err != nil {
		e.reportError(nil, err)
		return
	}
	for {
		f, ok := e.parser.Next()
		if !ok {
			return
		}
		e.stats.FramesIn++
		if err := e.handleFrame(f); err != nil {
			e.reportError(f, err)
		}
	}
}

func (e *Engine) handleFrame(f *frame.Frame) error {
	switch f.Command {
	case "CONNECTED":
		return e.handleConnected(f)
	case "MESSAGE":
		return e.handleMessage(f)
	case "RECEIPT":
		return e.handleReceipt(f)
	case "ERROR":
		return e.handleError(f)
	default:
		return stomperr.NewProtocolError("Unhandled frame: "+f.Command, f, nil)
	}
}

func (e *Engine) handleConnected(f *frame.Frame) error {
	version, ok := f.Get("version")
	if !ok {
		version = string(frame.V10)
	}
	e.version = frame.Version(version)
	e.sessionID, _ = f.Get("session")
	e.serverName, _ = f.Get("server")

	if hbHeader, ok := f.Get("heart-beat"); ok {
		rates, err := heartbeat.Negotiate(hbHeader, e.cfg.MinSendIntervalMs, 0)
		if err != nil {
			return stomperr.NewProtocolError(err.Error(), f, nil)
		}
		e.hb = heartbeat.New(&clientHBHost{e}, e.scheduler, rates)
		e.hb.Start()
	}

	e.connected = true
	e.host.OnConnected(f, e.sessionID, e.serverName)
	return nil
}

func (e *Engine) handleMessage(f *frame.Frame) error {
	destination, err := stomperr.RequireHeader(f, e.version, "destination")
	if err != nil {
		return err
	}
	messageID, err := stomperr.RequireHeader(f, e.version, "message-id")
	if err != nil {
		return err
	}
	var subscriptionID string
	if e.version != frame.V10 {
		subscriptionID, err = stomperr.RequireHeader(f, e.version, "subscription")
		if err != nil {
			return err
		}
	}

	sub, ok := e.subs[destination]
	if !ok {
		return stomperr.NewApplicationError("No subscription for destination "+destination, f)
	}
	if e.version != frame.V10 && subscriptionID != sub.ID {
		return stomperr.NewApplicationError("Subscription id mismatch for destination "+destination, f)
	}

	if sub.Ack != "auto" {
		var ackID string
		if e.version == frame.V12 {
			ackID, ok = f.Get("ack")
			if !ok {
				ackID = e.allocID(&e.nextAckID)
			}
		} else {
			ackID = e.allocID(&e.nextAckID)
		}
		if _, exists := e.ackToMessage[ackID]; exists {
			return stomperr.NewApplicationError("Duplicate ack id "+ackID, f)
		}
		e.ackToMessage[ackID] = messageID
	}

	contentType, _ := f.Get(frame.HdrContentType)
	var decoded any
	if e.cfg.AutoJSON && contentType == "application/json" && len(f.Body) > 0 {
		var v any
		if decErr := e.cfg.Codec.Decode(f.Body, &v); decErr == nil {
			decoded = v
		}
	}

	e.host.OnMessage(f, destination, f.Body, contentType, decoded)
	return nil
}

func (e *Engine) handleReceipt(f *frame.Frame) error {
	receiptID, err := stomperr.RequireHeader(f, e.version, "receipt-id")
	if err != nil {
		return err
	}
	if _, ok := e.receipted[receiptID]; !ok {
		return stomperr.NewApplicationError("Unknown receipt id "+receiptID, f)
	}
	delete(e.receipted, receiptID)
	e.host.OnReceipt(f, receiptID)
	return nil
}

func (e *Engine) handleError(f *frame.Frame) error {
	message, _ := f.Get("message")
	receiptID, _ := f.Get("receipt-id")
	e.host.OnError(f, message, f.Body, receiptID)
	return nil
}

func (e *Engine) reportError(triggering *frame.Frame, err error) {
	if triggering == nil {
		triggering = stomperr.Triggering(err)
	}
	message := err.Error()
	var details []byte
	if triggering != nil {
		details = []byte(triggering.String())
	}
	synthetic := frame.New("ERROR")
	synthetic.Set("message", message)
	e.host.OnError(synthetic, message, details, "")
}

// ----- helpers -----

func (e *Engine) requireConnected() error {
	if !e.connected {
		return stomperr.NewProtocolError("Not connected", nil, nil)
	}
	return nil
}

func (e *Engine) allocID(counter *int) string {
	id := strconv.Itoa(*counter)
	*counter++
	return id
}

func (e *Engine) allocateReceipt(f *frame.Frame, requested bool) string {
	if !requested && !e.cfg.Receipt {
		return ""
	}
	id := e.allocID(&e.nextReceiptID)
	f.Set("receipt", id)
	e.receipted[id] = f.Clone()
	return id
}

func (e *Engine) sendFrame(f *frame.Frame) {
	data := f.Serialize()
	e.host.SendBytes(data)
	e.stats.FramesOut++
	e.stats.BytesOut += len(data)
	if e.hb != nil {
		e.hb.SentData()
	}
}

func applyExtra(f *frame.Frame, extra map[string]string) {
	for k, v := range extra {
		f.Set(k, v)
	}
}

// clientHBHost adapts the client engine to heartbeat.Host without
// exposing the engine's other methods to the heartbeat package.
type clientHBHost struct{ e *Engine }

func (h *clientHBHost) SendBytes(b []byte) {
	h.e.host.SendBytes(b)
	h.e.stats.BytesOut += len(b)
}

func (h *clientHBHost) ReportError(message string) {
	synthetic := frame.New("ERROR")
	synthetic.Set("message", message)
	h.e.host.OnError(synthetic, message, nil, "")
}

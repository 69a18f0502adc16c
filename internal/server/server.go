// Package server implements the server-side STOMP state machine:
// accept, dispatch, subscribe/ack book-keeping, transactions and
// receipt emission, driven by an embedder that supplies raw bytes in
// both directions. It never opens a socket itself.
package server

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/life-stream-dev/stomp-engine/internal/frame"
	"github.com/life-stream-dev/stomp-engine/internal/heartbeat"
	"github.com/life-stream-dev/stomp-engine/internal/hostapi"
	"github.com/life-stream-dev/stomp-engine/internal/idgen"
	"github.com/life-stream-dev/stomp-engine/internal/scheduler"
	"github.com/life-stream-dev/stomp-engine/internal/stomperr"
	"github.com/life-stream-dev/stomp-engine/internal/stompparser"
)

// Subscription is the server-side bookkeeping record for one
// destination.
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

// Config holds the embedder-facing options for the server side.
type Config struct {
	// Name and Version populate the "server" header on CONNECTED, as
	// "<name>[/<version>]". Both empty omits the header entirely.
	Name    string
	Version string
	// MinSendIntervalMs floors the negotiated incoming heartbeat rate
	// (the client's claimed send interval). Defaults to 5000 if zero.
	MinSendIntervalMs int
	// DesiredReceiveIntervalMs floors the negotiated outgoing heartbeat
	// rate (the client's desired receive interval). Defaults to 60000
	// if zero.
	DesiredReceiveIntervalMs int
	// IDGen generates session and message ids. Defaults to idgen.Default{}.
	IDGen idgen.Generator
}

// Engine is the server-side STOMP state machine. It is not safe for
// concurrent entry; an embedder must serialize calls to it the same
// way it would serialize access to a single socket.
type Engine struct {
	host      hostapi.ServerHost
	scheduler scheduler.Scheduler
	cfg       Config
	parser    *stompparser.Parser

	connected bool
	version   frame.Version
	sessionID string
	hb        *heartbeat.Heartbeat

	subs     map[string]Subscription // destination -> record
	subsByID map[string]string       // id -> destination

	ackIDsByMessageID map[string]string // message-id -> ack-id, versions < 1.2 only
	transactions      map[string][]*frame.Frame

	nextSubscribeID int
	nextAckID       int

	stats Stats
}

// New constructs a server engine bound to host and sched.
func New(host hostapi.ServerHost, sched scheduler.Scheduler, cfg Config) *Engine {
	if cfg.MinSendIntervalMs == 0 {
		cfg.MinSendIntervalMs = 5000
	}
	if cfg.DesiredReceiveIntervalMs == 0 {
		cfg.DesiredReceiveIntervalMs = 60000
	}
	if cfg.IDGen == nil {
		cfg.IDGen = idgen.Default{}
	}
	return &Engine{
		host:              host,
		scheduler:         sched,
		cfg:               cfg,
		parser:            stompparser.New(),
		subs:              make(map[string]Subscription),
		subsByID:          make(map[string]string),
		ackIDsByMessageID: make(map[string]string),
		transactions:      make(map[string][]*frame.Frame),
		nextSubscribeID:   1,
		nextAckID:         1,
	}
}

// Stats returns a snapshot of the engine's traffic counters.
func (e *Engine) Stats() Stats {
	s := e.stats
	s.Connected = e.connected
	return s
}

// Connected reports whether a client has successfully completed
// CONNECT/CONNECTED negotiation.
func (e *Engine) Connected() bool { return e.connected }

// Feed hands the engine raw bytes read from the transport. It never
// returns an error and never panics: every failure surfaces through
// the host's OnError callback and, for protocol/application
// violations, an ERROR frame on the wire.
func (e *Engine) Feed(data []byte) {
	if len(data) > 0 {
		e.stats.BytesIn += len(data)
		if e.hb != nil {
			e.hb.ReceivedData()
		}
	}
	if err := e.parser.Feed(data); err != nil {
		e.Error(nil, err)
		return
	}
	for {
		f, ok := e.parser.Next()
		if !ok {
			return
		}
		e.stats.FramesIn++
		e.process(f)
	}
}

func (e *Engine) process(f *frame.Frame) {
	cmd := strings.ToUpper(f.Command)
	if !isKnownCommand(cmd) {
		e.Error(f, stomperr.NewProtocolError("Unknown command: "+f.Command, f, nil))
		return
	}
	if !e.connected && cmd != "CONNECT" && cmd != "STOMP" {
		e.Error(f, stomperr.NewProtocolError("Not connected", f, nil))
		return
	}

	if txID, hasTx := f.Get("transaction"); hasTx {
		switch cmd {
		case "BEGIN", "COMMIT", "ABORT":
			// fall through to normal dispatch below
		case "SEND", "ACK", "NACK":
			if _, ok := e.transactions[txID]; !ok {
				e.Error(f, stomperr.NewProtocolError("Unknown transaction "+txID, f, nil))
				return
			}
			e.transactions[txID] = append(e.transactions[txID], f.Clone())
			e.maybeReceipt(f, cmd)
			return
		default:
			e.Error(f, stomperr.NewProtocolError("Transaction not permitted", f, nil))
			return
		}
	}

	if err := e.dispatchCommand(f, cmd); err != nil {
		e.Error(f, err)
		return
	}
	e.maybeReceipt(f, cmd)
}

func isKnownCommand(cmd string) bool {
	switch cmd {
	case "CONNECT", "STOMP", "SEND", "SUBSCRIBE", "UNSUBSCRIBE",
		"ACK", "NACK", "BEGIN", "COMMIT", "ABORT", "DISCONNECT":
		return true
	default:
		return false
	}
}

func (e *Engine) maybeReceipt(f *frame.Frame, cmd string) {
	if cmd == "CONNECT" || cmd == "STOMP" {
		return
	}
	if receiptID, ok := f.Get("receipt"); ok {
		r := frame.New("RECEIPT")
		r.Set("receipt-id", receiptID)
		e.sendFrame(r)
	}
}

// dispatchCommand runs exactly the per-command handler. It is also
// used, directly, to replay a transaction's buffered frames on
// COMMIT, bypassing the top-level process() pipeline (no
// re-buffering check, no duplicate receipt emission).
func (e *Engine) dispatchCommand(f *frame.Frame, cmd string) error {
	switch cmd {
	case "CONNECT", "STOMP":
		return e.handleConnect(f)
	case "SEND":
		return e.handleSend(f)
	case "SUBSCRIBE":
		return e.handleSubscribe(f)
	case "UNSUBSCRIBE":
		return e.handleUnsubscribe(f)
	case "ACK":
		return e.handleAck(f)
	case "NACK":
		return e.handleNack(f)
	case "BEGIN":
		return e.handleBegin(f)
	case "COMMIT":
		return e.handleCommit(f)
	case "ABORT":
		return e.handleAbort(f)
	case "DISCONNECT":
		return e.handleDisconnect(f)
	default:
		return stomperr.NewProtocolError("Unknown command: "+f.Command, f, nil)
	}
}

func (e *Engine) handleConnect(f *frame.Frame) error {
	if e.connected {
		return stomperr.NewProtocolError("Already connected", f, nil)
	}
	if _, hasReceipt := f.Get("receipt"); hasReceipt {
		return stomperr.NewProtocolError("CONNECT must not carry a receipt header", f, nil)
	}

	negotiated, err := negotiateVersion(f)
	if err != nil {
		return err
	}

	if negotiated != frame.V10 {
		if _, err := stomperr.RequireHeader(f, negotiated, "host"); err != nil {
			return err
		}
	}

	sessionID := e.cfg.IDGen.NewV4()

	var hb *heartbeat.Heartbeat
	var hbHeaderOut string
	if hbHeader, ok := f.Get("heart-beat"); ok {
		rates, err := heartbeat.Negotiate(hbHeader, e.cfg.MinSendIntervalMs, e.cfg.DesiredReceiveIntervalMs)
		if err != nil {
			return stomperr.NewProtocolError(err.Error(), f, nil)
		}
		hb = heartbeat.New(&serverHBHost{e}, e.scheduler, rates)
		hbHeaderOut = fmt.Sprintf("%d,%d", rates.OutgoingMs, rates.IncomingMs)
	}

	login, _ := f.Get("login")
	passcode, _ := f.Get("passcode")
	host, _ := f.Get("host")
	accepted, sessionOverride := e.host.OnConnect(f, login, passcode, host, sessionID)
	if !accepted {
		return stomperr.NewProtocolError("Invalid login", f, nil)
	}

	e.version = negotiated
	e.sessionID = sessionID
	e.connected = true
	if hb != nil {
		e.hb = hb
		e.hb.Start()
	}

	sessionHeader := sessionID
	if sessionOverride != "" {
		sessionHeader = sessionOverride
	}

	connected := frame.New("CONNECTED")
	connected.Set("version", string(negotiated))
	connected.Set("session", sessionHeader)
	if hbHeaderOut != "" {
		connected.Set("heart-beat", hbHeaderOut)
	}
	if e.cfg.Name != "" {
		serverHeader := e.cfg.Name
		if e.cfg.Version != "" {
			serverHeader += "/" + e.cfg.Version
		}
		connected.Set("server", serverHeader)
	}
	e.sendFrame(connected)
	return nil
}

func negotiateVersion(f *frame.Frame) (frame.Version, error) {
	header, ok := f.Get("accept-version")
	if !ok {
		return frame.V10, nil
	}
	offered := map[string]bool{}
	for _, v := range strings.Split(header, ",") {
		offered[strings.TrimSpace(v)] = true
	}
	for _, v := range []frame.Version{frame.V12, frame.V11, frame.V10} {
		if offered[string(v)] {
			return v, nil
		}
	}
	return "", stomperr.NewProtocolError("Incompatible version", f, map[string]string{"version": "1.0,1.1,1.2"})
}

func (e *Engine) handleSend(f *frame.Frame) error {
	destination, err := stomperr.RequireHeader(f, e.version, "destination")
	if err != nil {
		return err
	}
	contentType, ok := f.Get(frame.HdrContentType)
	if !ok {
		contentType = "text/plain"
	}
	e.host.OnMessage(f, destination, f.Body, contentType)
	return nil
}

func ackModesFor(version frame.Version) map[string]bool {
	if version == frame.V10 {
		return map[string]bool{"auto": true, "client": true}
	}
	return map[string]bool{"auto": true, "client": true, "client-individual": true}
}

func (e *Engine) handleSubscribe(f *frame.Frame) error {
	destination, err := stomperr.RequireHeader(f, e.version, "destination")
	if err != nil {
		return err
	}

	id, hasID := f.Get("id")
	if !hasID {
		if e.version != frame.V10 {
			return stomperr.NewProtocolError("Missing 'id' header", f, nil)
		}
		id = e.allocID(&e.nextSubscribeID)
	}

	ack, ok := f.Get("ack")
	if !ok {
		ack = "auto"
	}
	if !ackModesFor(e.version)[ack] {
		return stomperr.NewProtocolError("Invalid ack header: "+ack, f, nil)
	}

	if _, exists := e.subs[destination]; exists {
		return stomperr.NewApplicationError("Already subscribed to "+destination, f)
	}

	e.subs[destination] = Subscription{ID: id, Ack: ack}
	e.subsByID[id] = destination
	e.host.OnSubscribe(f, id, destination, ack)
	return nil
}

func (e *Engine) handleUnsubscribe(f *frame.Frame) error {
	id, hasID := f.Get("id")
	var destination string

	if hasID {
		dest, ok := e.subsByID[id]
		if !ok {
			return stomperr.NewProtocolError("Subscription not found", f, nil)
		}
		destination = dest
	} else {
		if e.version != frame.V10 {
			return stomperr.NewProtocolError("Missing 'id' header", f, nil)
		}
		dest, ok := f.Get("destination")
		if !ok {
			return stomperr.NewProtocolError("Missing 'id' header", f, nil)
		}
		sub, ok := e.subs[dest]
		if !ok {
			return stomperr.NewProtocolError("Subscription not found", f, nil)
		}
		destination = dest
		id = sub.ID
	}

	delete(e.subs, destination)
	delete(e.subsByID, id)
	e.host.OnUnsubscribe(f, id, destination)
	return nil
}

// resolveAckID implements the ACK/NACK header rules shared by both
// commands: id is required from 1.2, message-id from below 1.2 (with
// the ack-id recovered from the message-id->ack-id correlation
// recorded by Message()).
func (e *Engine) resolveAckID(f *frame.Frame) (string, error) {
	if e.version == frame.V12 {
		return stomperr.RequireHeader(f, e.version, "id")
	}
	messageID, err := stomperr.RequireHeader(f, e.version, "message-id")
	if err != nil {
		return "", err
	}
	id, ok := e.ackIDsByMessageID[messageID]
	if !ok {
		return "", stomperr.NewApplicationError("Unknown message id "+messageID, f)
	}
	delete(e.ackIDsByMessageID, messageID)
	return id, nil
}

func (e *Engine) handleAck(f *frame.Frame) error {
	id, err := e.resolveAckID(f)
	if err != nil {
		return err
	}
	e.host.OnAck(f, id)
	return nil
}

func (e *Engine) handleNack(f *frame.Frame) error {
	if e.version == frame.V10 {
		return stomperr.NewProtocolError("Invalid command", f, nil)
	}
	id, err := e.resolveAckID(f)
	if err != nil {
		return err
	}
	e.host.OnNack(f, id)
	return nil
}

func (e *Engine) handleBegin(f *frame.Frame) error {
	txID, err := stomperr.RequireHeader(f, e.version, "transaction")
	if err != nil {
		return err
	}
	if _, exists := e.transactions[txID]; exists {
		return stomperr.NewProtocolError("Transaction already started", f, nil)
	}
	e.transactions[txID] = nil
	return nil
}

func (e *Engine) handleCommit(f *frame.Frame) error {
	txID, err := stomperr.RequireHeader(f, e.version, "transaction")
	if err != nil {
		return err
	}
	buffered, ok := e.transactions[txID]
	if !ok {
		return stomperr.NewProtocolError("Unknown transaction "+txID, f, nil)
	}
	delete(e.transactions, txID)

	for _, bf := range buffered {
		replay := bf.Clone()
		replay.Del("transaction")
		if err := e.dispatchCommand(replay, strings.ToUpper(replay.Command)); err != nil {
			e.Error(replay, err)
		}
	}
	return nil
}

func (e *Engine) handleAbort(f *frame.Frame) error {
	txID, err := stomperr.RequireHeader(f, e.version, "transaction")
	if err != nil {
		return err
	}
	if _, ok := e.transactions[txID]; !ok {
		return stomperr.NewProtocolError("Unknown transaction "+txID, f, nil)
	}
	delete(e.transactions, txID)
	return nil
}

func (e *Engine) handleDisconnect(f *frame.Frame) error {
	e.host.OnDisconnect(f, "client request")
	return nil
}

// Message constructs and sends a MESSAGE frame to the embedder's
// connected client. headers must include "destination" and, for
// versions 1.1 and 1.2, "subscription". It returns the generated or
// supplied message id, and the ack id the embedder must remember for
// later ACK/NACK correlation ("" if the subscription is auto-ack).
func (e *Engine) Message(headers map[string]string, body []byte) (messageID, ackID string, err error) {
	if !e.connected {
		return "", "", stomperr.NewProtocolError("Not connected", nil, nil)
	}
	destination, ok := headers["destination"]
	if !ok {
		return "", "", stomperr.NewProtocolError("Missing 'destination' header", nil, nil)
	}
	var subscriptionHeader string
	if e.version != frame.V10 {
		subscriptionHeader, ok = headers["subscription"]
		if !ok {
			return "", "", stomperr.NewProtocolError("Missing 'subscription' header", nil, nil)
		}
	}

	sub, ok := e.subs[destination]
	if !ok {
		return "", "", stomperr.NewApplicationError("No subscription for destination "+destination, nil)
	}
	if e.version != frame.V10 && subscriptionHeader != sub.ID {
		return "", "", stomperr.NewApplicationError("Subscription id mismatch for destination "+destination, nil)
	}

	messageID = headers["message-id"]
	if messageID == "" {
		messageID = e.cfg.IDGen.NewV4()
	}

	mf := frame.New("MESSAGE")
	for k, v := range headers {
		mf.Set(k, v)
	}
	mf.Set("destination", destination)
	mf.Set("message-id", messageID)
	if e.version != frame.V10 {
		mf.Set("subscription", sub.ID)
	}
	mf.Body = body

	if sub.Ack != "auto" {
		if e.version == frame.V12 {
			ack, hasAck := mf.Get("ack")
			if !hasAck {
				ack = e.allocID(&e.nextAckID)
				mf.Set("ack", ack)
			}
			ackID = ack
		} else {
			ackID = e.allocID(&e.nextAckID)
			mf.Del("ack")
			e.ackIDsByMessageID[messageID] = ackID
		}
	}

	e.sendFrame(mf)
	return messageID, ackID, nil
}

// Error builds and sends an ERROR frame from err, then always invokes
// the host's OnError, even if the send fails.
func (e *Engine) Error(triggering *frame.Frame, err error) {
	defer e.host.OnError(triggering, err)
	defer func() { _ = recover() }()

	switch ex := err.(type) {
	case *stomperr.ProtocolError:
		e.sendFrame(e.buildErrorFrame(triggering, ex.Message, ex.Extra))
	case *stomperr.ApplicationError:
		e.sendFrame(e.buildErrorFrame(triggering, ex.Message, nil))
	default:
		generic := frame.New("ERROR")
		generic.Set("message", "Internal STOMP server error")
		e.sendFrame(generic)
	}
}

func (e *Engine) buildErrorFrame(triggering *frame.Frame, message string, extra map[string]string) *frame.Frame {
	ef := frame.New("ERROR")
	ef.Set("message", message)
	for k, v := range extra {
		ef.Set(k, v)
	}
	if triggering != nil {
		if receiptID, ok := triggering.Get("receipt"); ok {
			cmd := strings.ToUpper(triggering.Command)
			if cmd != "CONNECT" && cmd != "STOMP" {
				ef.Set("receipt-id", receiptID)
			}
		}
		ef.Body = []byte(fmt.Sprintf("Failed frame:\n-----\n%s\n-----", triggering.String()))
	}
	return ef
}

// Disconnect stops the heartbeat and marks the session disconnected.
// Idempotent.
func (e *Engine) Disconnect() {
	if e.hb != nil {
		e.hb.Stop()
		e.hb = nil
	}
	e.connected = false
}

func (e *Engine) allocID(counter *int) string {
	id := strconv.Itoa(*counter)
	*counter++
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

type serverHBHost struct{ e *Engine }

func (h *serverHBHost) SendBytes(b []byte) {
	h.e.host.SendBytes(b)
	h.e.stats.BytesOut += len(b)
}

func (h *serverHBHost) ReportError(message string) {
	h.e.Error(nil, stomperr.NewProtocolError(message, nil, nil))
	h.e.Disconnect()
}

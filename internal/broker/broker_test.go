package broker

import (
	"bytes"
	"testing"

	"github.com/life-stream-dev/stomp-engine/internal/frame"
	"github.com/life-stream-dev/stomp-engine/internal/idgen"
	"github.com/life-stream-dev/stomp-engine/internal/scheduler"
	"github.com/life-stream-dev/stomp-engine/internal/server"
)

type fakeServerHost struct {
	sent [][]byte
}

func (h *fakeServerHost) SendBytes(data []byte) { h.sent = append(h.sent, data) }
func (h *fakeServerHost) OnConnect(f *frame.Frame, login, passcode, host, sessionID string) (bool, string) {
	return true, ""
}
func (h *fakeServerHost) OnMessage(f *frame.Frame, destination string, body []byte, contentType string) {
}
func (h *fakeServerHost) OnSubscribe(f *frame.Frame, id, destination, ack string) {}
func (h *fakeServerHost) OnUnsubscribe(f *frame.Frame, id, destination string)    {}
func (h *fakeServerHost) OnAck(f *frame.Frame, id string)                        {}
func (h *fakeServerHost) OnNack(f *frame.Frame, id string)                       {}
func (h *fakeServerHost) OnError(f *frame.Frame, err error)                      {}
func (h *fakeServerHost) OnDisconnect(f *frame.Frame, reason string)             {}

func newSession(t *testing.T, id string) (*Session, *fakeServerHost) {
	t.Helper()
	host := &fakeServerHost{}
	eng := server.New(host, scheduler.RealScheduler{}, server.Config{IDGen: idgen.Default{}})
	sess := NewSession(id, eng)
	return sess, host
}

func connectAndSubscribe(t *testing.T, sess *Session, destination, id string) {
	t.Helper()
	connect := []byte("CONNECT\naccept-version:1.2\nhost:stomp\n\n\x00")
	sess.Engine.Feed(connect)
	sub := []byte("SUBSCRIBE\nid:" + id + "\ndestination:" + destination + "\nack:auto\n\n\x00")
	sess.Engine.Feed(sub)
	sess.AddSub(id, destination)
}

func TestPublishDeliversToSubscribedSession(t *testing.T) {
	reg := NewRegistry(16)

	sender, _ := newSession(t, "sender")
	receiver, receiverHost := newSession(t, "receiver")

	connectAndSubscribe(t, receiver, "/queue/a", "0")
	reg.Add(sender)
	reg.Add(receiver)

	before := len(receiverHost.sent)
	delivered := reg.Publish(sender.ID, "/queue/a", "text/plain", []byte("hi"))
	if delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}
	if len(receiverHost.sent) != before+1 || !bytes.HasPrefix(receiverHost.sent[before], []byte("MESSAGE\n")) {
		t.Fatal("expected a MESSAGE frame written to the receiver's transport")
	}
}

func TestPublishSkipsUnsubscribedSessions(t *testing.T) {
	reg := NewRegistry(16)

	sender, _ := newSession(t, "sender")
	bystander, bystanderHost := newSession(t, "bystander")

	bystander.Engine.Feed([]byte("CONNECT\naccept-version:1.2\nhost:stomp\n\n\x00"))
	reg.Add(sender)
	reg.Add(bystander)

	before := len(bystanderHost.sent)
	delivered := reg.Publish(sender.ID, "/queue/a", "text/plain", []byte("hi"))
	if delivered != 0 {
		t.Fatalf("expected 0 deliveries, got %d", delivered)
	}
	if len(bystanderHost.sent) != before {
		t.Fatal("bystander should not have received anything")
	}
}

func TestPublishSkipsOriginatingSession(t *testing.T) {
	reg := NewRegistry(16)

	self, selfHost := newSession(t, "self")
	connectAndSubscribe(t, self, "/queue/a", "0")
	reg.Add(self)

	before := len(selfHost.sent)
	delivered := reg.Publish(self.ID, "/queue/a", "text/plain", []byte("hi"))
	if delivered != 0 {
		t.Fatalf("expected the origin to be excluded, got %d deliveries", delivered)
	}
	if len(selfHost.sent) != before {
		t.Fatal("origin should not receive its own publish")
	}
}

func TestRemoveStopsFurtherDelivery(t *testing.T) {
	reg := NewRegistry(16)

	sender, _ := newSession(t, "sender")
	receiver, receiverHost := newSession(t, "receiver")
	connectAndSubscribe(t, receiver, "/queue/a", "0")

	reg.Add(sender)
	reg.Add(receiver)
	reg.Remove(receiver.ID)

	before := len(receiverHost.sent)
	reg.Publish(sender.ID, "/queue/a", "text/plain", []byte("hi"))
	if len(receiverHost.sent) != before {
		t.Fatal("removed session should not receive further messages")
	}
}

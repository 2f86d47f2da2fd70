package agentbus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	pkgLogger "github.com/fpt/agentbridge/pkg/logger"
)

// fakeTransport records every payload handed to it.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []string
	sendErr error
	started bool
	closed  bool
}

func (f *fakeTransport) Start(_ context.Context, _ TransportEvents) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeTransport) Send(payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestChannel(t *testing.T, onMessage func(string)) (*Channel, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	ch := NewChannel(tr, Options{SelfID: "A", OnMessage: onMessage, Logger: pkgLogger.NewDiscardLogger()})
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return ch, tr
}

func TestSendWrapsPlainMessages(t *testing.T) {
	ch, tr := newTestChannel(t, nil)
	ch.Connected()

	if err := ch.Send("achieve,B,up(10)"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := ch.Send("<x9,A,tell,B,hello>"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := ch.Send(`"achieve,B,land"`); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	want := []string{"<mid1,A,achieve,B,up(10)>", "<x9,A,tell,B,hello>", "<mid2,A,achieve,B,land>"}
	if got := tr.Sent(); !reflect.DeepEqual(got, want) {
		t.Errorf("sent = %v, want %v", got, want)
	}
}

func TestQueuedMessagesFlushInOrderExactlyOnce(t *testing.T) {
	ch, tr := newTestChannel(t, nil)

	for i := 1; i <= 3; i++ {
		if err := ch.Send(fmt.Sprintf("achieve,B,cmd%d", i)); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	if len(tr.Sent()) != 0 {
		t.Fatalf("nothing should be sent before connect, got %v", tr.Sent())
	}

	ch.Connected()
	if err := ch.Send("achieve,B,cmd4"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	ch.Connected() // a repeated connect must not resend the queue

	want := []string{
		"<mid1,A,achieve,B,cmd1>",
		"<mid2,A,achieve,B,cmd2>",
		"<mid3,A,achieve,B,cmd3>",
		"<mid4,A,achieve,B,cmd4>",
	}
	if got := tr.Sent(); !reflect.DeepEqual(got, want) {
		t.Errorf("sent = %v, want %v", got, want)
	}
}

func TestQueueFlushPrecedesConcurrentSends(t *testing.T) {
	ch, tr := newTestChannel(t, nil)
	for i := 0; i < 50; i++ {
		_ = ch.Send(fmt.Sprintf("achieve,B,queued%d", i))
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ch.Connected()
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = ch.Send(fmt.Sprintf("achieve,B,live%d", i))
		}
	}()
	wg.Wait()

	sent := tr.Sent()
	if len(sent) != 100 {
		t.Fatalf("expected 100 sends, got %d", len(sent))
	}
	for i := 0; i < 50; i++ {
		want := fmt.Sprintf("achieve,B,queued%d>", i)
		if got := sent[i]; got[len(got)-len(want):] != want {
			t.Fatalf("position %d: expected queued%d first, got %s", i, i, got)
		}
	}
}

func TestReplyResolvesPendingAndIsForwarded(t *testing.T) {
	var mu sync.Mutex
	var observed []string
	ch, tr := newTestChannel(t, func(p string) {
		mu.Lock()
		observed = append(observed, p)
		mu.Unlock()
	})
	ch.Connected()

	fut := ch.SendAndAwaitReply(context.Background(), "achieve", "B", "getPlans", time.Second)
	if got := tr.Sent(); len(got) != 1 || got[0] != "<mid1,A,achieve,B,getPlans>" {
		t.Fatalf("unexpected request payload: %v", got)
	}

	reply := `<mid1,B,tell,A,plans("takeOff up(N) land")>`
	ch.MessageReceived(reply)

	content, err := fut.Await(context.Background())
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if content != `plans("takeOff up(N) land")` {
		t.Errorf("content = %q", content)
	}
	if ch.Pending() != 0 {
		t.Errorf("pending request should be removed, have %d", ch.Pending())
	}

	// Duplicate replies are ignored but still forwarded.
	ch.MessageReceived(reply)

	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 2 {
		t.Errorf("expected both payloads forwarded, got %v", observed)
	}
}

func TestReplyContentKeepsSeparators(t *testing.T) {
	ch, _ := newTestChannel(t, nil)
	ch.Connected()

	fut := ch.SendAndAwaitReply(context.Background(), "askOne", "B", "position", time.Second)
	ch.MessageReceived("<mid1,B,tell,A,pos(1,2,3)>")

	content, err := fut.Await(context.Background())
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if content != "pos(1,2,3)" {
		t.Errorf("content = %q, want pos(1,2,3)", content)
	}
}

func TestMalformedReplyLeavesRequestPending(t *testing.T) {
	ch, _ := newTestChannel(t, nil)
	ch.Connected()

	fut := ch.SendAndAwaitReply(context.Background(), "achieve", "B", "getPlans", 50*time.Millisecond)
	ch.MessageReceived("<mid1,B,tell>")

	if fut.IsDone() {
		t.Fatal("malformed reply must not resolve the request")
	}
	_, err := fut.Await(context.Background())
	if !errors.Is(err, ErrReplyTimeout) {
		t.Errorf("expected ErrReplyTimeout, got %v", err)
	}
}

func TestReplyTimeout(t *testing.T) {
	ch, _ := newTestChannel(t, nil)

	fut := ch.SendAndAwaitReply(context.Background(), "achieve", "B", "getPlans", 20*time.Millisecond)
	_, err := fut.Await(context.Background())
	if !errors.Is(err, ErrReplyTimeout) {
		t.Fatalf("expected ErrReplyTimeout, got %v", err)
	}

	// A reply after the timeout is a no-op.
	ch.MessageReceived("<mid1,B,tell,A,late>")
	if ch.Pending() != 0 {
		t.Errorf("expected no pending requests, got %d", ch.Pending())
	}
}

func TestCancelPendingIsIdempotent(t *testing.T) {
	ch, tr := newTestChannel(t, nil)

	f1 := ch.SendAndAwaitReply(context.Background(), "achieve", "B", "a", time.Minute)
	f2 := ch.SendAndAwaitReply(context.Background(), "achieve", "B", "b", time.Minute)

	if err := ch.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	ch.CancelPending()

	for _, f := range []interface {
		Await(context.Context) (string, error)
	}{f1, f2} {
		if _, err := f.Await(context.Background()); !errors.Is(err, ErrCancelled) {
			t.Errorf("expected ErrCancelled, got %v", err)
		}
	}
	if !tr.closed {
		t.Error("transport should be closed")
	}
	if err := ch.Send("achieve,B,x"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}

func TestContextCancellationFailsRequest(t *testing.T) {
	ch, _ := newTestChannel(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	fut := ch.SendAndAwaitReply(ctx, "achieve", "B", "getPlans", time.Minute)
	cancel()

	if _, err := fut.Await(context.Background()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSendFailureFailsRequest(t *testing.T) {
	ch, tr := newTestChannel(t, nil)
	tr.sendErr = errors.New("network unreachable")
	ch.Connected()

	fut := ch.SendAndAwaitReply(context.Background(), "achieve", "B", "getPlans", time.Minute)
	if _, err := fut.Await(context.Background()); err == nil {
		t.Fatal("expected send error")
	}
}

func TestAwaitConnectedAndDisconnect(t *testing.T) {
	ch, tr := newTestChannel(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := ch.AwaitConnected(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline before connect, got %v", err)
	}

	ch.Connected()
	if err := ch.AwaitConnected(context.Background()); err != nil {
		t.Fatalf("AwaitConnected after connect: %v", err)
	}

	ch.Disconnected(errors.New("link lost"))
	if ch.IsConnected() {
		t.Fatal("channel should report disconnected")
	}
	_ = ch.Send("achieve,B,held")
	if len(tr.Sent()) != 0 {
		t.Errorf("send while disconnected should queue, got %v", tr.Sent())
	}
	ch.Connected()
	if got := tr.Sent(); len(got) != 1 {
		t.Errorf("queued message should flush on reconnect, got %v", got)
	}
}

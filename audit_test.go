package storygate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{
		gate: make(chan struct{}),
	}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func buildAuditTestGate(t *testing.T, cfg Config, sink AuditSink, provider Provider) (*Gate, func()) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	gate, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithProvider(provider).
		WithAuditSink(sink).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	return gate, func() {
		gate.Close()
		_ = rdb.Close()
		mr.Close()
	}
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	cfg := gateTestConfig()
	cfg.Audit.Enabled = false

	sink := &countingSink{}
	gate, done := buildAuditTestGate(t, cfg, sink, newFakeProvider())
	defer done()

	_, _ = gate.BeginPrimarySignIn(context.Background(), "client-1", "alice@example.com", "wrong-password")
	time.Sleep(30 * time.Millisecond)

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
}

func TestAuditChallengeFlowEmitsEvents(t *testing.T) {
	cfg := gateTestConfig()
	cfg.Audit.BufferSize = 32
	cfg.Audit.DropIfFull = false

	sink := NewChannelSink(32)
	gate, done := buildAuditTestGate(t, cfg, sink, newFakeProvider())
	defer done()

	issued := mustBeginChallenge(t, gate, "client-1")
	if _, err := gate.SubmitChallengeCode(context.Background(), "client-1", "000000"); err == nil {
		t.Fatal("expected wrong code to fail")
	}
	if _, err := gate.SubmitChallengeCode(context.Background(), "client-1", "654321"); err != nil {
		t.Fatalf("SubmitChallengeCode failed: %v", err)
	}

	seen := map[string]AuditEvent{}
	timeout := time.After(2 * time.Second)
	for len(seen) < 3 {
		select {
		case ev := <-sink.Events():
			seen[ev.EventType] = ev
		case <-timeout:
			t.Fatalf("timed out waiting for audit events, saw %v", keysOf(seen))
		}
	}

	issuedEv, ok := seen[auditEventChallengeIssued]
	if !ok {
		t.Fatal("expected challenge_issued event")
	}
	if issuedEv.ChallengeID != issued.ChallengeID || issuedEv.ClientID != "client-1" || issuedEv.UserID != "user-1" {
		t.Fatalf("challenge_issued fields wrong: %+v", issuedEv)
	}

	failureEv, ok := seen[auditEventChallengeFailure]
	if !ok {
		t.Fatal("expected challenge_failure event")
	}
	if failureEv.Success || failureEv.Error != string(auditErrInvalidCode) {
		t.Fatalf("challenge_failure fields wrong: %+v", failureEv)
	}

	successEv, ok := seen[auditEventChallengeSuccess]
	if !ok {
		t.Fatal("expected challenge_success event")
	}
	if !successEv.Success || successEv.ChallengeID != issued.ChallengeID {
		t.Fatalf("challenge_success fields wrong: %+v", successEv)
	}
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	cfg := gateTestConfig()
	cfg.Audit.BufferSize = 32
	cfg.Audit.DropIfFull = false
	sensitive := []string{"correct-horse", "654321"}

	sink := NewChannelSink(32)
	gate, done := buildAuditTestGate(t, cfg, sink, newFakeProvider())
	defer done()

	mustBeginChallenge(t, gate, "client-1")
	if _, err := gate.SubmitChallengeCode(context.Background(), "client-1", "654321"); err != nil {
		t.Fatalf("SubmitChallengeCode failed: %v", err)
	}

	events := make([]AuditEvent, 0, 4)
	timeout := time.After(2 * time.Second)
collectLoop:
	for len(events) < 4 {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		case <-timeout:
			break collectLoop
		}
	}
	if len(events) == 0 {
		t.Fatal("expected at least one audit event")
	}

	for _, ev := range events {
		for _, needle := range sensitive {
			if stringContains(ev.Error, needle) {
				t.Fatalf("sensitive value leaked in audit error field: %q", needle)
			}
			for k, v := range ev.Metadata {
				if stringContains(k, needle) || stringContains(v, needle) {
					t.Fatalf("sensitive value leaked in audit metadata: %q", needle)
				}
			}
		}
	}
}

func TestAuditBufferFullDropIfFullTrueDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
	}, sink)
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	start := time.Now()
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if dispatcher.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestAuditBufferFullDropIfFullFalseBlocksUntilSpace(t *testing.T) {
	sink := newGateSink()
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: false,
	}, sink)
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	done := make(chan struct{})
	go func() {
		dispatcher.Emit(context.Background(), AuditEvent{EventType: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestAuditJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	event := AuditEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   auditEventChallengeSuccess,
		UserID:      "user-1",
		ClientID:    "client-1",
		ChallengeID: "chal-1",
		Success:     true,
	}
	sink.Emit(context.Background(), event)

	if !buf.Contains("challenge_success") {
		t.Fatal("expected JSON log line to contain event type")
	}
	if !buf.Contains("\"user_id\":\"user-1\"") {
		t.Fatal("expected JSON log line to contain user id")
	}
}

func TestAuditDispatcherCloseIdempotentAndEmitAfterCloseSafe(t *testing.T) {
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 4,
		DropIfFull: true,
	}, &countingSink{})

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Close()
	dispatcher.Close()
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})
}

func TestAuditErrorCodeMapping(t *testing.T) {
	if auditErrorCode(nil) != "" {
		t.Fatal("expected empty code for nil error")
	}
	if auditErrorCode(ErrInvalidCode) != auditErrInvalidCode {
		t.Fatal("expected invalid_code")
	}
	if auditErrorCode(ErrPendingUnavailable) != auditErrUnavailable {
		t.Fatal("expected backend_unavailable")
	}
}

func keysOf(m map[string]AuditEvent) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) Contains(v string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return stringContains(string(b.buf), v)
}

func stringContains(s, sub string) bool {
	if len(sub) == 0 {
		return true
	}
	if len(sub) > len(s) {
		return false
	}
	for i := 0; i <= len(s)-len(sub); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

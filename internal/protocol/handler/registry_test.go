package handler

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/duelwire/internal/protocol/proto"
	"github.com/danmuck/duelwire/internal/testutil/fixture"
	"github.com/danmuck/duelwire/internal/testutil/testlog"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(fixture.Catalog(t).Protos())
}

func TestRegisterAppendsInOrder(t *testing.T) {
	testlog.Start(t)
	r := newTestRegistry(t)

	var calls []string
	mk := func(tag string) Func {
		return func(Input) Verdict {
			calls = append(calls, tag)
			return Continue()
		}
	}
	for _, tag := range []string{"a", "b", "c"} {
		if err := r.Register("CTOS_CHAT", mk(tag), true, 1); err != nil {
			t.Fatalf("register %s: %v", tag, err)
		}
	}
	hs := r.Handlers(proto.CTOS, 1, fixture.CTOSChat)
	if len(hs) != 3 {
		t.Fatalf("expected 3 handlers, got %d", len(hs))
	}
	for _, h := range hs {
		h.Call(Input{})
	}
	if len(calls) != 3 || calls[0] != "a" || calls[1] != "b" || calls[2] != "c" {
		t.Fatalf("unexpected order: %v", calls)
	}
	if r.Len() != 3 {
		t.Fatalf("expected len 3, got %d", r.Len())
	}
	if got := r.Handlers(proto.STOC, 1, fixture.STOCChat); len(got) != 0 {
		t.Fatalf("directions must not share buckets")
	}
}

func TestRegisterRejectsInvalidPriority(t *testing.T) {
	testlog.Start(t)
	r := newTestRegistry(t)
	noop := func(Input) Verdict { return Continue() }
	for _, p := range []int{-1, Tiers} {
		if err := r.Register("CTOS_CHAT", noop, true, p); !errors.Is(err, ErrInvalidPriority) {
			t.Fatalf("priority %d: expected ErrInvalidPriority, got %v", p, err)
		}
	}
	if err := r.Register("CTOS_CHAT", noop, true, 4); err != nil {
		t.Fatalf("tier 4 must be accepted: %v", err)
	}
}

func TestRegisterRejectsBadNames(t *testing.T) {
	testlog.Start(t)
	r := newTestRegistry(t)
	noop := func(Input) Verdict { return Continue() }
	if err := r.Register("HELLO", noop, true, 0); !errors.Is(err, proto.ErrInvalidIdentifier) {
		t.Fatalf("expected ErrInvalidIdentifier, got %v", err)
	}
	if err := r.Register("STOC_NOPE", noop, true, 0); !errors.Is(err, proto.ErrUnknownProtocol) {
		t.Fatalf("expected ErrUnknownProtocol, got %v", err)
	}
	if err := r.Register("STOC_CHAT", nil, true, 0); !errors.Is(err, ErrNilHandler) {
		t.Fatalf("expected ErrNilHandler, got %v", err)
	}
}

func TestAsyncCallCopiesInputsAndContinues(t *testing.T) {
	testlog.Start(t)
	payload := []byte{1, 2, 3}
	accepted := [][]byte{{9, 9}}
	seen := make(chan Input, 1)
	release := make(chan struct{})

	h := Handler{Func: func(in Input) Verdict {
		<-release
		seen <- in
		return AbortCall()
	}}
	if v := h.Call(Input{Payload: payload, Accepted: accepted}); v.Kind() != KindContinue {
		t.Fatalf("async verdict must be continue, got %s", v)
	}
	payload[0] = 0xFF
	accepted[0][0] = 0xFF
	close(release)

	select {
	case in := <-seen:
		if in.Payload[0] != 1 || in.Accepted[0][0] != 9 {
			t.Fatalf("async handler saw caller mutation: %v %v", in.Payload, in.Accepted)
		}
	case <-time.After(time.Second):
		t.Fatalf("async handler never ran")
	}
}

func TestAsyncPanicIsContained(t *testing.T) {
	testlog.Start(t)
	done := make(chan struct{})
	h := Handler{Func: func(Input) Verdict {
		defer close(done)
		panic("boom")
	}}
	h.Call(Input{Direction: proto.STOC, Command: "CHAT"})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("async handler never ran")
	}
}

func TestVerdictConstructors(t *testing.T) {
	testlog.Start(t)
	var zero Verdict
	if zero.Kind() != KindContinue {
		t.Fatalf("zero verdict must continue")
	}
	if v := Shrink(-3); v.Kind() != KindShrink || v.ShrinkBy() != 0 {
		t.Fatalf("negative shrink: %s", v)
	}
	if v := Replace([]byte{1}); v.Kind() != KindReplace || len(v.Payload()) != 1 {
		t.Fatalf("replace: %s", v)
	}
	if CancelFrame().String() != "cancel_frame" || AbortCall().String() != "abort_call" {
		t.Fatalf("unexpected verdict names")
	}
}

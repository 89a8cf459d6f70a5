package dispatch

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/duelwire/internal/protocol/handler"
	"github.com/danmuck/duelwire/internal/protocol/proto"
	"github.com/danmuck/duelwire/internal/protocol/schema"
	"github.com/danmuck/duelwire/internal/testutil/fixture"
	"github.com/danmuck/duelwire/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, opts ...Option) (*Dispatcher, *handler.Registry) {
	t.Helper()
	c := fixture.Catalog(t)
	r := handler.NewRegistry(c.Protos())
	return New(c, r, opts...), r
}

func mustRegister(t *testing.T, r *handler.Registry, qualified string, priority int, fn handler.Func) {
	t.Helper()
	require.NoError(t, r.Register(qualified, fn, true, priority))
}

func chat(text string) []byte {
	return fixture.Frame(fixture.CTOSChat, []byte(text)...)
}

func TestPassThroughIsByteIdentical(t *testing.T) {
	testlog.Start(t)
	d, _ := newTestDispatcher(t)
	f1 := fixture.Frame(fixture.STOCChat, 'h', 'i')
	f2 := fixture.Frame(fixture.STOCTypeChange, 0x11)
	f3 := fixture.Frame(fixture.STOCGameMsg)
	buf := fixture.Concat(f1, f2, f3)

	res := d.Process(Request{Buffer: buf, Direction: proto.STOC})
	require.Nil(t, res.Feedback)
	require.Len(t, res.Frames, 3)
	assert.Equal(t, f1, res.Frames[0])
	assert.Equal(t, f2, res.Frames[1])
	assert.Equal(t, f3, res.Frames[2])
	assert.Equal(t, len(buf), res.Consumed)

	buf[3] = 'X'
	assert.Equal(t, byte('h'), res.Frames[0][3], "frames must not alias the buffer")
}

func TestPriorityOrdering(t *testing.T) {
	testlog.Start(t)
	d, r := newTestDispatcher(t)
	var order []int
	for _, p := range []int{2, 0, 1} {
		p := p
		mustRegister(t, r, "CTOS_CHAT", p, func(handler.Input) handler.Verdict {
			order = append(order, p)
			return handler.Continue()
		})
	}
	res := d.Process(Request{Buffer: chat("x"), Direction: proto.CTOS})
	require.Len(t, res.Frames, 1)
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestTierFourIsNeverVisited(t *testing.T) {
	testlog.Start(t)
	d, r := newTestDispatcher(t)
	mustRegister(t, r, "CTOS_CHAT", 4, func(handler.Input) handler.Verdict {
		t.Errorf("tier 4 handler ran")
		return handler.CancelFrame()
	})
	res := d.Process(Request{Buffer: chat("x"), Direction: proto.CTOS})
	assert.Len(t, res.Frames, 1)
}

func TestCancelFrameIsScoped(t *testing.T) {
	testlog.Start(t)
	d, r := newTestDispatcher(t)
	later := 0
	mustRegister(t, r, "CTOS_CHAT", 0, func(in handler.Input) handler.Verdict {
		if string(in.Payload) == "bad" {
			return handler.CancelFrame()
		}
		return handler.Continue()
	})
	mustRegister(t, r, "CTOS_CHAT", 1, func(in handler.Input) handler.Verdict {
		if string(in.Payload) == "bad" {
			later++
		}
		return handler.Continue()
	})

	buf := fixture.Concat(chat("one"), chat("bad"), chat("two"))
	res := d.Process(Request{Buffer: buf, Direction: proto.CTOS})
	require.Nil(t, res.Feedback)
	require.Len(t, res.Frames, 2)
	assert.Equal(t, chat("one"), res.Frames[0])
	assert.Equal(t, chat("two"), res.Frames[1])
	assert.Zero(t, later, "cancelled frame must stop its handler chain")
	assert.Equal(t, len(buf), res.Consumed)
}

func TestAbortCallDropsEverything(t *testing.T) {
	testlog.Start(t)
	d, r := newTestDispatcher(t)
	seen := 0
	mustRegister(t, r, "CTOS_CHAT", 0, func(in handler.Input) handler.Verdict {
		seen++
		if string(in.Payload) == "2" {
			return handler.AbortCall()
		}
		return handler.Continue()
	})
	buf := fixture.Concat(chat("1"), chat("2"), chat("3"))
	res := d.Process(Request{Buffer: buf, Direction: proto.CTOS})
	assert.Empty(t, res.Frames)
	assert.Nil(t, res.Feedback)
	assert.Equal(t, 2, seen, "frame 3 must not be processed")
	assert.Equal(t, len(buf), res.Consumed)
}

func TestShrinkOverflowActsAsCancel(t *testing.T) {
	testlog.Start(t)
	d, r := newTestDispatcher(t)
	mustRegister(t, r, "CTOS_CHAT", 0, func(in handler.Input) handler.Verdict {
		if len(in.Payload) == 10 {
			return handler.Shrink(999)
		}
		return handler.Continue()
	})
	buf := fixture.Concat(chat("0123456789"), chat("ok"))
	res := d.Process(Request{Buffer: buf, Direction: proto.CTOS})
	require.Nil(t, res.Feedback)
	require.Len(t, res.Frames, 1)
	assert.Equal(t, chat("ok"), res.Frames[0])
}

func TestShrinkRewritesLength(t *testing.T) {
	testlog.Start(t)
	d, r := newTestDispatcher(t)
	mustRegister(t, r, "CTOS_CHAT", 0, func(handler.Input) handler.Verdict {
		return handler.Shrink(3)
	})
	res := d.Process(Request{Buffer: chat("hello"), Direction: proto.CTOS})
	require.Len(t, res.Frames, 1)
	assert.Equal(t, chat("he"), res.Frames[0])
}

func TestReplaceContinuesChain(t *testing.T) {
	testlog.Start(t)
	d, r := newTestDispatcher(t)
	var second []byte
	var secondRec schema.Record
	mustRegister(t, r, "STOC_HAND_RESULT", 0, func(in handler.Input) handler.Verdict {
		assert.Equal(t, uint8(1), in.Record["res1"])
		return handler.Replace([]byte{3, 2, 0xAA})
	})
	mustRegister(t, r, "STOC_HAND_RESULT", 0, func(in handler.Input) handler.Verdict {
		second = append([]byte(nil), in.Payload...)
		secondRec = in.Record
		return handler.Continue()
	})
	res := d.Process(Request{Buffer: fixture.Frame(fixture.STOCHandResult, 1, 2), Direction: proto.STOC})
	require.Len(t, res.Frames, 1)
	assert.Equal(t, []byte{3, 2, 0xAA}, second)
	assert.Equal(t, uint8(3), secondRec["res1"])
	assert.Equal(t, fixture.Frame(fixture.STOCHandResult, 3, 2, 0xAA), res.Frames[0])
}

func TestShortPayloadGivesNilRecord(t *testing.T) {
	testlog.Start(t)
	d, r := newTestDispatcher(t)
	called := false
	mustRegister(t, r, "STOC_ERROR_MSG", 0, func(in handler.Input) handler.Verdict {
		called = true
		assert.Nil(t, in.Record)
		return handler.Continue()
	})
	res := d.Process(Request{Buffer: fixture.Frame(fixture.STOCErrorMsg, 1), Direction: proto.STOC})
	assert.True(t, called)
	assert.Len(t, res.Frames, 1)
}

func TestHandlersSeeAcceptedFramesAndParams(t *testing.T) {
	testlog.Start(t)
	d, r := newTestDispatcher(t)
	type session struct{ name string }
	params := &session{name: "p1"}
	var counts []int
	mustRegister(t, r, "CTOS_CHAT", 0, func(in handler.Input) handler.Verdict {
		counts = append(counts, len(in.Accepted))
		assert.Same(t, params, in.Params)
		return handler.Continue()
	})
	d.Process(Request{Buffer: fixture.Concat(chat("a"), chat("b"), chat("c")), Direction: proto.CTOS, Params: params})
	assert.Equal(t, []int{0, 1, 2}, counts)
}

func TestAsyncHandlerCannotInfluenceOutcome(t *testing.T) {
	testlog.Start(t)
	d, r := newTestDispatcher(t)
	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, r.Register("CTOS_CHAT", func(in handler.Input) handler.Verdict {
		defer wg.Done()
		in.Payload[0] = 'Z'
		return handler.AbortCall()
	}, false, 0))

	res := d.Process(Request{Buffer: chat("keep"), Direction: proto.CTOS})
	wg.Wait()
	require.Len(t, res.Frames, 1)
	assert.Equal(t, chat("keep"), res.Frames[0])
}

func TestTruncationFeedback(t *testing.T) {
	testlog.Start(t)
	d, _ := newTestDispatcher(t)
	full := chat("ok")

	cases := []struct {
		name   string
		buf    []byte
		kind   FeedbackKind
		frames int
	}{
		{"one byte", []byte{0x05}, BufferLength, 0},
		{"length only", []byte{0x05, 0x00}, ProtoLength, 0},
		{"short payload", []byte{0x05, 0x00, fixture.CTOSChat, 'a'}, MessageLength, 0},
		{"tail after frame", append(append([]byte(nil), full...), 0x05), BufferLength, 1},
		{"zero length", []byte{0x00, 0x00, 0x01}, MessageLength, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := d.Process(Request{Buffer: tc.buf, Direction: proto.CTOS})
			require.NotNil(t, res.Feedback)
			assert.Equal(t, tc.kind, res.Feedback.Kind)
			assert.Len(t, res.Frames, tc.frames)
			assert.Equal(t, tc.frames*len(full), res.Consumed)
		})
	}

	res := d.Process(Request{Buffer: nil, Direction: proto.CTOS})
	assert.Nil(t, res.Feedback)
	assert.Empty(t, res.Frames)

	res = d.Process(Request{Buffer: []byte{0x05}, Direction: proto.STOC})
	require.NotNil(t, res.Feedback)
	assert.Equal(t, "Bad STOC buffer length", res.Feedback.Message)
}

func TestLegacyClientLengthSuppressed(t *testing.T) {
	testlog.Start(t)
	d, _ := newTestDispatcher(t)
	get := []byte("GET / HTTP/1.1\r\n")

	res := d.Process(Request{Buffer: get, Direction: proto.CTOS})
	assert.Nil(t, res.Feedback)
	assert.Empty(t, res.Frames)

	res = d.Process(Request{Buffer: get, Direction: proto.STOC})
	require.NotNil(t, res.Feedback)
	assert.Equal(t, MessageLength, res.Feedback.Kind)

	// Only the exact value is exempt.
	res = d.Process(Request{Buffer: []byte{0x48, 0x45, 0x01, 0x02}, Direction: proto.CTOS})
	require.NotNil(t, res.Feedback)
	assert.Equal(t, MessageLength, res.Feedback.Kind)
}

func TestOversizeKeepsFramesUpToCeiling(t *testing.T) {
	testlog.Start(t)
	d, _ := newTestDispatcher(t, WithLimit(9))
	f := chat("x")

	res := d.Process(Request{Buffer: fixture.Concat(f, f, f, f), Direction: proto.CTOS})
	require.NotNil(t, res.Feedback)
	assert.Equal(t, Oversize, res.Feedback.Kind)
	assert.Equal(t, "Oversized CTOS 9", res.Feedback.Message)
	assert.Len(t, res.Frames, 3)
	assert.Equal(t, 3*len(f), res.Consumed)

	res = d.Process(Request{Buffer: fixture.Concat(f, f, f), Direction: proto.CTOS})
	assert.Nil(t, res.Feedback, "a drained buffer is not oversized")
	assert.Len(t, res.Frames, 3)
}

func TestDefaultLimit(t *testing.T) {
	testlog.Start(t)
	d, _ := newTestDispatcher(t)
	require.Equal(t, DefaultLimit, d.Limit())
	f := fixture.Frame(fixture.STOCGameMsg, 1)
	buf := bytes.Repeat(f, DefaultLimit/3+1)
	res := d.Process(Request{Buffer: buf, Direction: proto.STOC})
	require.NotNil(t, res.Feedback)
	assert.Equal(t, Oversize, res.Feedback.Kind)
	assert.Len(t, res.Frames, DefaultLimit/3)
}

func TestLimitBelowOneFrameIsRaised(t *testing.T) {
	testlog.Start(t)
	for _, n := range []int{1, 2} {
		d, _ := newTestDispatcher(t, WithLimit(n))
		require.Equal(t, MinLimit, d.Limit())
		f := fixture.Frame(fixture.STOCChat, 'o', 'k')
		res := d.Process(Request{Buffer: f, Direction: proto.STOC})
		require.Nil(t, res.Feedback)
		assert.Equal(t, [][]byte{f}, res.Frames)
	}
}

func TestPreconnectRejectsUnlistedCommand(t *testing.T) {
	testlog.Start(t)
	d, r := newTestDispatcher(t)
	mustRegister(t, r, "CTOS_CHAT", 0, func(handler.Input) handler.Verdict {
		t.Errorf("handler ran for a rejected frame")
		return handler.Continue()
	})
	info := fixture.Frame(fixture.CTOSPlayerInfo, make([]byte, 40)...)
	filter := []string{"PLAYER_INFO", "JOIN_GAME"}

	res := d.Process(Request{Buffer: fixture.Concat(chat("hi"), info), Direction: proto.CTOS, Filter: filter, Preconnect: true})
	require.NotNil(t, res.Feedback)
	assert.Equal(t, InvalidPacket, res.Feedback.Kind)
	assert.Equal(t, "CTOS proto not allowed", res.Feedback.Message)
	assert.Empty(t, res.Frames)

	res = d.Process(Request{Buffer: fixture.Concat(info, chat("hi")), Direction: proto.CTOS, Filter: filter, Preconnect: true})
	require.NotNil(t, res.Feedback)
	assert.Equal(t, InvalidPacket, res.Feedback.Kind)
	assert.Empty(t, res.Frames, "accepted frames are discarded too")

	res = d.Process(Request{Buffer: fixture.Frame(0xEE), Direction: proto.CTOS, Filter: filter, Preconnect: true})
	require.NotNil(t, res.Feedback)
	assert.Equal(t, InvalidPacket, res.Feedback.Kind)
}

func TestPreconnectCeilingFollowsFilter(t *testing.T) {
	testlog.Start(t)
	d, _ := newTestDispatcher(t)
	info := fixture.Frame(fixture.CTOSPlayerInfo, make([]byte, 40)...)

	res := d.Process(Request{Buffer: fixture.Concat(info, info), Direction: proto.CTOS, Filter: []string{"PLAYER_INFO"}, Preconnect: true})
	require.NotNil(t, res.Feedback)
	assert.Equal(t, Oversize, res.Feedback.Kind)
	assert.Len(t, res.Frames, 1)
}

func TestFilterDropsSilentlyOutsidePreconnect(t *testing.T) {
	testlog.Start(t)
	d, _ := newTestDispatcher(t)
	hand := fixture.Frame(fixture.CTOSHandResult, 2)
	buf := fixture.Concat(chat("a"), hand, fixture.Frame(0xEE, 1), chat("b"))

	res := d.Process(Request{Buffer: buf, Direction: proto.CTOS, Filter: []string{"HAND_RESULT"}})
	require.Nil(t, res.Feedback)
	require.Len(t, res.Frames, 1)
	assert.Equal(t, hand, res.Frames[0])
	assert.Equal(t, len(buf), res.Consumed)

	res = d.Process(Request{Buffer: fixture.Frame(0xEE, 1), Direction: proto.CTOS})
	assert.Len(t, res.Frames, 1, "unknown ids pass when no filter is set")
}

type countingObserver struct {
	mu       sync.Mutex
	frames   map[Outcome]int
	verdicts map[handler.Kind]int
	feedback map[FeedbackKind]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{
		frames:   map[Outcome]int{},
		verdicts: map[handler.Kind]int{},
		feedback: map[FeedbackKind]int{},
	}
}

func (o *countingObserver) ObserveFrame(_ proto.Direction, _ string, outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames[outcome]++
}

func (o *countingObserver) ObserveVerdict(_ proto.Direction, _ string, kind handler.Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.verdicts[kind]++
}

func (o *countingObserver) ObserveFeedback(_ proto.Direction, kind FeedbackKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.feedback[kind]++
}

func TestObserverSeesOutcomes(t *testing.T) {
	testlog.Start(t)
	obs := newCountingObserver()
	d, r := newTestDispatcher(t, WithObserver(obs))
	mustRegister(t, r, "CTOS_CHAT", 0, func(in handler.Input) handler.Verdict {
		switch string(in.Payload) {
		case "drop":
			return handler.CancelFrame()
		case "edit":
			return handler.Replace([]byte("EDIT"))
		}
		return handler.Continue()
	})
	buf := fixture.Concat(chat("keep"), chat("drop"), chat("edit"), []byte{0x09})
	res := d.Process(Request{Buffer: buf, Direction: proto.CTOS})
	require.Len(t, res.Frames, 2)
	assert.Equal(t, chat("EDIT"), res.Frames[1])

	assert.Equal(t, 1, obs.frames[Forwarded])
	assert.Equal(t, 1, obs.frames[Cancelled])
	assert.Equal(t, 1, obs.frames[Mutated])
	assert.Equal(t, 1, obs.verdicts[handler.KindReplace])
	assert.Equal(t, 1, obs.feedback[BufferLength])
}

func TestAsyncHandlerRunsEventually(t *testing.T) {
	testlog.Start(t)
	d, r := newTestDispatcher(t)
	got := make(chan []byte, 1)
	require.NoError(t, r.Register("STOC_CHAT", func(in handler.Input) handler.Verdict {
		got <- in.Payload
		return handler.Continue()
	}, false, 3))
	buf := fixture.Frame(fixture.STOCChat, 'y', 'o')
	d.Process(Request{Buffer: buf, Direction: proto.STOC})
	buf[3] = 0
	select {
	case p := <-got:
		assert.Equal(t, []byte("yo"), p)
	case <-time.After(time.Second):
		t.Fatalf("async handler never ran")
	}
}

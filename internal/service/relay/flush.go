package relay

import (
	"strings"
	"time"
	"unicode/utf8"

	relaymodel "github.com/zhouzirui/voice-relay/backend/internal/model/relay"
)

// FlushPolicy holds the two flush triggers.
type FlushPolicy struct {
	// Threshold is the accumulated length, in characters, that flushes immediately.
	Threshold int
	// Delay is the idle time after the last delta before a partial flush.
	Delay time.Duration
}

// DefaultFlushPolicy matches the relay.flush_* config defaults.
func DefaultFlushPolicy() FlushPolicy {
	return FlushPolicy{Threshold: 50, Delay: 100 * time.Millisecond}
}

// Timer is a cancellable deferred callback. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// ScheduleFunc runs fire after d.
type ScheduleFunc func(d time.Duration, fire func()) Timer

func afterFunc(d time.Duration, fire func()) Timer {
	return time.AfterFunc(d, fire)
}

// FlushController accumulates transcript deltas and cuts them into spans.
//
// It is not safe for concurrent use; the owning session calls it from its
// event loop only. Idle timers do not flush directly: they report their token
// through due, and the owner calls Fire with it. A token that is no longer the
// armed one is ignored, so a timer that fires after being cancelled is a no-op.
type FlushController struct {
	policy   FlushPolicy
	schedule ScheduleFunc
	due      func(token uint64)

	buf   strings.Builder
	runes int
	seq   uint64

	armed     uint64
	lastToken uint64
	timer     Timer
}

// NewFlushController returns a controller that reports idle expiry via due.
func NewFlushController(policy FlushPolicy, schedule ScheduleFunc, due func(token uint64)) *FlushController {
	if policy.Threshold <= 0 || policy.Delay <= 0 {
		def := DefaultFlushPolicy()
		if policy.Threshold <= 0 {
			policy.Threshold = def.Threshold
		}
		if policy.Delay <= 0 {
			policy.Delay = def.Delay
		}
	}
	if schedule == nil {
		schedule = afterFunc
	}
	return &FlushController{policy: policy, schedule: schedule, due: due}
}

// Append adds a delta. It returns a span when the size trigger fires;
// otherwise it (re)arms the idle timer.
func (f *FlushController) Append(delta string) (relaymodel.TranscriptSpan, bool) {
	if delta == "" {
		return relaymodel.TranscriptSpan{}, false
	}
	f.buf.WriteString(delta)
	f.runes += utf8.RuneCountInString(delta)

	if f.runes >= f.policy.Threshold {
		f.cancel()
		return f.take()
	}

	f.arm()
	return relaymodel.TranscriptSpan{}, false
}

// Fire handles an idle timer expiry for token.
func (f *FlushController) Fire(token uint64) (relaymodel.TranscriptSpan, bool) {
	if token == 0 || token != f.armed {
		return relaymodel.TranscriptSpan{}, false
	}
	f.armed = 0
	f.timer = nil
	return f.take()
}

// Flush cuts whatever is buffered regardless of both triggers.
func (f *FlushController) Flush() (relaymodel.TranscriptSpan, bool) {
	f.cancel()
	return f.take()
}

// Discard drops buffered text and any armed timer.
func (f *FlushController) Discard() {
	f.cancel()
	f.buf.Reset()
	f.runes = 0
}

// Pending reports whether an idle timer is armed.
func (f *FlushController) Pending() bool {
	return f.armed != 0
}

// Buffered returns the text not yet flushed.
func (f *FlushController) Buffered() string {
	return f.buf.String()
}

func (f *FlushController) arm() {
	f.cancel()
	f.lastToken++
	token := f.lastToken
	f.armed = token
	f.timer = f.schedule(f.policy.Delay, func() {
		if f.due != nil {
			f.due(token)
		}
	})
}

func (f *FlushController) cancel() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.armed = 0
}

// take empties the buffer. Whitespace-only text is dropped rather than
// emitted, so no span is ever blank.
func (f *FlushController) take() (relaymodel.TranscriptSpan, bool) {
	text := f.buf.String()
	f.buf.Reset()
	f.runes = 0
	if strings.TrimSpace(text) == "" {
		return relaymodel.TranscriptSpan{}, false
	}
	f.seq++
	return relaymodel.TranscriptSpan{Seq: f.seq, Text: text}, true
}

package relay

import (
	relaymodel "github.com/zhouzirui/voice-relay/backend/internal/model/relay"
	"github.com/zhouzirui/voice-relay/backend/internal/service/realtime"
)

// event is anything posted to a session mailbox.
type event interface {
	isEvent()
}

type clientFrameEvent struct {
	raw []byte
}

type clientClosedEvent struct {
	reason string
}

type conversationOpenedEvent struct {
	link ConversationLink
	err  error
}

type conversationEvent struct {
	link ConversationLink
	ev   realtime.Event
}

type conversationClosedEvent struct {
	link ConversationLink
	err  error
}

type speechOpenedEvent struct {
	link SpeechLink
	err  error
}

type speechChunkEvent struct {
	link  SpeechLink
	chunk relaymodel.AudioChunk
}

type speechFinalEvent struct {
	link SpeechLink
}

type speechClosedEvent struct {
	link SpeechLink
	err  error
}

type flushDueEvent struct {
	token uint64
}

type graceExpiredEvent struct{}

func (clientFrameEvent) isEvent()        {}
func (clientClosedEvent) isEvent()       {}
func (conversationOpenedEvent) isEvent() {}
func (conversationEvent) isEvent()       {}
func (conversationClosedEvent) isEvent() {}
func (speechOpenedEvent) isEvent()       {}
func (speechChunkEvent) isEvent()        {}
func (speechFinalEvent) isEvent()        {}
func (speechClosedEvent) isEvent()       {}
func (flushDueEvent) isEvent()           {}
func (graceExpiredEvent) isEvent()       {}

// release closes any link carried by an event that will never be handled.
func release(ev event) {
	switch e := ev.(type) {
	case conversationOpenedEvent:
		if e.link != nil {
			_ = e.link.Close()
		}
	case speechOpenedEvent:
		if e.link != nil {
			_ = e.link.Close()
		}
	}
}

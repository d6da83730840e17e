package relay

// TranscriptSpan is a flushed piece of reply text handed to speech synthesis.
// Seq increases by one per span within a session.
type TranscriptSpan struct {
	Seq  uint64
	Text string
}

// AudioChunk is an opaque piece of synthesized audio.
type AudioChunk struct {
	Data   []byte
	Source string
	Final  bool
}

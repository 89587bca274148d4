// Package models defines the data structures exchanged between the channel
// pipeline and the outside world: result records, outbound events and
// inbound commands.
package models

// Event types carried in the eventType field of every outbound event.
const (
	EventTranscriptInterim = "transcript.result.interim"
	EventTranscriptFinal   = "transcript.result.final"
	EventChannelState      = "channel.state"
	EventAudioExtracted    = "transcript.audio.extracted"
)

// Alternative is one recognition hypothesis.
type Alternative struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// WordTiming places a recognized word on the recognition stream timeline.
// Offsets are seconds from the start of the recognition connection.
type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// ResultRecord is the uniform result emitted by a transcription session.
// It is immutable once constructed.
type ResultRecord struct {
	ChannelIndex         int
	SessionToken         string
	Final                bool
	Text                 string
	Alternatives         []Alternative
	Words                []WordTiming
	TotalDurationSeconds float64

	// AudioStart and AudioEnd are the absolute ring offsets covered by
	// Words, set only when every word could be mapped to captured audio.
	AudioStart int64
	AudioEnd   int64
	HasAudio   bool
	// WordOffsets holds the ring offset where each word starts, -1 for
	// words that could not be mapped.
	WordOffsets []int64

	SpeechStartedAt int64 // unix millis, 0 when unknown
	ReceivedAt      int64 // unix millis
}

// TranscriptEvent is published for every interim (when enabled) and final
// result.
type TranscriptEvent struct {
	EventType            string        `json:"eventType"`
	WorkerID             string        `json:"workerId"`
	ChannelIndex         int           `json:"channelIndex"`
	ChannelName          string        `json:"channelName"`
	Final                bool          `json:"final"`
	Text                 string        `json:"text"`
	Confidence           float64       `json:"confidence,omitempty"`
	Alternatives         []Alternative `json:"alternatives,omitempty"`
	Words                []WordTiming  `json:"words,omitempty"`
	TotalDurationSeconds float64       `json:"totalDurationSeconds,omitempty"`
	Speaker              string        `json:"speaker,omitempty"`
	SessionToken         string        `json:"sessionToken"`
	Timestamp            int64         `json:"timestamp"`
}

// AudioExtractionEvent carries the raw PCM slice for a final transcript.
type AudioExtractionEvent struct {
	EventType    string       `json:"eventType"`
	WorkerID     string       `json:"workerId"`
	ChannelIndex int          `json:"channelIndex"`
	Text         string       `json:"text"`
	Words        []WordTiming `json:"words,omitempty"`
	SampleRateHz int          `json:"sampleRateHz"`
	PCM          []byte       `json:"pcm"`
	Timestamp    int64        `json:"timestamp"`
}

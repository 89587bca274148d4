package models

// ChannelSnapshot is a point-in-time copy of a channel's configuration and
// runtime state.
type ChannelSnapshot struct {
	Index           int    `json:"idx"`
	Device          string `json:"device"`
	Driver          string `json:"driver"`
	Field           string `json:"field"`
	Language        string `json:"language"`
	Model           string `json:"model"`
	LanguageModel   string `json:"languageModel,omitempty"`
	AcousticModel   string `json:"acousticModel,omitempty"`
	Paused          bool   `json:"paused"`
	Suppressed      bool   `json:"suppressed"`
	Speaker         string `json:"speaker,omitempty"`
	SpeakerExpiry   *int64 `json:"speakerExpiry,omitempty"`
	ExtractPending  bool   `json:"extractRequested"`
	LastMessageAt   *int64 `json:"lastMessageTimestamp,omitempty"`
	SpeechStartedAt *int64 `json:"speechStartTime,omitempty"`
	SessionState    string `json:"sessionState"`
	SessionToken    string `json:"sessionToken,omitempty"`
}

// ChannelStateEvent announces a change to a channel's configuration or
// runtime state.
type ChannelStateEvent struct {
	EventType string          `json:"eventType"`
	WorkerID  string          `json:"workerId"`
	Reason    string          `json:"reason"`
	Channel   ChannelSnapshot `json:"channel"`
	Timestamp int64           `json:"timestamp"`
}

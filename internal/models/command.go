package models

// Command types accepted by the dispatcher.
const (
	CmdSwitchLanguage      = "switch_language"
	CmdSwitchLanguageModel = "switch_language_model"
	CmdSwitchAcousticModel = "switch_acoustic_model"
	CmdPause               = "pause"
	CmdUnpause             = "unpause"
	CmdTagChannel          = "tag_channel"
	CmdExtractPitchtone    = "extract_pitchtone"
	CmdStopPublish         = "stop_publish"
	CmdStartPublish        = "start_publish"
	CmdRestartChannel      = "restart_channel"
	CmdSpeakerBegin        = "speaker_begin"
	CmdSpeakerEnd          = "speaker_end"
	CmdSetKeywords         = "set_keywords"
)

// Command is an inbound reconfiguration request. ChannelIdx is nil for
// commands addressed to every channel.
type Command struct {
	Type       string   `json:"type"`
	ChannelIdx *int     `json:"channel_idx,omitempty"`
	Language   string   `json:"language,omitempty"`
	Model      string   `json:"model,omitempty"`
	Speaker    string   `json:"speaker,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
}

// CommandResult reports how a command was applied.
type CommandResult struct {
	Type    string         `json:"type"`
	Applied []int          `json:"applied,omitempty"`
	Skipped map[int]string `json:"skipped,omitempty"`
}

// Package schema checks inbound commands for the fields their type
// requires before any state is touched.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"transcript-channel-worker/internal/models"
)

// Errors returned by Validate.
var (
	ErrUnknownCommand = errors.New("unknown command type")
	ErrMissingField   = errors.New("missing required field")
	ErrInvalidField   = errors.New("invalid field")
)

type rule struct {
	channel  bool // channel_idx required
	language bool
	model    bool
	keywords bool
}

var rules = map[string]rule{
	models.CmdSwitchLanguage:      {language: true},
	models.CmdSwitchLanguageModel: {model: true},
	models.CmdSwitchAcousticModel: {model: true},
	models.CmdPause:               {},
	models.CmdUnpause:             {},
	models.CmdTagChannel:          {channel: true},
	models.CmdExtractPitchtone:    {channel: true},
	models.CmdStopPublish:         {},
	models.CmdStartPublish:        {},
	models.CmdRestartChannel:      {},
	models.CmdSpeakerBegin:        {},
	models.CmdSpeakerEnd:          {},
	models.CmdSetKeywords:         {keywords: true},
}

// Validator validates commands against the command vocabulary.
type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate reports the first structural problem with cmd.
func (v *Validator) Validate(cmd models.Command) error {
	r, ok := rules[cmd.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
	if r.channel && cmd.ChannelIdx == nil {
		return fmt.Errorf("%w: channel_idx", ErrMissingField)
	}
	if cmd.ChannelIdx != nil && *cmd.ChannelIdx < 0 {
		return fmt.Errorf("%w: channel_idx %d", ErrInvalidField, *cmd.ChannelIdx)
	}
	if r.language && strings.TrimSpace(cmd.Language) == "" {
		return fmt.Errorf("%w: language", ErrMissingField)
	}
	if r.model && strings.TrimSpace(cmd.Model) == "" {
		return fmt.Errorf("%w: model", ErrMissingField)
	}
	if r.keywords && cmd.Keywords == nil {
		return fmt.Errorf("%w: keywords", ErrMissingField)
	}
	return nil
}

// Types returns every known command type, sorted.
func Types() []string {
	out := make([]string, 0, len(rules))
	for t := range rules {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

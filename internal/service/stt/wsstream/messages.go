package wsstream

import (
	"encoding/json"
	"fmt"
)

type startMessage struct {
	Action            string   `json:"action"`
	ContentType       string   `json:"content-type"`
	InterimResults    bool     `json:"interim_results"`
	Timestamps        bool     `json:"timestamps"`
	WordConfidence    bool     `json:"word_confidence"`
	MaxAlternatives   int      `json:"max_alternatives"`
	InactivityTimeout int      `json:"inactivity_timeout"`
	SmartFormatting   bool     `json:"smart_formatting"`
	Keywords          []string `json:"keywords,omitempty"`
	KeywordsThreshold float64  `json:"keywords_threshold,omitempty"`
}

type stopMessage struct {
	Action string `json:"action"`
}

type serverMessage struct {
	State   string       `json:"state,omitempty"`
	Error   string       `json:"error,omitempty"`
	Results []wireResult `json:"results,omitempty"`
}

type wireResult struct {
	Final        bool              `json:"final"`
	Alternatives []wireAlternative `json:"alternatives"`
}

type wireAlternative struct {
	Transcript string          `json:"transcript"`
	Confidence float64         `json:"confidence,omitempty"`
	Timestamps []wireTimestamp `json:"timestamps,omitempty"`
}

// wireTimestamp is encoded as a [word, start, end] triple.
type wireTimestamp struct {
	Word  string
	Start float64
	End   float64
}

func (t *wireTimestamp) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 3 {
		return fmt.Errorf("timestamp: expected 3 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &t.Word); err != nil {
		return fmt.Errorf("timestamp word: %w", err)
	}
	if err := json.Unmarshal(raw[1], &t.Start); err != nil {
		return fmt.Errorf("timestamp start: %w", err)
	}
	if err := json.Unmarshal(raw[2], &t.End); err != nil {
		return fmt.Errorf("timestamp end: %w", err)
	}
	return nil
}

func (t wireTimestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{t.Word, t.Start, t.End})
}

package cut

import (
	"encoding/json"
	"fmt"
)

// Supervision is a transcript segment attached to a cut.
type Supervision struct {
	ID          string                     `json:"id"`
	RecordingID string                     `json:"recording_id"`
	Start       float64                    `json:"start"`
	Duration    float64                    `json:"duration"`
	Channel     int                        `json:"channel"`
	Text        string                     `json:"text,omitempty"`
	Language    string                     `json:"language,omitempty"`
	Speaker     string                     `json:"speaker,omitempty"`
	Custom      map[string]json.RawMessage `json:"custom,omitempty"`
}

// End returns the supervision end relative to the cut start.
func (s Supervision) End() float64 {
	return s.Start + s.Duration
}

// AudioSource points to the audio payload of a recording.
type AudioSource struct {
	Type     string `json:"type"`
	Channels []int  `json:"channels"`
	Source   string `json:"source"`
}

// Recording describes the audio a cut was taken from.
type Recording struct {
	ID           string        `json:"id"`
	Sources      []AudioSource `json:"sources"`
	SamplingRate int           `json:"sampling_rate"`
	NumSamples   int64         `json:"num_samples"`
	Duration     float64       `json:"duration"`
	ChannelIDs   []int         `json:"channel_ids,omitempty"`
}

// Cut is a segment of a recording together with its supervisions and any
// precomputed custom fields (for example discrete speech tokens).
type Cut struct {
	ID           string                     `json:"id"`
	Start        float64                    `json:"start"`
	Duration     float64                    `json:"duration"`
	Channel      int                        `json:"channel"`
	Supervisions []Supervision              `json:"supervisions"`
	Recording    *Recording                 `json:"recording,omitempty"`
	Custom       map[string]json.RawMessage `json:"custom,omitempty"`
	Type         string                     `json:"type,omitempty"`
}

// HasCustom reports whether the cut carries the named custom field.
func (c Cut) HasCustom(name string) bool {
	_, ok := c.Custom[name]
	return ok
}

// DecodeCustom unmarshals the named custom field into v.
func (c Cut) DecodeCustom(name string, v any) error {
	raw, ok := c.Custom[name]
	if !ok {
		return fmt.Errorf("cut %s: missing custom field %q", c.ID, name)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("cut %s: decode custom field %q: %w", c.ID, name, err)
	}
	return nil
}

// TotalDuration sums the durations of cuts.
func TotalDuration(cuts []Cut) float64 {
	var total float64
	for _, c := range cuts {
		total += c.Duration
	}
	return total
}

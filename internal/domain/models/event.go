package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownEvent marks a well-formed payload whose type is not one we handle.
var ErrUnknownEvent = errors.New("unknown event type")

// ProgressEvent is one of Progress, Completed or Failed.
type ProgressEvent interface {
	progressEvent()
}

// Progress carries one human-readable log line.
type Progress struct {
	Message string
}

// Completed carries the final result.
type Completed struct {
	Result AnalysisResult
}

// Failed carries the backend's error text.
type Failed struct {
	Error string
}

func (Progress) progressEvent()  {}
func (Completed) progressEvent() {}
func (Failed) progressEvent()    {}

type wireEvent struct {
	Type    string         `json:"type"`
	Message *string        `json:"message"`
	Result  AnalysisResult `json:"result"`
	Error   string         `json:"error"`
}

// ParseProgressEvent decodes one push-channel payload. Malformed JSON and
// unknown types both return an error; callers log and drop them.
func ParseProgressEvent(b []byte) (ProgressEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	switch w.Type {
	case "progress":
		if w.Message == nil {
			return nil, fmt.Errorf("progress event without message")
		}
		return Progress{Message: *w.Message}, nil
	case "completed":
		return Completed{Result: w.Result}, nil
	case "failed":
		return Failed{Error: w.Error}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, w.Type)
	}
}

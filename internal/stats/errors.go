package stats

import "errors"

var (
	// ErrUnknownStimulus is returned when a stimulus has no mapping row and
	// strict mapping is enabled.
	ErrUnknownStimulus = errors.New("stimulus not in mapping")
	// ErrInvalidResolution is returned for non-positive bin widths.
	ErrInvalidResolution = errors.New("bin resolution must be positive")
	// ErrInvalidHoldGap is returned for negative hold gaps.
	ErrInvalidHoldGap = errors.New("hold gap must not be negative")
	// ErrNoMatchingRows is returned when a filter selects no stimuli.
	ErrNoMatchingRows = errors.New("no stimuli match filter")
)

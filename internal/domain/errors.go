package domain

import "errors"

// Sentinel errors shared by the engine, store and chat layers. Handlers
// translate these into user-facing prompts; anything else is treated as an
// internal failure and logged.
var (
	ErrNoTimezone       = errors.New("timezone not selected")
	ErrBadTimezone      = errors.New("invalid timezone")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyProcessed = errors.New("reminder already processed")
	ErrEmptyTitle       = errors.New("empty topic title")
	ErrTitleTooLong     = errors.New("topic title too long")
	ErrTopicPaused      = errors.New("topic is paused")
	ErrCurveExhausted   = errors.New("repetition curve exhausted")
)

package session

import "errors"

var (
	// ErrBusy is returned when a turn is requested while a stream is open.
	ErrBusy = errors.New("session busy: stop the current response first")
	// ErrEmptyText is returned for blank user input.
	ErrEmptyText = errors.New("message text is empty")
	// ErrMessageNotFound is returned when an edit targets an unknown message.
	ErrMessageNotFound = errors.New("message not found")
	// ErrNotUserMessage is returned when an edit targets a non-user message.
	ErrNotUserMessage = errors.New("only user messages can be edited")
	// ErrNothingToRegenerate is returned when history has no user turn.
	ErrNothingToRegenerate = errors.New("no user message to regenerate")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")
	// ErrNoModel is returned when the configuration names no model.
	ErrNoModel = errors.New("model is required")
	// ErrNoStreamer is returned when no completion streamer is provided.
	ErrNoStreamer = errors.New("streamer is required")
)

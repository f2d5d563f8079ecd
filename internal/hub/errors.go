package hub

import "errors"

var (
	ErrHubAlreadyRunning  = errors.New("hub is already running")
	ErrHubNotRunning      = errors.New("hub is not running")
	ErrMessageChannelFull = errors.New("message channel is full")
	ErrRateLimited        = errors.New("rate limit exceeded, slow down")
	ErrEmptyMessage       = errors.New("message content is empty")
)

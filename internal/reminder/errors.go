package reminder

import "errors"

var (
	ErrSchedulerAlreadyRunning = errors.New("reminder scheduler is already running")
	ErrSchedulerNotRunning     = errors.New("reminder scheduler is not running")
	ErrTickInProgress          = errors.New("reminder tick already in progress")
)

package launcher

import "errors"

var (
	// ErrStartFailed indicates a desktop server or proxy process could not be started
	ErrStartFailed = errors.New("process start failed")
	// ErrPortNotReady indicates a port did not accept connections within the probe timeout
	ErrPortNotReady = errors.New("port not ready")
	// ErrCredential indicates the per session credential file could not be provisioned
	ErrCredential = errors.New("credential provisioning failed")
	// ErrUnknownProcess is returned by Stop for a handle the launcher did not create
	ErrUnknownProcess = errors.New("unknown process handle")
)

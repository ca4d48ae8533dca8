// internal/provision/errors.go
package provision

import "errors"

var (
	// ErrSessionNotFound is returned when a resume or cancel targets a
	// session id that does not exist (never created, already finished,
	// expired, or canceled).
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionBusy is returned when a resume call arrives while another
	// call is already driving the same session's browser.
	ErrSessionBusy = errors.New("session busy")

	// ErrBrowserDisconnected classifies a browser handle that lost
	// connectivity mid-workflow. Terminal.
	ErrBrowserDisconnected = errors.New("browser disconnected")

	// ErrAddressUndetectable is returned by the finalizer when the final
	// page location matches none of the known address shapes. Terminal.
	ErrAddressUndetectable = errors.New("store address undetectable")
)

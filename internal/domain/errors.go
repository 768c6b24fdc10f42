package domain

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyText          = errors.New("text must not be empty")
	ErrEmptyURL           = errors.New("url must not be empty")
	ErrInvalidVolume      = errors.New("volume must be an integer between 0 and 100")
	ErrMissingCredentials = errors.New("userId and password or passToken are required")
	ErrNotReady           = errors.New("speaker is not initialized")
	ErrFalsyResult        = errors.New("vendor returned an empty result")
)

type ConfigError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := "invalid config"
	if e.Field != "" {
		msg += " " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

type CommandFormatError struct {
	Value any
}

func (e *CommandFormatError) Error() string {
	return fmt.Sprintf("invalid action command %v: want [siid, aiid] as non-negative integers", e.Value)
}

type VendorInitError struct {
	DID string
	Err error
}

func (e *VendorInitError) Error() string {
	if e.DID == "" {
		return fmt.Sprintf("initializing speaker session: %v", e.Err)
	}
	return fmt.Sprintf("initializing speaker session for %s: %v", e.DID, e.Err)
}

func (e *VendorInitError) Unwrap() error { return e.Err }

type VendorCallError struct {
	Op  string
	Err error
}

func (e *VendorCallError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *VendorCallError) Unwrap() error { return e.Err }

// DualPathTTSError reports that both the command path and the default path
// failed in auto mode.
type DualPathTTSError struct {
	CommandErr error
	DefaultErr error
}

func (e *DualPathTTSError) Error() string {
	return fmt.Sprintf("tts failed on both paths: command path: %v; default path: %v", e.CommandErr, e.DefaultErr)
}

func (e *DualPathTTSError) Unwrap() []error {
	return []error{e.CommandErr, e.DefaultErr}
}

// IsInputError reports whether err was caused by caller input rather than the
// vendor or the environment.
func IsInputError(err error) bool {
	var fmtErr *CommandFormatError
	return errors.As(err, &fmtErr) ||
		errors.Is(err, ErrEmptyText) ||
		errors.Is(err, ErrEmptyURL) ||
		errors.Is(err, ErrInvalidVolume)
}

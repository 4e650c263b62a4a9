// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by sends while the channel is not Connected.
	// Nothing is queued; the caller retries after reconnection.
	ErrNotConnected = errors.New("session: not connected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: closed")

	// ErrEmptyMessage is returned for blank user text.
	ErrEmptyMessage = errors.New("session: empty message")

	// ErrAlreadyOpen is returned by Open on a channel that is already in use.
	ErrAlreadyOpen = errors.New("session: channel already open")
)

// ConnectivityError is the terminal failure reported once the reconnect
// attempts are exhausted. The channel stays Disconnected until Reconnect.
type ConnectivityError struct {
	Attempts int
	Code     int
	Err      error
}

func (e *ConnectivityError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection lost after %d reconnect attempts (close code %d)", e.Attempts, e.Code)
	}
	return fmt.Sprintf("connection lost after %d reconnect attempts (close code %d): %v", e.Attempts, e.Code, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

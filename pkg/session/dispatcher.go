// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"errors"
	"log/slog"
	"runtime/debug"

	"github.com/AleutianAI/ragchat/pkg/protocol"
)

// Handler receives validated inbound frames, one method per kind.
type Handler interface {
	HandleReady(f *protocol.Ready)
	HandleStreamDelta(f *protocol.StreamDelta)
	HandleThinking(f *protocol.Thinking)
	HandleFinal(f *protocol.Final)
	HandleAppError(f *protocol.AppError)
	HandleProtocolError(f *protocol.ProtocolError)
}

// Dispatcher parses inbound frames and routes each to exactly one Handler
// method.
//
// # Description
//
// Nothing escapes Dispatch. Malformed frames, unknown kinds and frames
// failing validation are logged and dropped; a panicking handler is
// recovered and logged. The channel is never closed from here.
//
// # Thread Safety
//
// Dispatch calls the handler on the caller's goroutine. Safe for concurrent
// use only if the handler is.
type Dispatcher struct {
	handler Handler
	logger  *slog.Logger
	metrics *Metrics
}

// NewDispatcher creates a dispatcher for handler.
func NewDispatcher(handler Handler, logger *slog.Logger, metrics *Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handler: handler,
		logger:  logger.With("component", "dispatcher"),
		metrics: metrics,
	}
}

// Dispatch handles one raw frame.
func (d *Dispatcher) Dispatch(raw []byte) {
	frame, err := protocol.Decode(raw)
	if err != nil {
		d.drop(raw, err)
		return
	}

	kind := frame.Kind()
	d.metrics.frame(kind.String())
	defer d.recoverHandler(kind)

	switch f := frame.(type) {
	case *protocol.Ready:
		d.handler.HandleReady(f)
	case *protocol.StreamDelta:
		d.handler.HandleStreamDelta(f)
	case *protocol.Thinking:
		d.handler.HandleThinking(f)
	case *protocol.Final:
		d.handler.HandleFinal(f)
	case *protocol.AppError:
		d.handler.HandleAppError(f)
	case *protocol.ProtocolError:
		d.handler.HandleProtocolError(f)
	}
}

func (d *Dispatcher) drop(raw []byte, err error) {
	var (
		unknown *protocol.UnknownKindError
		invalid *protocol.ValidationError
	)
	switch {
	case errors.As(err, &unknown):
		d.metrics.frameError(FrameErrorUnknown)
		if unknown.Ignorable() {
			d.logger.Debug("ignoring peer frame", "type", unknown.WireType)
			return
		}
		d.logger.Warn("dropping frame of unknown type", "type", unknown.WireType)
	case errors.As(err, &invalid):
		d.metrics.frameError(FrameErrorInvalid)
		d.logger.Warn("dropping invalid frame", "kind", invalid.Kind.String(), "fields", invalid.Fields, "error", err)
	default:
		d.metrics.frameError(FrameErrorDecode)
		d.logger.Warn("dropping malformed frame", "bytes", len(raw), "error", err)
	}
}

func (d *Dispatcher) recoverHandler(kind protocol.Kind) {
	if r := recover(); r != nil {
		d.metrics.frameError(FrameErrorPanic)
		d.logger.Error("frame handler panicked",
			"kind", kind.String(),
			"panic", r,
			"stack", string(debug.Stack()),
		)
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// frameValidate checks per-kind required fields. Shared and safe for
// concurrent use once initialized.
var frameValidate = validator.New(validator.WithRequiredStructEnabled())

// =============================================================================
// Errors
// =============================================================================

// DecodeError reports a frame that is not a JSON object with a "type".
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed frame: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// UnknownKindError reports a frame whose "type" is not recognized.
type UnknownKindError struct {
	WireType string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown frame type %q", e.WireType)
}

// Ignorable reports whether the type is a known peer broadcast the client
// deliberately skips, as opposed to something genuinely unexpected.
func (e *UnknownKindError) Ignorable() bool {
	_, ok := ignorableWireTypes[e.WireType]
	return ok
}

// ValidationError reports a recognized frame with missing or invalid fields.
type ValidationError struct {
	Kind   Kind
	Fields []string
	Err    error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("invalid %s frame: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("invalid %s frame: bad fields %s", e.Kind, strings.Join(e.Fields, ", "))
}

func (e *ValidationError) Unwrap() error { return e.Err }

// =============================================================================
// Decode
// =============================================================================

type envelopeHeader struct {
	Type *string `json:"type"`
}

// Decode parses and validates one inbound frame.
//
// # Outputs
//
//   - Frame: one of *Ready, *StreamDelta, *Thinking, *Final, *AppError, *ProtocolError
//   - error: *DecodeError, *UnknownKindError or *ValidationError
func Decode(raw []byte) (Frame, error) {
	var header envelopeHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if header.Type == nil {
		return nil, &DecodeError{Err: errors.New(`missing "type" field`)}
	}

	kind, ok := KindOf(*header.Type)
	if !ok {
		return nil, &UnknownKindError{WireType: *header.Type}
	}

	frame := newFrame(kind)
	if err := json.Unmarshal(raw, frame); err != nil {
		return nil, &ValidationError{Kind: kind, Err: err}
	}
	if err := frameValidate.Struct(frame); err != nil {
		return nil, validationError(kind, err)
	}
	return frame, nil
}

func newFrame(kind Kind) Frame {
	switch kind {
	case KindReady:
		return &Ready{}
	case KindStreamDelta:
		return &StreamDelta{}
	case KindThinking:
		return &Thinking{}
	case KindFinal:
		return &Final{}
	case KindAppError:
		return &AppError{}
	default:
		return &ProtocolError{}
	}
}

func validationError(kind Kind, err error) *ValidationError {
	verr := &ValidationError{Kind: kind, Err: err}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			verr.Fields = append(verr.Fields, fe.Namespace())
		}
	}
	return verr
}

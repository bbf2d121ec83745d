// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"errors"
	"net/http"

	"github.com/LeeDigitalWorks/tams/pkg/metadata/db"
	"github.com/LeeDigitalWorks/tams/pkg/segments"
)

var (
	ErrFlowNotFound          = db.ErrFlowNotFound
	ErrDeleteRequestNotFound = db.ErrDeleteRequestNotFound
	ErrFlowReadOnly          = errors.New("flow is read-only")
)

// ErrorCode is the caller-facing class of a service error.
type ErrorCode int

const (
	ErrCodeNone ErrorCode = iota
	ErrCodeValidation
	ErrCodeOverlap
	ErrCodeNotFound
	ErrCodeForbidden
	ErrCodeInternal
)

// Code classifies err.
func Code(err error) ErrorCode {
	switch {
	case err == nil:
		return ErrCodeNone
	case errors.Is(err, segments.ErrOverlap):
		return ErrCodeOverlap
	case errors.Is(err, segments.ErrValidation):
		return ErrCodeValidation
	case errors.Is(err, ErrFlowNotFound), errors.Is(err, ErrDeleteRequestNotFound):
		return ErrCodeNotFound
	case errors.Is(err, ErrFlowReadOnly):
		return ErrCodeForbidden
	default:
		return ErrCodeInternal
	}
}

// HTTPStatus maps err to the status a REST front end should answer with.
func HTTPStatus(err error) int {
	switch Code(err) {
	case ErrCodeNone:
		return http.StatusOK
	case ErrCodeValidation, ErrCodeOverlap:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

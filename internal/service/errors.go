// Package service implements the authentication and session lifecycle:
// registration, login, refresh token rotation and logout.
package service

import "errors"

// Sentinel categories. Handlers map them to status codes with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError describes malformed or missing input.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string        { return e.Msg }
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError is a duplicate registration.
type ConflictError struct{ Msg string }

func (e *ConflictError) Error() string        { return e.Msg }
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// UnauthorizedError carries the client-visible reason for a 401.
type UnauthorizedError struct{ Reason string }

func (e *UnauthorizedError) Error() string        { return e.Reason }
func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }

var (
	ErrEmailExists    error = &ConflictError{Msg: "email already registered"}
	ErrUsernameExists error = &ConflictError{Msg: "username already taken"}

	ErrUserNotFound    error = &UnauthorizedError{Reason: "user not found"}
	ErrInvalidPassword error = &UnauthorizedError{Reason: "invalid password"}
	ErrInvalidToken    error = &UnauthorizedError{Reason: "invalid refresh token"}
	ErrTokenExpired    error = &UnauthorizedError{Reason: "refresh token expired"}
	ErrTokenRevoked    error = &UnauthorizedError{Reason: "refresh token revoked"}
)

func invalid(msg string) error { return &ValidationError{Msg: msg} }

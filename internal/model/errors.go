package model

import "errors"

var (
	// ErrCommandBusy is returned when a connection submits a command while another one is still running.
	ErrCommandBusy = errors.New("command busy")

	// ErrUnknownCommand is returned when a command identifier is not in the worker catalog.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrWorkerFailure is returned when a worker cannot be spawned or exits abnormally.
	ErrWorkerFailure = errors.New("worker failure")

	// ErrNameTaken is returned when a display name is already present in a room.
	ErrNameTaken = errors.New("username already taken")

	// ErrMalformedMessage is returned when an inbound frame cannot be decoded or validated.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrTransportClosed is returned when the peer connection has gone away.
	ErrTransportClosed = errors.New("transport closed")

	// ErrNotJoined is returned when a chat participant sends before joining.
	ErrNotJoined = errors.New("not joined")

	// ErrAlreadyJoined is returned when a chat participant joins twice.
	ErrAlreadyJoined = errors.New("already joined")

	// ErrSessionClosed is returned when an operation targets a session that was torn down.
	ErrSessionClosed = errors.New("session closed")

	// ErrRunNotFound is returned when a command run is not found.
	ErrRunNotFound = errors.New("run not found")
)

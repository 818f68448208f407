package terrr

import "errors"

var (
	// ErrWouldBlock は、非ブロッキング操作がすぐに完了できない場合に返されるエラー
	ErrWouldBlock = errors.New("operation would block")

	// ErrBindFailure is returned when no candidate address could be bound and listened on.
	ErrBindFailure = errors.New("failed to bind listener")

	// ErrWaitFailure is fatal: the event loop cannot observe its sockets anymore.
	ErrWaitFailure = errors.New("failed to wait for readiness")

	// ErrRegistryFull is returned when the connection registry cannot grow.
	ErrRegistryFull = errors.New("connection registry is full")

	ErrQueueFull = errors.New("outbound queue is full")
)

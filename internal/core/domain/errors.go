package domain

import "errors"

var (
	ErrUnreachable          = errors.New("target user has no live connections")
	ErrUserNotFound         = errors.New("user not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrBusy                 = errors.New("already in a call")
	ErrCallSuperseded       = errors.New("message belongs to a superseded call attempt")
	ErrMediaUnavailable     = errors.New("media device unavailable")
	ErrConnectionClosed     = errors.New("connection closed")
)

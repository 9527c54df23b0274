package exception

import "errors"

var (
	ErrFeedMalformedMessage  = errors.New("feed: malformed message")
	ErrFeedUnknownSide       = errors.New("feed: unknown side")
	ErrFeedNotConnected      = errors.New("feed: not connected")
	ErrFeedSnapshotMalformed = errors.New("feed: malformed depth snapshot")
	ErrFeedRequestFailed     = errors.New("feed: request failed")
)

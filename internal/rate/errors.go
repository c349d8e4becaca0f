package rate

import (
	"errors"

	"github.com/MrEthical07/authguard/internal/backend"
)

var (
	// ErrStoreUnavailable is returned when a window or bucket operation cannot reach the store.
	ErrStoreUnavailable = backend.ErrUnavailable
	// ErrBadScriptReply indicates the store answered a script with an unexpected shape.
	ErrBadScriptReply = errors.New("unexpected script reply")
)

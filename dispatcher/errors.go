// File: dispatcher/errors.go
// Author: momentics <momentics@gmail.com>

package dispatcher

import (
	"fmt"

	"github.com/momentics/netdispatch/api"
)

// ErrTerminated is returned by submissions made after the dispatcher
// goroutine has exited. errors.Is(err, api.ErrClosed) holds for it.
var ErrTerminated = fmt.Errorf("dispatcher terminated: %w", api.ErrClosed)

// Package dispatcher
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Thread runs one api.EventLoop on a dedicated goroutine locked to an OS
// thread. Other goroutines never touch the loop: they submit jobs through a
// FIFO queue and the dispatcher interrupts its own Dispatch wait when work
// arrives while it sleeps. Callbacks therefore always run on the dispatcher
// goroutine.
package dispatcher

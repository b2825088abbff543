//go:build !unix

package termview

import "context"

// NotifyResize returns a channel that never fires on platforms without SIGWINCH.
func NotifyResize(context.Context) <-chan struct{} {
	return nil
}

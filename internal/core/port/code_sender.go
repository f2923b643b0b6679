package port

import (
	"context"
	"time"
)

// CodeSender delivers a plaintext one-time code to its recipient. Enabled
// reports whether a real delivery channel is configured; a disabled sender
// accepts the code without delivering or recording it anywhere.
type CodeSender interface {
	SendCode(ctx context.Context, email string, code string, validity time.Duration) error
	Enabled() bool
}

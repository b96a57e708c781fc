// Package completion wraps the third-party chat completion service the relay
// forwards conversations to.
package completion

import (
	"context"

	"github.com/papercomputeco/supportrelay/pkg/llm"
)

// Completer produces the assistant's reply for a conversation. An empty
// string with a nil error means the service answered without usable text.
type Completer interface {
	Complete(ctx context.Context, model string, messages []llm.Message) (string, error)
}

// CompleterFunc adapts a plain function to the Completer interface.
type CompleterFunc func(ctx context.Context, model string, messages []llm.Message) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, model string, messages []llm.Message) (string, error) {
	return f(ctx, model, messages)
}

package completion

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/papercomputeco/supportrelay/pkg/llm"
)

const tracerName = "github.com/papercomputeco/supportrelay/pkg/completion"

// TracingCompleter records a span around every call of the wrapped Completer.
// Spans go to whatever TracerProvider the incoming context carries, so without
// an installed SDK this is a no-op.
type TracingCompleter struct {
	next Completer
}

// NewTracingCompleter wraps next.
func NewTracingCompleter(next Completer) *TracingCompleter {
	return &TracingCompleter{next: next}
}

func (t *TracingCompleter) Complete(ctx context.Context, model string, messages []llm.Message) (string, error) {
	ctx, span := trace.SpanFromContext(ctx).TracerProvider().
		Tracer(tracerName).
		Start(ctx, "Completer.Complete")
	defer span.End()

	start := time.Now()
	text, err := t.next.Complete(ctx, model, messages)

	span.SetAttributes(
		attribute.String("model", model),
		attribute.Int("message_count", len(messages)),
		attribute.Int("response_length", len(text)),
		attribute.Float64("completion_time", time.Since(start).Seconds()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return text, nil
}

var _ Completer = (*TracingCompleter)(nil)

package telemetry

import (
	"context"
	"log/slog"
)

// Event names for the ttg-specific vocabulary this package emits, in place
// of whitaker-io/machine's per-vertex packet events (the handler.go
// machinery underneath — span start/event/end and metric recording over
// slog — is unchanged; only the event names and attributes are new).
const (
	EventActivationEnqueue = "activation.enqueue"
	EventActivationFire    = "activation.fire"
	EventDataCopyMutable   = "datacopy.mark_mutable"
	EventTransportSend     = "transport.send"
	EventFenceRound        = "fence.round"
)

// ActivationEnqueue traces an ActivationRecord becoming ready and being
// handed to the scheduler.
func ActivationEnqueue(ctx context.Context, ttID string, key string, priority int32) {
	SpanEvent(ctx, EventActivationEnqueue,
		slog.String("tt_id", ttID),
		slog.String("key", key),
		slog.Int64("priority", int64(priority)),
	)
}

// ActivationFire traces a worker invoking a TT body for one activation,
// and records it as a counter metric keyed by tt_id.
func ActivationFire(ctx context.Context, ttID string, key string) {
	SpanEvent(ctx, EventActivationFire,
		slog.String("tt_id", ttID),
		slog.String("key", key),
	)
	Int64Counter(ctx, EventActivationFire, 1, slog.String("tt_id", ttID))
}

// DataCopyMutable traces a DataCopy successfully transitioning to
// exclusive-mutable mode.
func DataCopyMutable(ctx context.Context, ttID string, key string) {
	SpanEvent(ctx, EventDataCopyMutable,
		slog.String("tt_id", ttID),
		slog.String("key", key),
	)
}

// TransportSend traces one cross-rank delivery leaving this rank, and
// records the payload size as a histogram metric.
func TransportSend(ctx context.Context, ttID string, slot int, toRank int, payloadBytes int) {
	SpanEvent(ctx, EventTransportSend,
		slog.String("tt_id", ttID),
		slog.Int("slot", slot),
		slog.Int("to_rank", toRank),
	)
	Int64Histogram(ctx, EventTransportSend+".bytes", int64(payloadBytes),
		slog.String("tt_id", ttID),
	)
}

// FenceRound traces one rank's participation in a fence/termination round.
func FenceRound(ctx context.Context, rank int) {
	SpanEvent(ctx, EventFenceRound, slog.Int("rank", rank))
}

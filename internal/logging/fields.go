package logging

import "log/slog"

// Field names shared across packages so log queries stay stable.
const (
	FieldSession   = "session_id"
	FieldEvent     = "event"
	FieldTrigger   = "trigger"
	FieldOutcome   = "outcome"
	FieldBatchSize = "batch_size"
	FieldTransport = "transport"
	FieldStatus    = "status"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldDuration  = "duration_ms"
	FieldError     = "err"
)

func Session(id string) slog.Attr { return slog.String(FieldSession, id) }

func Event(name string) slog.Attr { return slog.String(FieldEvent, name) }

func Trigger(t string) slog.Attr { return slog.String(FieldTrigger, t) }

func Outcome(o string) slog.Attr { return slog.String(FieldOutcome, o) }

func BatchSize(n int) slog.Attr { return slog.Int(FieldBatchSize, n) }

func Transport(kind string) slog.Attr { return slog.String(FieldTransport, kind) }

// Duration returns a slog attribute for a duration in milliseconds.
func Duration(ms int64) slog.Attr { return slog.Int64(FieldDuration, ms) }

// Err returns a slog attribute for an error; nil renders as an empty string.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

package logging

import (
	"log/slog"
	"time"
)

// Common field names for consistent logging across services.
const (
	FieldService   = "service"
	FieldRequestID = "request_id"
	FieldAccountID = "account_id"
	FieldEventID   = "event_id"
	FieldEventType = "event_type"
	FieldRecordID  = "record_id"
	FieldUnitID    = "unit_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldDuration  = "duration_ms"
	FieldError     = "error"
)

func Service(name string) slog.Attr {
	return slog.String(FieldService, name)
}

func AccountID(id string) slog.Attr {
	return slog.String(FieldAccountID, id)
}

// EventID is the external (origin platform) event identifier.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

func EventType(t string) slog.Attr {
	return slog.String(FieldEventType, t)
}

// RecordID is the local event store record identifier.
func RecordID(id string) slog.Attr {
	return slog.String(FieldRecordID, id)
}

func UnitID(id string) slog.Attr {
	return slog.String(FieldUnitID, id)
}

func Method(method string) slog.Attr {
	return slog.String(FieldMethod, method)
}

func Path(path string) slog.Attr {
	return slog.String(FieldPath, path)
}

func Status(code int) slog.Attr {
	return slog.Int(FieldStatus, code)
}

// Duration records d in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Int64(FieldDuration, d.Milliseconds())
}

// Error returns a slog attribute for err. A nil error yields an empty value.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// stringKeyHandlers builds ModelHandlers for records keyed by a string id
// column. The idField accessor returns a pointer into the record so one
// closure serves both reads and writes.
func stringKeyHandlers[T any](idField func(*T) *string) repository.ModelHandlers[*T] {
	return repository.ModelHandlers[*T]{
		NewRecord: func() *T { return new(T) },
		GetID: func(record *T) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(*idField(record))
		},
		SetID: func(record *T, id uuid.UUID) {
			if record == nil {
				return
			}
			*idField(record) = id.String()
		},
		GetIdentifier: func() string { return "id" },
		GetIdentifierValue: func(record *T) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(*idField(record))
		},
	}
}

func entryHandlers() repository.ModelHandlers[*entryRecord] {
	return stringKeyHandlers(func(r *entryRecord) *string { return &r.ID })
}

func throttleStateHandlers() repository.ModelHandlers[*throttleStateRecord] {
	return stringKeyHandlers(func(r *throttleStateRecord) *string { return &r.ID })
}

func bootstrapRunHandlers() repository.ModelHandlers[*bootstrapRunRecord] {
	return stringKeyHandlers(func(r *bootstrapRunRecord) *string { return &r.ID })
}

// parseUUID maps blank and malformed ids to uuid.Nil so insert paths can
// assign a fresh identifier instead of failing.
func parseUUID(value string) uuid.UUID {
	if parsed, err := uuid.Parse(strings.TrimSpace(value)); err == nil {
		return parsed
	}
	return uuid.Nil
}

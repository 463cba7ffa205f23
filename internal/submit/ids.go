package submit

import "github.com/google/uuid"

// IDGenerator produces booking request ids.
type IDGenerator interface {
	NewID() uuid.UUID
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so booking ids
// sort by creation time in the target's audit log.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID panics if the system random source fails.
func (UUIDv7Generator) NewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

package chatrepo

import "github.com/google/uuid"

// NewETag returns an opaque, random (not time-ordered) token, per
// spec §4.7's requirement that etags not leak ordering information —
// unlike ids, which use UUIDv7 for natural insertion ordering.
func NewETag() string {
	return uuid.New().String()
}

// NewID returns a UUIDv7 identifier, time-ordered for natural primary
// key locality (spec §3).
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

package uuidx

import "github.com/google/uuid"

// New generates a new UUID using the version 7 format and returns it.
// It panics if the UUID generation fails.
func New() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}

// NewString generates a new version 7 UUID and returns it as a string.
func NewString() string {
	return New().String()
}

// CallID generates an identifier for a tool call whose provider did not supply one.
// Version 7 UUIDs sort by creation time, so synthesized ids keep call order.
func CallID() string {
	return "call_" + New().String()
}

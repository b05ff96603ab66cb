package utils

import (
	"log"

	"github.com/google/uuid"
)

// GenerateID generates a new UUID v4 string
func GenerateID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		log.Printf("Failed to generate UUID: %v", err)
		return ""
	}
	return id.String()
}

// GenerateFlowID generates a prefixed flow identifier ("flow-<uuid>").
// The prefix makes flow IDs recognizable in logs and audit rows.
func GenerateFlowID() string {
	return "flow-" + GenerateID()
}

// IsValidUUID checks if the string is a valid UUID
func IsValidUUID(u string) bool {
	_, err := uuid.Parse(u)
	return err == nil
}

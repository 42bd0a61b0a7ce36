package tempgres

import (
	"strings"

	"github.com/google/uuid"
)

// newDatabaseName generates a unique database name for one ephemeral
// database. The name carries 128 bits of cryptographic randomness, so two
// concurrently provisioned instances collide with negligible probability;
// a collision surfaces as a CREATE DATABASE failure, never as silent reuse.
func newDatabaseName() string {
	// Hyphens are stripped so the name is a plain identifier and never
	// needs quoting in consumer tooling.
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "test_" + id
}

package tempgres_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tempgres/tempgres"
)

func TestNewDatabaseName(t *testing.T) {
	t.Run("Format", func(t *testing.T) {
		name := tempgres.NewDatabaseName()

		require.True(t, strings.HasPrefix(name, "test_"), "name %q should have test_ prefix", name)
		require.Len(t, name, len("test_")+32, "name should carry 128 bits of hex")

		// Must be usable as an unquoted identifier.
		for _, ch := range name {
			ok := (ch >= 'a' && ch <= 'z') || (ch >= '0' && ch <= '9') || ch == '_'
			require.True(t, ok, "name %q contains invalid identifier character %q", name, ch)
		}
	})

	t.Run("Uniqueness", func(t *testing.T) {
		const n = 10000

		seen := make(map[string]struct{}, n)
		for i := 0; i < n; i++ {
			name := tempgres.NewDatabaseName()
			_, dup := seen[name]
			require.False(t, dup, "generated duplicate name %q", name)
			seen[name] = struct{}{}
		}
	})
}

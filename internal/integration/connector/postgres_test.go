package connector

import (
	"testing"

	"github.com/forgeapps/metering/internal/integration/domain"
	"github.com/stretchr/testify/assert"
)

func TestEnsureReadOnly(t *testing.T) {
	allowed := []string{
		"SELECT * FROM orders",
		"select id from users where id = 1",
		"  WITH recent AS (SELECT 1) SELECT * FROM recent",
		"SELECT 1;",
	}
	for _, q := range allowed {
		assert.NoError(t, ensureReadOnly(q), q)
	}

	rejected := []string{
		"",
		"   ",
		"DELETE FROM orders",
		"UPDATE users SET name = 'x'",
		"DROP TABLE users",
		"INSERT INTO logs VALUES (1)",
		"SELECT 1; DROP TABLE users",
	}
	for _, q := range rejected {
		assert.ErrorIs(t, ensureReadOnly(q), domain.ErrQueryNotAllowed, q)
	}
}

package e2etests

import (
	"context"
	"database/sql"
	"time"

	"github.com/RichardKnop/braze/internal/protocol"
	"github.com/RichardKnop/braze/internal/stmt"
)

// TestClient talks to the server directly. The server serves one client at
// a time, so the driver hangs up first and reconnects afterwards.
func (s *TestSuite) TestClient() {
	ctx := context.Background()

	s.Require().NoError(s.db.Close())

	aClient, err := protocol.NewClient(ctx, s.addr, protocol.WithClientTimeout(5*time.Second))
	s.Require().NoError(err)

	s.Run("Rewrite", func() {
		aStatement := stmt.New("users.lookup", stmt.Unknown).
			SetText("SELECT * FROM t WHERE id = :id AND note = 'contains :fake placeholder' -- :also_fake\n AND x = :id2").
			BindInput("id", 5, stmt.Int32, 4).
			BindInput("id2", 7, stmt.Int32, 4)

		for _, tc := range []struct {
			Dialect  stmt.Dialect
			Expected string
		}{
			{stmt.Dollar, "SELECT * FROM t WHERE id = $1 AND note = 'contains :fake placeholder' -- :also_fake\n AND x = $2"},
			{stmt.Question, "SELECT * FROM t WHERE id = ? AND note = 'contains :fake placeholder' -- :also_fake\n AND x = ?"},
		} {
			bound, err := aClient.Rewrite(ctx, aStatement, tc.Dialect)
			s.Require().NoError(err)
			s.Equal(tc.Expected, bound.SQL)
			s.Equal([]string{"id", "id2"}, bound.Names)
			s.Len(bound.Args, 2)
		}
	})

	s.Run("Classify", func() {
		kind, err := aClient.Classify(ctx, "  select 1")
		s.Require().NoError(err)
		s.Equal(stmt.Read, kind)
	})

	s.Require().NoError(aClient.Close())

	// The driver gets the server back once the client hangs up.
	s.db, err = sql.Open("braze", s.addr+"?timeout=5s")
	s.Require().NoError(err)
	s.Require().NoError(s.db.PingContext(ctx))
}

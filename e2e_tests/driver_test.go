package e2etests

import (
	"context"
	"database/sql"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/RichardKnop/braze"
)

func (s *TestSuite) TestNamedAndPositionalArguments() {
	_, err := s.db.Exec(createUsersTableSQL)
	s.Require().NoError(err)

	var (
		first  = gofakeit.Name()
		second = gofakeit.Name()
		email  = gofakeit.Email()
	)

	s.Run("Insert with named arguments", func() {
		aResult, err := s.db.Exec(
			`INSERT INTO users (id, name, email, note) VALUES (:id, :name, :email, 'added by :name')`,
			sql.Named("id", 1),
			sql.Named("name", first),
			sql.Named("email", email),
		)
		s.Require().NoError(err)

		rowsAffected, err := aResult.RowsAffected()
		s.Require().NoError(err)
		s.Equal(int64(1), rowsAffected)

		_, err = aResult.LastInsertId()
		s.ErrorIs(err, braze.ErrLastInsertIDNotSupported)
	})

	s.Run("Insert with positional arguments", func() {
		// :name appears twice but binds once.
		_, err := s.db.Exec(
			`INSERT INTO users (id, name, note) VALUES (:id, :name, :name || ' -- :not_a_param')`,
			2, second,
		)
		s.Require().NoError(err)
	})

	s.Run("Select", func() {
		users := s.collectUsers(`SELECT id, name, email, note FROM users ORDER BY id`)
		s.Require().Len(users, 2)

		s.Equal(int64(1), users[0].ID)
		s.Equal(first, users[0].Name)
		s.Equal(email, users[0].Email.String)
		s.Equal("added by :name", users[0].Note.String)

		s.Equal(int64(2), users[1].ID)
		s.Equal(second, users[1].Name)
		s.False(users[1].Email.Valid)
		s.Equal(second+" -- :not_a_param", users[1].Note.String)
	})

	s.Run("Select one with a repeated placeholder", func() {
		var name string
		err := s.db.QueryRow(`SELECT name FROM users WHERE id = :id OR id = :id + 100`, sql.Named("id", 2)).Scan(&name)
		s.Require().NoError(err)
		s.Equal(second, name)
	})

	s.Run("No rows", func() {
		var name string
		err := s.db.QueryRow(`SELECT name FROM users WHERE id = :id`, sql.Named("id", 42)).Scan(&name)
		s.ErrorIs(err, sql.ErrNoRows)
	})
}

func (s *TestSuite) TestPreparedStmts() {
	_, err := s.db.Exec(createUsersTableSQL)
	s.Require().NoError(err)

	s.Run("Insert users", func() {
		stmt, err := s.db.Prepare(`INSERT INTO users (id, name, email) VALUES (:id, :name, :email)`)
		s.Require().NoError(err)
		defer stmt.Close()

		for i := 1; i <= 3; i++ {
			aResult, err := stmt.Exec(int64(i), gofakeit.Name(), gofakeit.Email())
			s.Require().NoError(err)

			rowsAffected, err := aResult.RowsAffected()
			s.Require().NoError(err)
			s.Equal(int64(1), rowsAffected)
		}
	})

	s.Run("Wrong number of arguments", func() {
		stmt, err := s.db.Prepare(`UPDATE users SET name = :name WHERE id = :id`)
		s.Require().NoError(err)
		defer stmt.Close()

		_, err = stmt.Exec("only one")
		s.Error(err)
	})

	s.Run("Update users", func() {
		stmt, err := s.db.Prepare(`UPDATE users SET note = :note WHERE id >= :from`)
		s.Require().NoError(err)
		defer stmt.Close()

		aResult, err := stmt.Exec("bulk", int64(2))
		s.Require().NoError(err)

		rowsAffected, err := aResult.RowsAffected()
		s.Require().NoError(err)
		s.Equal(int64(2), rowsAffected)

		users := s.collectUsers(`SELECT id, name, email, note FROM users WHERE note = :note ORDER BY id`, "bulk")
		s.Require().Len(users, 2)
		s.Equal(int64(2), users[0].ID)
		s.Equal(int64(3), users[1].ID)
	})

	s.Run("Invalid placeholder fails to prepare", func() {
		_, err := s.db.Prepare(`SELECT * FROM users WHERE id = :`)
		s.Error(err)
	})
}

func (s *TestSuite) TestErrors() {
	s.Run("Unknown table", func() {
		_, err := s.db.Exec(`DELETE FROM nope WHERE id = :id`, sql.Named("id", 1))
		s.Error(err)
	})

	s.Run("Unbound placeholder", func() {
		_, err := s.db.Exec(`SELECT :a, :b`, sql.Named("a", 1))
		s.Error(err)
		s.Contains(err.Error(), `"b"`)
	})

	s.Run("Transactions", func() {
		_, err := s.db.BeginTx(context.Background(), nil)
		s.ErrorIs(err, braze.ErrTransactionsNotSupported)
	})

	s.Run("Session survives errors", func() {
		s.NoError(s.db.Ping())
	})
}

func (s *TestSuite) TestBinaryValues() {
	_, err := s.db.Exec(`CREATE TABLE files (id INTEGER PRIMARY KEY, data BLOB)`)
	s.Require().NoError(err)

	payload := []byte{0x00, 0x01, 0xff, 'h', 'i'}
	_, err = s.db.Exec(`INSERT INTO files (id, data) VALUES (:id, :data)`, 1, payload)
	s.Require().NoError(err)

	var data []byte
	err = s.db.QueryRow(`SELECT data FROM files WHERE id = :id`, 1).Scan(&data)
	s.Require().NoError(err)
	s.Equal(payload, data)
}

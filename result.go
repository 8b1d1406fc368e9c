package braze

import "errors"

var ErrLastInsertIDNotSupported = errors.New("last insert id is not supported, use RETURNING")

type Result struct {
	rowsAffected int64
}

// LastInsertId is not reported by the server.
func (r Result) LastInsertId() (int64, error) {
	return 0, ErrLastInsertIDNotSupported
}

// RowsAffected returns the number of rows affected by the
// query.
func (r Result) RowsAffected() (int64, error) {
	return r.rowsAffected, nil
}

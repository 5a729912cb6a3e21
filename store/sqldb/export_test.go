package sqldb

import "context"

// ExecRaw runs a statement against the underlying database, bypassing
// the ledger.Store surface.
func (s *DB) ExecRaw(ctx context.Context, query string, args ...any) error {
	_, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	return err
}

package dg

import "context"

// GetCursor reads the fallback per-(account, object kind) cursor used
// by consumers that track a replay position outside the context of any
// Object Run row.
func (g *Gateway) GetCursor(ctx context.Context, accountID, objectKind string) (string, bool, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sql := sprintfSchema(`SELECT cursor FROM %[1]s.cursors WHERE account_id = $1 AND object_kind = $2`, g.schema)
	var cursor string
	if err := g.pool.QueryRow(ctx, sql, accountID, objectKind).Scan(&cursor); err != nil {
		if isNoRows(err) {
			return "", false, nil
		}
		return "", false, classify(err)
	}
	return cursor, true, nil
}

// SetCursor persists the fallback cursor for (accountID, objectKind).
func (g *Gateway) SetCursor(ctx context.Context, accountID, objectKind, cursor string) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	sql := sprintfSchema(`
		INSERT INTO %[1]s.cursors (account_id, object_kind, cursor)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, object_kind) DO UPDATE SET cursor = excluded.cursor
	`, g.schema)
	_, err := g.pool.Exec(ctx, sql, accountID, objectKind, cursor)
	return classify(err)
}

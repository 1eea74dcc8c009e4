package postgres

import (
	"context"

	"github.com/ajitpratap0/pgexport/pkg/errors"
)

// Columns returns the column names of table in ordinal order. A table with
// no columns, or one that does not exist, yields an empty slice.
func Columns(ctx context.Context, conn Conn, table TableName) ([]string, error) {
	rows, err := conn.Query(ctx, columnsQuery, table.Schema, table.Name)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to query table columns").
			WithDetail("table", table.String())
	}
	defer rows.Close()

	columns := make([]string, 0, 16)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeDecode, "failed to scan column name").
				WithDetail("table", table.String())
		}
		columns = append(columns, name)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "error iterating column rows").
			WithDetail("table", table.String())
	}

	return columns, nil
}

package postgres

import (
	stringpool "github.com/ajitpratap0/pgexport/pkg/strings"
)

const (
	// sentinelColumn keeps the projection valid for tables without columns.
	sentinelColumn = "__pgexport_sentinel"
	// totalColumn carries the window count on every row of a page.
	totalColumn = "__pgexport_total"
)

const currentUserQuery = `SELECT current_user`

// Catalog queries. The owner is always a bound parameter.
const (
	tableCountQuery = `SELECT COUNT(*) FROM pg_catalog.pg_tables WHERE tableowner = $1`

	// tableListQuery also reports whether search_path resolves the bare
	// name to the listed table.
	tableListQuery = `SELECT schemaname, tablename, ` +
		`pg_catalog.pg_table_is_visible(format('%I.%I', schemaname, tablename)::regclass) ` +
		`FROM pg_catalog.pg_tables WHERE tableowner = $1 ` +
		`ORDER BY schemaname, tablename OFFSET $2 LIMIT $3`

	columnsQuery = `SELECT column_name FROM information_schema.columns ` +
		`WHERE table_schema = $1 AND table_name = $2 ` +
		`ORDER BY ordinal_position`
)

// buildPageQuery renders the total-aware page query for table. Every column
// is projected as text with NULL mapped to the empty string; $1 is the
// offset and $2 the limit. The table is always schema qualified.
//
//	SELECT *, COUNT(*) OVER () AS "__pgexport_total" FROM (
//	    SELECT coalesce("c1"::text, '') AS "c1", ..., NULL AS "__pgexport_sentinel"
//	    FROM "schema"."table") AS paged OFFSET $1 LIMIT $2
func buildPageQuery(table TableName, columns []string) string {
	estimated := 96 + 2*(len(table.Schema)+len(table.Name))
	for _, c := range columns {
		estimated += 2*len(c) + 32
	}

	sb := stringpool.NewSQLBuilder(estimated)
	defer sb.Close()

	sb.WriteQuery("SELECT *, COUNT(*) OVER () AS ").
		WriteIdentifier(totalColumn).
		WriteQuery(" FROM (SELECT ")
	for _, c := range columns {
		sb.WriteQuery("coalesce(").
			WriteIdentifier(c).
			WriteQuery("::text, ").
			WriteStringLiteral("").
			WriteQuery(") AS ").
			WriteIdentifier(c).
			WriteQuery(", ")
	}
	sb.WriteQuery("NULL AS ").
		WriteIdentifier(sentinelColumn).
		WriteQuery(" FROM ").
		WriteIdentifier(table.Schema).
		WriteQuery(".").
		WriteIdentifier(table.Name).
		WriteQuery(") AS paged OFFSET ").
		WriteParam(1).
		WriteQuery(" LIMIT ").
		WriteParam(2)

	return sb.String()
}

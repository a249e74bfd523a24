package postgres

import (
	"fmt"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

// withListOpts appends the time window, ordering and paging of opts to a
// query that already has a WHERE clause over args.
func withListOpts(query string, args []any, col string, opts domain.ListOpts) (string, []any) {
	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND %s >= $%d", col, len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND %s <= $%d", col, len(args))
	}
	query += " ORDER BY " + col + " DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}

package db

import (
	"context"
	"fmt"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
)

// CountRows returns the number of rows currently in table.
func CountRows(ctx context.Context, q sqlx.QueryerContext, flavor sqlbuilder.Flavor, table string) (int64, error) {
	sb := flavor.NewSelectBuilder()
	sb.Select("COUNT(*)").From(table)
	query, args := sb.Build()

	var n int64
	if err := sqlx.GetContext(ctx, q, &n, query, args...); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type QueryRunner interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// TxRunner runs fn inside a transaction. The transaction is committed when
// fn succeeds and ctx is still live, and rolled back otherwise.
func TxRunner[T any](ctx context.Context, db *sql.DB, fn func(*sql.Tx) (T, error)) (result T, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				zap.L().Error("failed to rollback transaction", zap.Error(rbErr))
			}
		} else {
			if cmErr := tx.Commit(); cmErr != nil {
				zap.L().Error("failed to commit transaction", zap.Error(cmErr))
				err = fmt.Errorf("failed to commit transaction: %w", cmErr)
			}
		}
	}()

	result, err = fn(tx)
	if err != nil {
		return result, fmt.Errorf("failed to execute transaction: %w", err)
	}

	if ctx.Err() != nil {
		err = ctx.Err()
		return result, fmt.Errorf("context canceled before commit: %w", err)
	}

	return result, nil
}

type RowScanner interface {
	Scan(dest ...interface{}) error
}

type QueryDirection string

const (
	QueryDirectionAsc  QueryDirection = "ASC"
	QueryDirectionDesc QueryDirection = "DESC"
)

type QueryOptions struct {
	Where     string
	PageSize  int
	Page      int
	Direction QueryDirection
}

// Paginate runs baseQuery with the WHERE/ORDER/LIMIT derived from opts and
// returns the page together with the total row count of table.
func Paginate[T any](
	rq QueryRunner,
	table string,
	baseQuery string,
	opts QueryOptions,
	orderColumns []string,
	queryParams []interface{},
	scan func(RowScanner) (T, error),
) (total int, data []T, err error) {
	if len(orderColumns) == 0 {
		return 0, nil, fmt.Errorf("no order columns provided")
	}
	if opts.Direction != QueryDirectionAsc {
		opts.Direction = QueryDirectionDesc
	}

	orders := make([]string, len(orderColumns))
	for i, col := range orderColumns {
		orders[i] = fmt.Sprintf("%s %s", col, opts.Direction)
	}

	where := ""
	if opts.Where != "" {
		where = "WHERE " + opts.Where
	}

	offset := (opts.Page - 1) * opts.PageSize
	query := fmt.Sprintf("%s %s ORDER BY %s LIMIT ? OFFSET ?", baseQuery, where, strings.Join(orders, ", "))
	params := append(append([]interface{}{}, queryParams...), opts.PageSize, offset)

	rows, err := rq.Query(query, params...)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return 0, nil, err
		}
		data = append(data, item)
	}
	if err = rows.Err(); err != nil {
		return 0, nil, err
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", table, where)
	if err = rq.QueryRow(countQuery, queryParams...).Scan(&total); err != nil {
		return 0, nil, err
	}

	return total, data, nil
}

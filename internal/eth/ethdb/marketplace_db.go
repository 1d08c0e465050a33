package ethdb

import (
	"database/sql"
	"fmt"
	"math/big"

	"github.com/nft-marketplace/marketnode/internal/db"
)

const eventsTable = "marketplace_events"

type MarketplaceEventDb interface {
	StoreEvents(tx *sql.Tx, events []MarketplaceEvent) (int, error)
	RevertFromBlock(tx *sql.Tx, fromBlock uint64) (int64, error)
	GetEvents(rq db.QueryRunner, kind EventKind, account string) ([]MarketplaceEvent, error)
	GetPaginated(rq db.QueryRunner, opts db.QueryOptions, kind EventKind) (int, []MarketplaceEvent, error)
}

func NewMarketplaceEventDb() MarketplaceEventDb {
	return &MarketplaceEventDbImpl{}
}

type MarketplaceEventDbImpl struct{}

const allEventsQuery = `
	SELECT id, kind, block_number, tx_hash, log_index, account, nft_address,
		token_id, price, token_uri, owner, block_time
	FROM marketplace_events
`

// StoreEvents inserts events, skipping ids already present. It returns the
// number of new rows.
func (m *MarketplaceEventDbImpl) StoreEvents(tx *sql.Tx, events []MarketplaceEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO marketplace_events (
			id, kind, block_number, tx_hash, log_index, account, nft_address,
			token_id, price, token_uri, owner, block_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, ev := range events {
		price := "0"
		if ev.Price != nil {
			price = ev.Price.String()
		}
		res, err := stmt.Exec(
			ev.ID, string(ev.Kind), ev.BlockNumber, ev.TxHash, ev.LogIndex, ev.Account, ev.NftAddress,
			ev.TokenID, price, ev.TokenURI, ev.Owner, ev.BlockTime,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += int(n)
	}
	return inserted, nil
}

// RevertFromBlock deletes every event at or above fromBlock.
func (m *MarketplaceEventDbImpl) RevertFromBlock(tx *sql.Tx, fromBlock uint64) (int64, error) {
	res, err := tx.Exec(`DELETE FROM marketplace_events WHERE block_number >= ?`, fromBlock)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetEvents returns all events of kind newest first. A non-empty account
// narrows the result to that seller, buyer or deployer.
func (m *MarketplaceEventDbImpl) GetEvents(rq db.QueryRunner, kind EventKind, account string) ([]MarketplaceEvent, error) {
	query := allEventsQuery + ` WHERE kind = ?`
	args := []interface{}{string(kind)}
	if account != "" {
		query += ` AND account = ?`
		args = append(args, account)
	}
	query += ` ORDER BY block_time DESC, block_number DESC, log_index DESC`

	rows, err := rq.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []MarketplaceEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (m *MarketplaceEventDbImpl) GetPaginated(rq db.QueryRunner, opts db.QueryOptions, kind EventKind) (int, []MarketplaceEvent, error) {
	var params []interface{}
	if kind != "" {
		opts.Where = "kind = ?"
		params = append(params, string(kind))
	}
	return db.Paginate(rq, eventsTable, allEventsQuery, opts,
		[]string{"block_number", "log_index"}, params, scanEvent)
}

func scanEvent(scanner db.RowScanner) (MarketplaceEvent, error) {
	var (
		ev    MarketplaceEvent
		kind  string
		price string
	)
	err := scanner.Scan(
		&ev.ID, &kind, &ev.BlockNumber, &ev.TxHash, &ev.LogIndex, &ev.Account, &ev.NftAddress,
		&ev.TokenID, &price, &ev.TokenURI, &ev.Owner, &ev.BlockTime,
	)
	if err != nil {
		return ev, err
	}
	ev.Kind = EventKind(kind)
	p, ok := new(big.Int).SetString(price, 10)
	if !ok {
		return ev, fmt.Errorf("event %s: invalid price %q", ev.ID, price)
	}
	ev.Price = p
	return ev, nil
}

// Package sqlitekv implements annotate/kv.DB on crawshaw.io/sqlite, the
// same driver and pool-of-connections idiom used for the rest of the
// mail store (spilldb/db.Open/Init, spilldb/spillbox.New).
package sqlitekv

import (
	"context"
	"fmt"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"

	"vault.ink/annotate/kv"
)

const createSQL = `
CREATE TABLE IF NOT EXISTS Annotations (
	Key   BLOB PRIMARY KEY,
	Value BLOB NOT NULL
) WITHOUT ROWID;
`

// Open opens (creating if necessary) the annotation database at
// dbfile and returns a ready kv.DB. Mirrors spilldb/db.Open: a
// throwaway connection runs schema init under WAL before a pool of
// poolSize connections is opened for ongoing use.
func Open(dbfile string, poolSize int) (*DB, error) {
	conn, err := sqlite.OpenConn(dbfile, 0)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv.Open: init open: %v", err)
	}
	if err := Init(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlitekv.Open: init: %v", err)
	}
	if err := conn.Close(); err != nil {
		return nil, fmt.Errorf("sqlitekv.Open: init close: %v", err)
	}

	pool, err := sqlitex.Open(dbfile, 0, poolSize)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv.Open: pool: %v", err)
	}
	return &DB{pool: pool}, nil
}

// Init creates the Annotations table and sets the pragmas the
// annotation store expects, on an already-open connection.
func Init(conn *sqlite.Conn) error {
	if err := sqlitex.ExecTransient(conn, "PRAGMA journal_mode=WAL;", nil); err != nil {
		return err
	}
	if err := sqlitex.ExecScript(conn, createSQL); err != nil {
		return err
	}
	return nil
}

// DB is a kv.DB backed by a pool of SQLite connections, all pointed at
// the same Annotations table.
type DB struct {
	pool *sqlitex.Pool
}

var _ kv.DB = (*DB)(nil)

func (d *DB) View(ctx context.Context, fn func(kv.Txn) error) error {
	conn := d.pool.Get(ctx)
	if conn == nil {
		return context.Canceled
	}
	defer d.pool.Put(conn)
	return fn(&txn{conn: conn})
}

func (d *DB) Update(ctx context.Context, fn func(kv.Txn) error) (err error) {
	conn := d.pool.Get(ctx)
	if conn == nil {
		return context.Canceled
	}
	defer d.pool.Put(conn)
	defer sqlitex.Save(conn)(&err)
	return fn(&txn{conn: conn})
}

func (d *DB) Close() error {
	return d.pool.Close()
}

type txn struct {
	conn *sqlite.Conn
}

func (t *txn) Get(key []byte) ([]byte, bool, error) {
	stmt := t.conn.Prep("SELECT Value FROM Annotations WHERE Key = $key;")
	defer stmt.Reset()
	stmt.SetBytes("$key", key)
	hasRow, err := stmt.Step()
	if err != nil {
		return nil, false, err
	}
	if !hasRow {
		return nil, false, nil
	}
	buf := make([]byte, stmt.GetLen("Value"))
	stmt.GetBytes("Value", buf)
	return buf, true, nil
}

func (t *txn) Put(key, value []byte) error {
	stmt := t.conn.Prep("INSERT INTO Annotations (Key, Value) VALUES ($key, $value) " +
		"ON CONFLICT(Key) DO UPDATE SET Value = excluded.Value;")
	defer stmt.Reset()
	stmt.SetBytes("$key", key)
	stmt.SetBytes("$value", value)
	_, err := stmt.Step()
	return err
}

func (t *txn) Delete(key []byte) error {
	stmt := t.conn.Prep("DELETE FROM Annotations WHERE Key = $key;")
	defer stmt.Reset()
	stmt.SetBytes("$key", key)
	_, err := stmt.Step()
	return err
}

func (t *txn) NewCursor() (kv.Cursor, error) {
	return &cursor{conn: t.conn}, nil
}

// cursor buffers every row from its Seek prefix in memory and walks
// it; the annotation keyspace per mailbox/entry is small enough that
// a ranged load beats holding a statement live across Seek/Next calls
// on a connection that other code may reuse.
type cursor struct {
	conn *sqlite.Conn
	rows []kvRow
	pos  int
}

type kvRow struct {
	key, value []byte
}

func (c *cursor) Seek(prefix []byte) bool {
	stmt := c.conn.Prep("SELECT Key, Value FROM Annotations WHERE Key >= $prefix ORDER BY Key;")
	defer stmt.Reset()
	stmt.SetBytes("$prefix", prefix)

	c.rows = c.rows[:0]
	c.pos = 0
	for {
		hasRow, err := stmt.Step()
		if err != nil || !hasRow {
			break
		}
		key := make([]byte, stmt.GetLen("Key"))
		stmt.GetBytes("Key", key)
		value := make([]byte, stmt.GetLen("Value"))
		stmt.GetBytes("Value", value)
		c.rows = append(c.rows, kvRow{key: key, value: value})
	}
	return len(c.rows) > 0
}

func (c *cursor) Next() bool {
	c.pos++
	return c.pos < len(c.rows)
}

func (c *cursor) Key() []byte   { return c.rows[c.pos].key }
func (c *cursor) Value() []byte { return c.rows[c.pos].value }
func (c *cursor) Close() error  { return nil }

// Package testutil provides a database/sql driver that emulates the
// history_state table of the postgres store.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// StateRow is one (history, bucket) row of history_state.
type StateRow struct {
	HistoryID int64
	Bucket    string
	Payload   []byte
}

// StubConn is the single connection behind a stub database. Upserts issued in
// a transaction become visible on commit only. The Fail fields inject errors.
type StubConn struct {
	mu     sync.Mutex
	Execs  []string
	Rows   []StateRow
	staged []StateRow

	FailPing   bool
	FailBegin  bool
	FailUpsert bool
	FailCommit bool
	RowsErr    error
}

var stubSeq atomic.Int64

// NewStubDB registers a fresh stub driver and opens a database on it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{}
	name := fmt.Sprintf("cveteval-stubpg-%d", stubSeq.Add(1))
	sql.Register(name, stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	db.SetMaxOpenConns(1)
	return db, conn
}

// Row returns the committed row of a history bucket.
func (c *StubConn) Row(historyID int64, bucket string) (StateRow, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.find(historyID, bucket)
	if i < 0 {
		return StateRow{}, false
	}
	return c.Rows[i], true
}

func (c *StubConn) find(historyID int64, bucket string) int {
	return slices.IndexFunc(c.Rows, func(r StateRow) bool { return r.HistoryID == historyID && r.Bucket == bucket })
}

func (c *StubConn) upsert(row StateRow) {
	if i := c.find(row.HistoryID, row.Bucket); i >= 0 {
		c.Rows[i] = row
		return
	}
	c.Rows = append(c.Rows, row)
}

type stubDriver struct{ conn *StubConn }

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn. Statements always go through ExecContext
// and QueryContext.
func (c *StubConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("stub: prepare not supported: %s", query)
}

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return errors.New("stub: ping failed")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, errors.New("stub: begin failed")
	}
	c.mu.Lock()
	c.staged = []StateRow{}
	c.mu.Unlock()
	return stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext for the DDL and the upsert.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	stmt := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(stmt, "CREATE TABLE"):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(stmt, "INSERT INTO HISTORY_STATE"):
		if c.FailUpsert {
			return nil, errors.New("stub: upsert failed")
		}
		row, err := stateRow(args)
		if err != nil {
			return nil, err
		}
		if c.staged != nil {
			c.staged = append(c.staged, row)
		} else {
			c.upsert(row)
		}
		return driver.RowsAffected(1), nil
	default:
		return nil, fmt.Errorf("stub: unsupported statement: %s", query)
	}
}

func stateRow(args []driver.NamedValue) (StateRow, error) {
	if len(args) != 3 {
		return StateRow{}, fmt.Errorf("stub: upsert wants 3 args, got %d", len(args))
	}
	historyID, ok := args[0].Value.(int64)
	if !ok {
		return StateRow{}, fmt.Errorf("stub: history_id %T", args[0].Value)
	}
	bucket, ok := args[1].Value.(string)
	if !ok {
		return StateRow{}, fmt.Errorf("stub: bucket %T", args[1].Value)
	}
	payload, ok := args[2].Value.([]byte)
	if !ok {
		return StateRow{}, fmt.Errorf("stub: payload %T", args[2].Value)
	}
	return StateRow{HistoryID: historyID, Bucket: bucket, Payload: slices.Clone(payload)}, nil
}

// QueryContext implements driver.QueryerContext for the snapshot select.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if !strings.Contains(strings.ToUpper(query), "FROM HISTORY_STATE") {
		return nil, fmt.Errorf("stub: unsupported query: %s", query)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	values := make([][]driver.Value, 0, len(c.Rows))
	for _, r := range c.Rows {
		values = append(values, []driver.Value{r.HistoryID, r.Bucket, slices.Clone(r.Payload)})
	}
	return &stubRows{rows: values, err: c.RowsErr}, nil
}

type stubTx struct{ conn *StubConn }

func (t stubTx) Commit() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	staged := c.staged
	c.staged = nil
	if c.FailCommit {
		return errors.New("stub: commit failed")
	}
	for _, row := range staged {
		c.upsert(row)
	}
	return nil
}

func (t stubTx) Rollback() error {
	t.conn.mu.Lock()
	t.conn.staged = nil
	t.conn.mu.Unlock()
	return nil
}

type stubRows struct {
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return []string{"history_id", "bucket", "payload"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

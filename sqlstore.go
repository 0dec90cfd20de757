package attrsession

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

const sqlSchema = `
CREATE TABLE IF NOT EXISTS attr_domains (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS attributes (
	domain TEXT NOT NULL,
	item TEXT NOT NULL,
	name TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (domain, item, name)
);
CREATE INDEX IF NOT EXISTS idx_attributes_value ON attributes(domain, name, value);
`

// sqlStore is the AttributeStore shared by the SQLite and PostgreSQL backends.
// Each attribute is one row; an item exists while it has at least one row.
type sqlStore struct {
	db *sql.DB
	// writeMu serializes writes when the driver needs it (SQLite); nil otherwise.
	writeMu   *sync.Mutex
	numbered  bool
	getStmt   *sql.Stmt
	putStmt   *sql.Stmt
	delStmt   *sql.Stmt
	itemsStmt *sql.Stmt
}

// newSQLStore creates the schema and prepares statements. numbered selects
// $1-style placeholders instead of ?.
func newSQLStore(db *sql.DB, numbered bool, writeMu *sync.Mutex) (*sqlStore, error) {
	if _, err := db.Exec(sqlSchema); err != nil {
		return nil, fmt.Errorf("failed to create attributes table: %w", err)
	}

	s := &sqlStore{db: db, writeMu: writeMu, numbered: numbered}

	var err error
	s.getStmt, err = db.Prepare(s.rebind("SELECT name, value FROM attributes WHERE domain = ? AND item = ?"))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare get statement: %w", err)
	}

	s.putStmt, err = db.Prepare(s.rebind(`
		INSERT INTO attributes (domain, item, name, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(domain, item, name) DO UPDATE SET
			value = excluded.value
	`))
	if err != nil {
		s.closeStmts()
		return nil, fmt.Errorf("failed to prepare put statement: %w", err)
	}

	s.delStmt, err = db.Prepare(s.rebind("DELETE FROM attributes WHERE domain = ? AND item = ?"))
	if err != nil {
		s.closeStmts()
		return nil, fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	s.itemsStmt, err = db.Prepare(s.rebind(
		"SELECT item, name, value FROM attributes WHERE domain = ? AND item >= ? AND item <= ? ORDER BY item, name"))
	if err != nil {
		s.closeStmts()
		return nil, fmt.Errorf("failed to prepare items statement: %w", err)
	}

	return s, nil
}

// rebind rewrites ? placeholders to $n when the driver needs numbered ones.
func (s *sqlStore) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) lock() func() {
	if s.writeMu == nil {
		return func() {}
	}
	s.writeMu.Lock()
	return s.writeMu.Unlock
}

// GetAttributes reads every row of the item. SQL reads are always consistent.
func (s *sqlStore) GetAttributes(ctx context.Context, domain, item string, consistent bool, names []string) ([]Attribute, error) {
	rows, err := s.getStmt.QueryContext(ctx, domain, item)
	if err != nil {
		return nil, fmt.Errorf("failed to query attributes: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan attribute: %w", err)
		}
		values[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return mapToAttributes(values, names), nil
}

// PutAttributes upserts every attribute in one transaction.
func (s *sqlStore) PutAttributes(ctx context.Context, domain, item string, attrs []Attribute) error {
	unlock := s.lock()
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := tx.StmtContext(ctx, s.putStmt)
	for _, a := range attrs {
		if _, err := stmt.ExecContext(ctx, domain, item, a.Name, a.Value); err != nil {
			return fmt.Errorf("failed to put attribute %q: %w", a.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit attributes: %w", err)
	}
	return nil
}

func (s *sqlStore) DeleteAttributes(ctx context.Context, domain, item string) error {
	unlock := s.lock()
	defer unlock()

	if _, err := s.delStmt.ExecContext(ctx, domain, item); err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

// Select finds matching item names with one EXISTS clause per filter, every
// value bound as a parameter, then loads their attributes in a range query.
func (s *sqlStore) Select(ctx context.Context, in SelectInput) (SelectOutput, error) {
	limit := selectLimit(in.Limit)

	var q strings.Builder
	args := []any{in.Domain, in.NextToken}
	q.WriteString("SELECT DISTINCT a.item FROM attributes a WHERE a.domain = ? AND a.item > ?")
	for _, f := range in.Filters {
		q.WriteString(" AND EXISTS (SELECT 1 FROM attributes f WHERE f.domain = a.domain AND f.item = a.item AND f.name = ? AND f.value = ?)")
		args = append(args, f.Name, f.Value)
	}
	// One extra row tells whether another page exists.
	q.WriteString(" ORDER BY a.item LIMIT ?")
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, s.rebind(q.String()), args...)
	if err != nil {
		return SelectOutput{}, fmt.Errorf("failed to select items: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return SelectOutput{}, fmt.Errorf("failed to scan item: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return SelectOutput{}, fmt.Errorf("failed to iterate rows: %w", err)
	}

	var out SelectOutput
	if len(names) == 0 {
		return out, nil
	}
	if len(names) > limit {
		names = names[:limit]
		out.NextToken = names[len(names)-1]
	}

	wanted := make(map[string]map[string]string, len(names))
	for _, n := range names {
		wanted[n] = make(map[string]string)
	}

	rows, err = s.itemsStmt.QueryContext(ctx, in.Domain, names[0], names[len(names)-1])
	if err != nil {
		return SelectOutput{}, fmt.Errorf("failed to load items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item, name, value string
		if err := rows.Scan(&item, &name, &value); err != nil {
			return SelectOutput{}, fmt.Errorf("failed to scan attribute: %w", err)
		}
		if attrs, ok := wanted[item]; ok {
			attrs[name] = value
		}
	}
	if err := rows.Err(); err != nil {
		return SelectOutput{}, fmt.Errorf("failed to iterate rows: %w", err)
	}

	for _, n := range names {
		// Items deleted between the two queries are dropped from the page.
		if len(wanted[n]) == 0 {
			continue
		}
		out.Items = append(out.Items, Item{Name: n, Attributes: mapToAttributes(wanted[n], nil)})
	}
	return out, nil
}

func (s *sqlStore) CreateDomain(ctx context.Context, name string) error {
	unlock := s.lock()
	defer unlock()

	_, err := s.db.ExecContext(ctx, s.rebind("INSERT INTO attr_domains (name) VALUES (?) ON CONFLICT(name) DO NOTHING"), name)
	if err != nil {
		return fmt.Errorf("failed to create domain: %w", err)
	}
	return nil
}

func (s *sqlStore) DeleteDomain(ctx context.Context, name string) error {
	unlock := s.lock()
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM attributes WHERE domain = ?"), name); err != nil {
		return fmt.Errorf("failed to delete domain items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM attr_domains WHERE name = ?"), name); err != nil {
		return fmt.Errorf("failed to delete domain: %w", err)
	}
	return tx.Commit()
}

func (s *sqlStore) closeStmts() {
	for _, stmt := range []*sql.Stmt{s.getStmt, s.putStmt, s.delStmt, s.itemsStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
}

func (s *sqlStore) Close() error {
	s.closeStmts()
	return s.db.Close()
}

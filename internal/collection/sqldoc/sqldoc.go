// Package sqldoc stores cache documents in a relational table through gorm.
// Each collection is a table with an id primary key, the JSON encoded value
// and the expiration as unix nanoseconds. It runs on any dialect gorm
// supports upserts for; the process wires SQLite and PostgreSQL.
package sqldoc

import (
	"context"
	"fmt"
	"regexp"
	"regexp/syntax"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docstore-cache/internal/cache"
	"docstore-cache/internal/codec"
)

// deleteBatchSize bounds the number of ids per DELETE ... IN statement.
const deleteBatchSize = 500

// row is the table layout of a document.
type row struct {
	ID        string `gorm:"column:id;primaryKey"`
	Value     []byte `gorm:"column:value"`
	ExpiresAt int64  `gorm:"column:expires_at;not null"`
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// columns maps document fields to table columns.
var columns = map[string]string{
	cache.FieldID:      "id",
	cache.FieldValue:   "value",
	cache.FieldExpires: "expires_at",
}

// Collection is a cache.Collection over a single table.
type Collection struct {
	db    *gorm.DB
	table string
}

// NewCollection migrates table and returns a collection over it.
func NewCollection(ctx context.Context, db *gorm.DB, table string) (*Collection, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("sqldoc: invalid table name %q", table)
	}
	if err := db.WithContext(ctx).Table(table).AutoMigrate(&row{}); err != nil {
		return nil, fmt.Errorf("sqldoc: migrate %s: %w", table, err)
	}
	return &Collection{db: db, table: table}, nil
}

// Upsert implements cache.Collection with INSERT ... ON CONFLICT (id) DO UPDATE.
func (c *Collection) Upsert(ctx context.Context, doc cache.Document) error {
	b, err := codec.Encode(doc.Value)
	if err != nil {
		return err
	}
	r := row{ID: doc.ID, Value: b, ExpiresAt: cache.ExpiresNanos(doc.ExpiresAt)}

	err = c.db.WithContext(ctx).Table(c.table).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at"}),
	}).Create(&r).Error
	if err != nil {
		return fmt.Errorf("sqldoc: upsert %s: %w", c.table, err)
	}
	return nil
}

// Find implements cache.Collection. Pattern constraints are narrowed in SQL
// by their literal prefix and evaluated in process.
func (c *Collection) Find(ctx context.Context, filter cache.Filter, limit int) ([]cache.Document, error) {
	q := c.scope(ctx, filter).Order("id")
	if filter.IDPattern == nil && limit > 0 {
		q = q.Limit(limit)
	}

	var rows []row
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqldoc: find in %s: %w", c.table, err)
	}

	docs := make([]cache.Document, 0, len(rows))
	for _, r := range rows {
		if filter.IDPattern != nil && !filter.IDPattern.MatchString(r.ID) {
			continue
		}
		if limit > 0 && len(docs) == limit {
			break
		}
		v, err := codec.Decode(r.Value)
		if err != nil {
			return nil, fmt.Errorf("sqldoc: document %q: %w", r.ID, err)
		}
		docs = append(docs, cache.Document{ID: r.ID, Value: v, ExpiresAt: time.Unix(0, r.ExpiresAt)})
	}
	return docs, nil
}

// DeleteMany implements cache.Collection. Pattern deletes select the
// matching ids first and remove them in batches, so they are not atomic.
func (c *Collection) DeleteMany(ctx context.Context, filter cache.Filter) (int64, error) {
	if filter == (cache.Filter{}) {
		return c.deleteAll(ctx)
	}
	if filter.IDPattern == nil {
		res := c.scope(ctx, filter).Delete(&row{})
		if res.Error != nil {
			return 0, fmt.Errorf("sqldoc: delete from %s: %w", c.table, res.Error)
		}
		return res.RowsAffected, nil
	}

	var ids []string
	if err := c.scope(ctx, filter).Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("sqldoc: select ids from %s: %w", c.table, err)
	}
	matched := ids[:0]
	for _, id := range ids {
		if filter.IDPattern.MatchString(id) {
			matched = append(matched, id)
		}
	}

	var deleted int64
	for start := 0; start < len(matched); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(matched))
		res := c.db.WithContext(ctx).Table(c.table).Where("id IN ?", matched[start:end]).Delete(&row{})
		if res.Error != nil {
			return deleted, fmt.Errorf("sqldoc: delete from %s: %w", c.table, res.Error)
		}
		deleted += res.RowsAffected
	}
	return deleted, nil
}

// DeleteAll implements cache.Collection.
func (c *Collection) DeleteAll(ctx context.Context) error {
	_, err := c.deleteAll(ctx)
	return err
}

func (c *Collection) deleteAll(ctx context.Context) (int64, error) {
	res := c.db.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Table(c.table).Delete(&row{})
	if res.Error != nil {
		return 0, fmt.Errorf("sqldoc: clear %s: %w", c.table, res.Error)
	}
	return res.RowsAffected, nil
}

// CreateIndex implements cache.Collection.
func (c *Collection) CreateIndex(ctx context.Context, spec cache.IndexSpec) error {
	if len(spec.Keys) == 0 {
		return fmt.Errorf("sqldoc: index %q has no keys", spec.Name)
	}

	parts := make([]string, 0, len(spec.Keys))
	vars := []any{clause.Table{Name: c.table + "_" + spec.Name}, clause.Table{Name: c.table}}
	for _, k := range spec.Keys {
		col, ok := columns[k.Field]
		if !ok {
			return fmt.Errorf("sqldoc: index %q: unknown field %q", spec.Name, k.Field)
		}
		part := "?"
		if k.Descending {
			part += " DESC"
		}
		parts = append(parts, part)
		vars = append(vars, clause.Column{Name: col})
	}

	sql := "CREATE INDEX IF NOT EXISTS ? ON ? (" + strings.Join(parts, ", ") + ")"
	if err := c.db.WithContext(ctx).Exec(sql, vars...).Error; err != nil {
		return fmt.Errorf("sqldoc: create index %s on %s: %w", spec.Name, c.table, err)
	}
	return nil
}

func (c *Collection) scope(ctx context.Context, f cache.Filter) *gorm.DB {
	q := c.db.WithContext(ctx).Table(c.table)
	if f.ID != "" {
		q = q.Where("id = ?", f.ID)
	}
	if !f.ExpiresAfter.IsZero() {
		q = q.Where("expires_at > ?", cache.ExpiresNanos(f.ExpiresAfter))
	}
	if !f.ExpiresBefore.IsZero() {
		q = q.Where("expires_at < ?", cache.ExpiresNanos(f.ExpiresBefore))
	}
	if f.IDPattern != nil {
		if prefix := anchoredPrefix(f.IDPattern); prefix != "" {
			q = q.Where(`id LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%")
		}
	}
	return q
}

// anchoredPrefix returns the literal every matching id starts with, or ""
// when the expression is not anchored at the start of the id.
func anchoredPrefix(re *regexp.Regexp) string {
	parsed, err := syntax.Parse(re.String(), syntax.Perl)
	if err != nil || parsed.Op != syntax.OpConcat || len(parsed.Sub) < 2 {
		return ""
	}
	if parsed.Sub[0].Op != syntax.OpBeginText {
		return ""
	}
	lit := parsed.Sub[1]
	if lit.Op != syntax.OpLiteral || lit.Flags&syntax.FoldCase != 0 {
		return ""
	}
	return string(lit.Rune)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// Database hands out one table-backed collection per name.
type Database struct {
	db *gorm.DB

	mu          sync.Mutex
	collections map[string]*Collection
}

// NewDatabase wraps an open gorm connection.
func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db, collections: make(map[string]*Collection)}
}

// Collection implements cache.Database. The table is migrated the first time
// a name is requested.
func (d *Database) Collection(ctx context.Context, name string) (cache.Collection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.collections[name]; ok {
		return c, nil
	}
	c, err := NewCollection(ctx, d.db, name)
	if err != nil {
		return nil, err
	}
	d.collections[name] = c
	return c, nil
}

// Ensure the sqldoc types implement the cache capabilities at compile time.
var (
	_ cache.Collection = (*Collection)(nil)
	_ cache.Database   = (*Database)(nil)
)

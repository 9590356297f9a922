// Package sqlite provides a contribution storage in a single SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"ocm.software/open-component-model/contribution/contribution"
	"ocm.software/open-component-model/contribution/storage/spec/v1alpha1"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Storage is a contribution.Storage backed by SQLite.
type Storage struct {
	db *sql.DB
}

var _ contribution.Storage = (*Storage)(nil)

// New opens the database at path and migrates it to the latest schema.
func New(ctx context.Context, path string) (*Storage, error) {
	if path == "" {
		return nil, fmt.Errorf("database path must not be empty")
	}
	dsn := dsnFor(path)
	if err := Migrate(dsn); err != nil {
		return nil, fmt.Errorf("migrating %q failed: %w", path, err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %q failed: %w", path, err)
	}
	// one connection serializes writers, sqlite locks the whole file anyway
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("connecting to %q failed: %w", path, err), db.Close())
	}
	return &Storage{db: db}, nil
}

func NewFromSpec(ctx context.Context, spec *v1alpha1.SQLiteStorage) (contribution.Storage, error) {
	return New(ctx, spec.Path)
}

func dsnFor(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
}

// Migrate applies all embedded up migrations. The migration connection is
// separate because closing the migrate instance closes its database.
func Migrate(dsn string) (err error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return errors.Join(err, db.Close())
	}
	source, err := iofs.New(migrations, "migrations")
	if err != nil {
		return errors.Join(err, db.Close())
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return errors.Join(err, db.Close())
	}
	defer func() {
		srcErr, dbErr := m.Close()
		err = errors.Join(err, srcErr, dbErr)
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) List(ctx context.Context) (_ []*contribution.Contribution, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, description, content, disabled FROM contributions ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("listing contributions failed: %w", err)
	}
	defer func() {
		err = errors.Join(err, rows.Close())
	}()

	var list []*contribution.Contribution
	for rows.Next() {
		c := &contribution.Contribution{}
		if err := rows.Scan(&c.Name, &c.Description, &c.Content, &c.Disabled); err != nil {
			return nil, fmt.Errorf("reading contribution row failed: %w", err)
		}
		list = append(list, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing contributions failed: %w", err)
	}
	return list, nil
}

func (s *Storage) Get(ctx context.Context, name string) (*contribution.Contribution, bool, error) {
	c := &contribution.Contribution{}
	err := s.db.QueryRowContext(ctx,
		`SELECT name, description, content, disabled FROM contributions WHERE name = ?`, name,
	).Scan(&c.Name, &c.Description, &c.Content, &c.Disabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading contribution %q failed: %w", name, err)
	}
	return c, true, nil
}

func (s *Storage) Add(ctx context.Context, c *contribution.Contribution) (*contribution.Contribution, bool, error) {
	if err := contribution.Validate(c); err != nil {
		return nil, false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO contributions (name, description, content, disabled) VALUES (?, ?, ?, ?) ON CONFLICT(name) DO NOTHING`,
		c.Name, c.Description, c.Content, c.Disabled,
	)
	if err != nil {
		return nil, false, fmt.Errorf("storing contribution %q failed: %w", c.Name, err)
	}
	if ok, err := affected(res); !ok || err != nil {
		return nil, false, err
	}
	return c.DeepCopy(), true, nil
}

func (s *Storage) Remove(ctx context.Context, c *contribution.Contribution) (bool, error) {
	if err := contribution.Validate(c); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM contributions WHERE name = ?`, c.Name)
	if err != nil {
		return false, fmt.Errorf("removing contribution %q failed: %w", c.Name, err)
	}
	return affected(res)
}

func (s *Storage) Update(ctx context.Context, c *contribution.Contribution) (*contribution.Contribution, bool, error) {
	if err := contribution.Validate(c); err != nil {
		return nil, false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE contributions SET description = ?, content = ?, disabled = ? WHERE name = ?`,
		c.Description, c.Content, c.Disabled, c.Name,
	)
	if err != nil {
		return nil, false, fmt.Errorf("updating contribution %q failed: %w", c.Name, err)
	}
	if ok, err := affected(res); !ok || err != nil {
		return nil, false, err
	}
	return c.DeepCopy(), true, nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows failed: %w", err)
	}
	return n > 0, nil
}

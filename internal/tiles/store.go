package tiles

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/nadc.report/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

const timeLayout = time.RFC3339Nano

// Store persists tiles and their source associations in sqlite.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens the database at path and applies the connection pragmas. It
// does not migrate; call MigrateUp.
func Open(path string, clock timeutil.Clock) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Pragmas such as foreign_keys are per connection.
	db.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Store{db: db, clock: clock}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// MigrateUp applies all pending migrations.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close the shared database handle.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (s *Store) MigrateDown() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current schema version. A database without
// migrations reports 0, false, nil.
func (s *Store) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	logf("[migrate] "+strings.TrimSuffix(format, "\n"), v...)
}

func (l *migrateLogger) Verbose() bool { return false }

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const tileColumns = `tile_id, source_id, julian_day, release_major, release_minor, pixel_number,
	sun_zenith, los_zenith, rel_azimuth, center_lat, center_lon, footprint, payload,
	created_at, updated_at`

// TilesInWindow returns the tiles with julian_day in [start, end] ordered
// by time. A non-empty sources list restricts the source ids.
func (s *Store) TilesInWindow(ctx context.Context, start, end float64, sources []string) ([]Tile, error) {
	return tilesInWindow(ctx, s.db, start, end, sources)
}

func tilesInWindow(ctx context.Context, q queryer, start, end float64, sources []string) ([]Tile, error) {
	query := `SELECT ` + tileColumns + ` FROM tiles WHERE julian_day BETWEEN ? AND ?`
	args := []any{start, end}
	if len(sources) > 0 {
		query += ` AND source_id IN (?` + strings.Repeat(`,?`, len(sources)-1) + `)`
		for _, src := range sources {
			args = append(args, src)
		}
	}
	query += ` ORDER BY julian_day, tile_id`
	return queryTiles(ctx, q, query, args...)
}

// Tile returns one tile by id.
func (s *Store) Tile(ctx context.Context, id string) (Tile, error) {
	tiles, err := queryTiles(ctx, s.db, `SELECT `+tileColumns+` FROM tiles WHERE tile_id = ?`, id)
	if err != nil {
		return Tile{}, err
	}
	if len(tiles) == 0 {
		return Tile{}, sql.ErrNoRows
	}
	return tiles[0], nil
}

// CountTiles returns the number of persisted tiles.
func (s *Store) CountTiles(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tiles`).Scan(&n)
	return n, err
}

func queryTiles(ctx context.Context, q queryer, query string, args ...any) ([]Tile, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tiles: %w", err)
	}
	defer rows.Close()

	var out []Tile
	for rows.Next() {
		var (
			t                  Tile
			payload            string
			created, updated   string
			sunZen, losZen, az sql.NullFloat64
		)
		if err := rows.Scan(&t.ID, &t.SourceID, &t.JulianDay, &t.Release.Major, &t.Release.Minor,
			&t.PixelNumber, &sunZen, &losZen, &az, &t.Center.Lat, &t.Center.Lon, &t.Footprint,
			&payload, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan tile: %w", err)
		}
		t.SunZenith, t.LOSZenith, t.RelAzimuth = sunZen.Float64, losZen.Float64, az.Float64
		if err := json.Unmarshal([]byte(payload), &t.Payload); err != nil {
			return nil, fmt.Errorf("tile %s payload: %w", t.ID, err)
		}
		if t.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("tile %s created_at: %w", t.ID, err)
		}
		if t.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
			return nil, fmt.Errorf("tile %s updated_at: %w", t.ID, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Association records that a product contributed to a tile.
type Association struct {
	TileID     string
	Product    string
	Release    Release
	RecordedAt time.Time
}

// Associations returns the association rows of a tile ordered by time.
func (s *Store) Associations(ctx context.Context, tileID string) ([]Association, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tile_id, product, release_major, release_minor, recorded_at
		FROM tile_sources WHERE tile_id = ? ORDER BY recorded_at, product`, tileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query associations: %w", err)
	}
	defer rows.Close()

	var out []Association
	for rows.Next() {
		var a Association
		var recorded string
		if err := rows.Scan(&a.TileID, &a.Product, &a.Release.Major, &a.Release.Minor, &recorded); err != nil {
			return nil, fmt.Errorf("failed to scan association: %w", err)
		}
		if a.RecordedAt, err = time.Parse(timeLayout, recorded); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func encodePayload(p []float64) (string, error) {
	if p == nil {
		p = []float64{}
	}
	b, err := json.Marshal(p)
	return string(b), err
}

func (s *Store) now() string { return s.clock.Now().UTC().Format(timeLayout) }

func insertTile(ctx context.Context, tx *sql.Tx, id string, m Measurement, rel Release, now string) error {
	payload, err := encodePayload(m.Payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tiles (`+tileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, m.SourceID, m.JulianDay, rel.Major, rel.Minor, m.PixelNumber,
		m.SunZenith, m.LOSZenith, m.RelAzimuth, m.Center.Lat, NormalizeLon(m.Center.Lon),
		Footprint(m.Center, m.Corners), payload, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert tile: %w", err)
	}
	return nil
}

// updateTile overwrites the payload unless the stored release is newer.
// It reports whether the row changed.
func updateTile(ctx context.Context, tx *sql.Tx, id string, m Measurement, rel Release, now string) (bool, error) {
	payload, err := encodePayload(m.Payload)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE tiles SET
			julian_day = ?, release_major = ?, release_minor = ?, pixel_number = ?,
			sun_zenith = ?, los_zenith = ?, rel_azimuth = ?, center_lat = ?, center_lon = ?,
			footprint = ?, payload = ?, updated_at = ?
		WHERE tile_id = ?
		  AND (release_major < ? OR (release_major = ? AND release_minor <= ?))`,
		m.JulianDay, rel.Major, rel.Minor, m.PixelNumber,
		m.SunZenith, m.LOSZenith, m.RelAzimuth, m.Center.Lat, NormalizeLon(m.Center.Lon),
		Footprint(m.Center, m.Corners), payload, now,
		id, rel.Major, rel.Major, rel.Minor)
	if err != nil {
		return false, fmt.Errorf("failed to update tile %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// associate appends a source association unless the product already has
// one for the tile. It reports whether a row was added.
func associate(ctx context.Context, tx *sql.Tx, id, product string, rel Release, now string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO tile_sources (tile_id, product, release_major, release_minor, recorded_at)
		VALUES (?, ?, ?, ?, ?)`, id, product, rel.Major, rel.Minor, now)
	if err != nil {
		return false, fmt.Errorf("failed to associate tile %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// existingTile returns the id of a tile of the same source recorded at the
// measurement's time, or "".
func existingTile(ctx context.Context, tx *sql.Tx, m Measurement) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `
		SELECT tile_id FROM tiles
		WHERE source_id = ? AND julian_day BETWEEN ? AND ?
		ORDER BY ABS(julian_day - ?) LIMIT 1`,
		m.SourceID, m.JulianDay-duplicateTolerance, m.JulianDay+duplicateTolerance, m.JulianDay).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

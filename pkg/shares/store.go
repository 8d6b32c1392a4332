package shares

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// File is one indexed file row. MaskedFilename is the remote-facing name
// and the primary key; OriginalFilename is the physical path on the owning
// host. Timestamp is the scan-epoch of the fill that last touched the row.
type File struct {
	MaskedFilename   string `gorm:"column:maskedFilename;primaryKey" json:"masked_filename"`
	OriginalFilename string `gorm:"column:originalFilename" json:"original_filename"`
	Size             int64  `gorm:"column:size" json:"size"`
	TouchedAt        int64  `gorm:"column:touchedAt" json:"touched_at"`
	Code             int    `gorm:"column:code" json:"code"`
	Extension        string `gorm:"column:extension" json:"extension"`
	AttributeJSON    string `gorm:"column:attributeJson" json:"attribute_json"`
	Timestamp        int64  `gorm:"column:timestamp" json:"-"`
}

// TableName returns the table name for File.
func (File) TableName() string {
	return "files"
}

// MaskedDirectory returns the masked name of the file's parent directory.
func (f File) MaskedDirectory() string {
	return path.Dir(f.MaskedFilename)
}

// Directory is one indexed directory row.
type Directory struct {
	Name      string `gorm:"column:name;primaryKey" json:"name"`
	Timestamp int64  `gorm:"column:timestamp" json:"-"`
}

// TableName returns the table name for Directory.
func (Directory) TableName() string {
	return "directories"
}

// store wraps one SQLite database holding the three index tables:
// directories, files and the filenames full-text index. Everything beyond
// row scanning uses raw SQL: the schema predates the ORM conventions and
// the FTS virtual table has no model.
type store struct {
	db *gorm.DB
}

// openStore opens (creating if needed) the database at the DSN. The schema
// is not touched; callers validate or create it explicitly.
func openStore(dsn string) (*store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open share index: %w", err)
	}
	return &store{db: db}, nil
}

func (s *store) close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// validSchema probes the three tables with the exact column sets the cache
// writes. Any probe failure means the schema is missing or stale.
func (s *store) validSchema() bool {
	probes := []string{
		`SELECT name, timestamp FROM directories LIMIT 1`,
		`SELECT maskedFilename, originalFilename, size, touchedAt, code, extension, attributeJson, timestamp FROM files LIMIT 1`,
		`SELECT maskedFilename FROM filenames LIMIT 1`,
	}
	for _, probe := range probes {
		var rows []map[string]interface{}
		if err := s.db.Raw(probe).Scan(&rows).Error; err != nil {
			return false
		}
	}
	return true
}

// createSchema drops and recreates all three tables.
func (s *store) createSchema() error {
	statements := []string{
		`DROP TABLE IF EXISTS directories`,
		`DROP TABLE IF EXISTS files`,
		`DROP TABLE IF EXISTS filenames`,
		`CREATE TABLE directories (
			name TEXT PRIMARY KEY,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE TABLE files (
			maskedFilename TEXT PRIMARY KEY,
			originalFilename TEXT NOT NULL,
			size INTEGER NOT NULL DEFAULT 0,
			touchedAt INTEGER NOT NULL DEFAULT 0,
			code INTEGER NOT NULL DEFAULT 1,
			extension TEXT NOT NULL DEFAULT '',
			attributeJson TEXT NOT NULL DEFAULT '[]',
			timestamp INTEGER NOT NULL
		)`,
		`CREATE VIRTUAL TABLE filenames USING fts5(maskedFilename)`,
	}
	for _, stmt := range statements {
		if err := s.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create share index schema: %w", err)
		}
	}
	return nil
}

// insertDirectory upserts a directory row stamped with the scan-epoch.
func (s *store) insertDirectory(name string, epoch int64) error {
	return s.db.Exec(
		`INSERT INTO directories (name, timestamp) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET timestamp = excluded.timestamp`,
		name, epoch,
	).Error
}

// upsertFile upserts a file row, stamping every surviving field with the
// excluded values so the row's timestamp always equals the current scan,
// and refreshes the full-text index entry.
func (s *store) upsertFile(f *File) error {
	err := s.db.Exec(
		`INSERT INTO files (maskedFilename, originalFilename, size, touchedAt, code, extension, attributeJson, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(maskedFilename) DO UPDATE SET
			originalFilename = excluded.originalFilename,
			size = excluded.size,
			touchedAt = excluded.touchedAt,
			code = excluded.code,
			extension = excluded.extension,
			attributeJson = excluded.attributeJson,
			timestamp = excluded.timestamp`,
		f.MaskedFilename, f.OriginalFilename, f.Size, f.TouchedAt,
		f.Code, f.Extension, f.AttributeJSON, f.Timestamp,
	).Error
	if err != nil {
		return err
	}

	if err := s.db.Exec(`DELETE FROM filenames WHERE maskedFilename = ?`, f.MaskedFilename).Error; err != nil {
		return err
	}
	return s.db.Exec(`INSERT INTO filenames (maskedFilename) VALUES (?)`, f.MaskedFilename).Error
}

// sweep deletes every row whose timestamp predates the scan-epoch. These
// are tombstones: files and directories gone from disk since the previous
// scan. Returns the number of deleted rows.
func (s *store) sweep(epoch int64) (int64, error) {
	files := s.db.Exec(`DELETE FROM files WHERE timestamp < ?`, epoch)
	if files.Error != nil {
		return 0, files.Error
	}
	dirs := s.db.Exec(`DELETE FROM directories WHERE timestamp < ?`, epoch)
	if dirs.Error != nil {
		return files.RowsAffected, dirs.Error
	}
	err := s.db.Exec(
		`DELETE FROM filenames WHERE maskedFilename NOT IN (SELECT maskedFilename FROM files)`,
	).Error
	return files.RowsAffected + dirs.RowsAffected, err
}

// resolve returns the original filename for a masked name.
func (s *store) resolve(masked string) (string, error) {
	var names []string
	err := s.db.Raw(
		`SELECT originalFilename FROM files WHERE maskedFilename = ?`, masked,
	).Scan(&names).Error
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", ErrNotShared
	}
	return names[0], nil
}

// search returns the files whose masked names satisfy the FTS5 match
// expression, ascending by masked filename.
func (s *store) search(match string) ([]File, error) {
	files := []File{}
	err := s.db.Raw(
		`SELECT files.* FROM filenames
		 JOIN files ON files.maskedFilename = filenames.maskedFilename
		 WHERE filenames MATCH ?
		 ORDER BY files.maskedFilename ASC`,
		match,
	).Scan(&files).Error
	return files, err
}

// likePrefix escapes the LIKE metacharacters in a literal prefix so an
// alias containing % or _ narrows instead of wildcarding. Queries binding
// the result must carry an ESCAPE '\' clause.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix)
}

// directories returns indexed directory names, optionally limited to the
// masked prefix, ascending.
func (s *store) directories(prefix string) ([]string, error) {
	names := []string{}
	q := `SELECT name FROM directories`
	args := []interface{}{}
	if prefix != "" {
		q += ` WHERE name = ? OR name LIKE ? || '/%' ESCAPE '\'`
		args = append(args, prefix, likePrefix(prefix))
	}
	q += ` ORDER BY name ASC`

	err := s.db.Raw(q, args...).Scan(&names).Error
	return names, err
}

func (s *store) directoryExists(name string) (bool, error) {
	var count int64
	err := s.db.Raw(`SELECT COUNT(*) FROM directories WHERE name = ?`, name).Scan(&count).Error
	return count > 0, err
}

// files returns indexed file rows, optionally limited to the masked
// prefix, ascending by masked filename.
func (s *store) files(prefix string) ([]File, error) {
	files := []File{}
	q := `SELECT * FROM files`
	args := []interface{}{}
	if prefix != "" {
		q += ` WHERE maskedFilename LIKE ? || '/%' ESCAPE '\'`
		args = append(args, likePrefix(prefix))
	}
	q += ` ORDER BY maskedFilename ASC`

	err := s.db.Raw(q, args...).Scan(&files).Error
	return files, err
}

func (s *store) countFiles(prefix string) (int, error) {
	var count int64
	q := `SELECT COUNT(*) FROM files`
	args := []interface{}{}
	if prefix != "" {
		q += ` WHERE maskedFilename LIKE ? || '/%' ESCAPE '\'`
		args = append(args, likePrefix(prefix))
	}
	err := s.db.Raw(q, args...).Scan(&count).Error
	return int(count), err
}

func (s *store) countDirectories(prefix string) (int, error) {
	var count int64
	q := `SELECT COUNT(*) FROM directories`
	args := []interface{}{}
	if prefix != "" {
		q += ` WHERE name = ? OR name LIKE ? || '/%' ESCAPE '\'`
		args = append(args, prefix, likePrefix(prefix))
	}
	err := s.db.Raw(q, args...).Scan(&count).Error
	return int(count), err
}

// backupTo writes a compacted copy of the database to the path, replacing
// any previous backup.
func (s *store) backupTo(destination string) error {
	if err := os.Remove(destination); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale backup: %w", err)
	}
	if err := s.db.Exec(`VACUUM INTO ?`, destination).Error; err != nil {
		return fmt.Errorf("failed to back up share index: %w", err)
	}
	return nil
}

// restoreFrom recreates the schema and copies every row from the source
// store, rebuilding the full-text index from the files table.
func (s *store) restoreFrom(source *store) error {
	if err := s.createSchema(); err != nil {
		return err
	}

	dirs := []Directory{}
	if err := source.db.Raw(`SELECT * FROM directories`).Scan(&dirs).Error; err != nil {
		return fmt.Errorf("failed to read backup directories: %w", err)
	}
	if len(dirs) > 0 {
		if err := s.db.CreateInBatches(dirs, 500).Error; err != nil {
			return fmt.Errorf("failed to restore directories: %w", err)
		}
	}

	files := []File{}
	if err := source.db.Raw(`SELECT * FROM files`).Scan(&files).Error; err != nil {
		return fmt.Errorf("failed to read backup files: %w", err)
	}
	if len(files) > 0 {
		if err := s.db.CreateInBatches(files, 500).Error; err != nil {
			return fmt.Errorf("failed to restore files: %w", err)
		}
	}

	return s.db.Exec(
		`INSERT INTO filenames (maskedFilename) SELECT maskedFilename FROM files`,
	).Error
}

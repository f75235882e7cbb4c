package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"docfill/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the database configured for dbType (sqlite3 or mysql).
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok && strings.EqualFold(dbType, "sqlite") {
		dbCfg, ok = cfg.Databases[config.StoreSQLite]
	}
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// sqlite serializes writers; a single connection also keeps
		// :memory: databases alive across calls.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				dbCfg.Params,
			)
		}
		// timestamps are scanned into time.Time
		if !strings.Contains(dsn, "parseTime=") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			if strings.HasSuffix(dsn, "?") {
				sep = ""
			}
			dsn += sep + "parseTime=true"
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the documents, fields and chat_messages tables exist.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS documents (
				id TEXT PRIMARY KEY,
				filename TEXT NOT NULL,
				original_content TEXT NOT NULL,
				file_path TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				completed_at DATETIME
			)`,
			`CREATE TABLE IF NOT EXISTS fields (
				document_id TEXT NOT NULL,
				id TEXT NOT NULL,
				name TEXT NOT NULL,
				placeholder TEXT NOT NULL,
				occurrence_index INTEGER NOT NULL,
				value TEXT,
				status TEXT NOT NULL,
				ord INTEGER NOT NULL,
				type TEXT NOT NULL DEFAULT 'text',
				PRIMARY KEY (document_id, id),
				FOREIGN KEY(document_id) REFERENCES documents(id) ON DELETE CASCADE
			)`,
			`CREATE TABLE IF NOT EXISTS chat_messages (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL UNIQUE,
				document_id TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				field_id TEXT,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(document_id) REFERENCES documents(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_fields_document_ord ON fields(document_id, ord)`,
			`CREATE INDEX IF NOT EXISTS idx_chat_messages_document ON chat_messages(document_id, seq)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS documents (
				id VARCHAR(64) NOT NULL,
				filename VARCHAR(255) NOT NULL,
				original_content MEDIUMTEXT NOT NULL,
				file_path VARCHAR(1024) NOT NULL DEFAULT '',
				status VARCHAR(32) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				completed_at DATETIME(6) NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS fields (
				document_id VARCHAR(64) NOT NULL,
				id VARCHAR(64) NOT NULL,
				name VARCHAR(255) NOT NULL,
				placeholder VARCHAR(255) NOT NULL,
				occurrence_index INT NOT NULL,
				value TEXT NULL,
				status VARCHAR(32) NOT NULL,
				ord INT NOT NULL,
				type VARCHAR(32) NOT NULL DEFAULT 'text',
				PRIMARY KEY (document_id, id),
				INDEX idx_fields_document_ord (document_id, ord),
				CONSTRAINT fk_fields_document FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS chat_messages (
				seq BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				id VARCHAR(64) NOT NULL,
				document_id VARCHAR(64) NOT NULL,
				role VARCHAR(16) NOT NULL,
				content MEDIUMTEXT NOT NULL,
				field_id VARCHAR(64) NULL,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (seq),
				UNIQUE KEY uniq_chat_messages_id (id),
				INDEX idx_chat_messages_document (document_id, seq),
				CONSTRAINT fk_chat_messages_document FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

package executor

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	apperrors "drguard/internal/errors"
	"drguard/internal/record"
)

// Dumper produces a transactionally consistent SQL dump of the primary
// relational store
type Dumper interface {
	// Ping verifies connectivity
	Ping(ctx context.Context) error
	// ConsistencyMarker captures the binary-log position for point-in-time
	// recovery
	ConsistencyMarker(ctx context.Context) (string, error)
	// Dump writes a SQL dump to destPath and returns the number of tables
	// included. Incremental and differential dumps only include tables
	// changed since the given time.
	Dump(ctx context.Context, backupType record.BackupType, since time.Time, destPath string) (int, error)
}

// MySQLConfig configures the primary MySQL connection
type MySQLConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Database string `json:"database" yaml:"database"`
}

// MySQLDumper implements Dumper against MySQL
type MySQLDumper struct {
	db       *sql.DB
	database string
}

// NewMySQLDumper opens a connection pool for dumping
func NewMySQLDumper(config MySQLConfig) (*MySQLDumper, error) {
	if config.DSN == "" || config.Database == "" {
		return nil, apperrors.NewConfigurationError("MySQL DSN and database name are required", nil)
	}

	db, err := sql.Open("mysql", config.DSN)
	if err != nil {
		return nil, apperrors.NewConnectivityError("failed to open MySQL connection", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Hour)

	return &MySQLDumper{db: db, database: config.Database}, nil
}

// Close releases the connection pool
func (d *MySQLDumper) Close() error {
	return d.db.Close()
}

// Ping verifies connectivity
func (d *MySQLDumper) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return apperrors.NewConnectivityError("MySQL is unreachable", err)
	}
	return nil
}

// ConsistencyMarker captures the current binary-log position
func (d *MySQLDumper) ConsistencyMarker(ctx context.Context) (string, error) {
	rows, err := d.db.QueryContext(ctx, "SHOW MASTER STATUS")
	if err != nil {
		return "", apperrors.NewDumpError("failed to read binary log position", err)
	}
	defer rows.Close()

	if !rows.Next() {
		// Binary logging disabled; fall back to a timestamp marker
		return "ts:" + time.Now().UTC().Format(time.RFC3339Nano), nil
	}

	cols, err := rows.Columns()
	if err != nil {
		return "", apperrors.NewDumpError("failed to read master status columns", err)
	}
	values := make([]sql.RawBytes, len(cols))
	scanArgs := make([]interface{}, len(cols))
	for i := range values {
		scanArgs[i] = &values[i]
	}
	if err := rows.Scan(scanArgs...); err != nil {
		return "", apperrors.NewDumpError("failed to scan master status", err)
	}

	// First two columns are File and Position
	return fmt.Sprintf("binlog:%s:%s", values[0], values[1]), nil
}

// Dump writes a SQL dump of the configured database to destPath
func (d *MySQLDumper) Dump(ctx context.Context, backupType record.BackupType, since time.Time, destPath string) (int, error) {
	tx, err := d.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return 0, apperrors.NewDumpError("failed to start dump transaction", err)
	}
	defer tx.Rollback()

	tables, err := d.selectTables(ctx, tx, backupType, since)
	if err != nil {
		return 0, err
	}

	f, err := os.Create(destPath)
	if err != nil {
		return 0, apperrors.NewDumpError("failed to create dump file "+destPath, err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	fmt.Fprintf(w, "-- drguard %s dump of %s\n", backupType, d.database)
	fmt.Fprintf(w, "-- generated at %s\n\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "SET FOREIGN_KEY_CHECKS=0;\n\n")

	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return 0, apperrors.NewTimeoutError("dump cancelled", err)
		}
		if err := d.dumpTable(ctx, tx, w, table); err != nil {
			return 0, err
		}
	}

	if backupType == record.BackupTypeFull {
		if err := d.dumpTriggers(ctx, tx, w); err != nil {
			return 0, err
		}
		if err := d.dumpRoutines(ctx, tx, w); err != nil {
			return 0, err
		}
	}

	fmt.Fprintf(w, "SET FOREIGN_KEY_CHECKS=1;\n")
	if err := w.Flush(); err != nil {
		return 0, apperrors.NewDumpError("failed to flush dump file", err)
	}
	return len(tables), nil
}

func (d *MySQLDumper) selectTables(ctx context.Context, tx *sql.Tx, backupType record.BackupType, since time.Time) ([]string, error) {
	query := `SELECT table_name FROM information_schema.tables
		WHERE table_schema = ? AND table_type = 'BASE TABLE'`
	args := []interface{}{d.database}

	if backupType != record.BackupTypeFull && !since.IsZero() {
		query += ` AND (update_time IS NULL OR update_time >= ?)`
		args = append(args, since)
	}
	query += ` ORDER BY table_name`

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDumpError("failed to list tables", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.NewDumpError("failed to scan table name", err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (d *MySQLDumper) dumpTable(ctx context.Context, tx *sql.Tx, w *bufio.Writer, table string) error {
	var name, createStmt string
	row := tx.QueryRowContext(ctx, fmt.Sprintf("SHOW CREATE TABLE `%s`.`%s`", d.database, table))
	if err := row.Scan(&name, &createStmt); err != nil {
		return apperrors.NewDumpError("failed to read definition of table "+table, err)
	}

	fmt.Fprintf(w, "DROP TABLE IF EXISTS `%s`;\n%s;\n\n", table, createStmt)

	rows, err := tx.QueryContext(ctx, fmt.Sprintf("SELECT * FROM `%s`.`%s`", d.database, table))
	if err != nil {
		return apperrors.NewDumpError("failed to read rows of table "+table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return apperrors.NewDumpError("failed to read columns of table "+table, err)
	}

	values := make([]sql.RawBytes, len(cols))
	scanArgs := make([]interface{}, len(cols))
	for i := range values {
		scanArgs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return apperrors.NewDumpError("failed to scan row of table "+table, err)
		}
		fmt.Fprintf(w, "INSERT INTO `%s` VALUES (%s);\n", table, formatRow(values))
	}
	fmt.Fprintln(w)
	return rows.Err()
}

func (d *MySQLDumper) dumpTriggers(ctx context.Context, tx *sql.Tx, w *bufio.Writer) error {
	rows, err := tx.QueryContext(ctx, `SELECT trigger_name, event_manipulation, event_object_table,
		action_timing, action_statement FROM information_schema.triggers WHERE trigger_schema = ?`, d.database)
	if err != nil {
		return apperrors.NewDumpError("failed to list triggers", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, event, table, timing, body string
		if err := rows.Scan(&name, &event, &table, &timing, &body); err != nil {
			return apperrors.NewDumpError("failed to scan trigger", err)
		}
		fmt.Fprintf(w, "DROP TRIGGER IF EXISTS `%s`;\nCREATE TRIGGER `%s` %s %s ON `%s` FOR EACH ROW %s;\n\n",
			name, name, timing, event, table, body)
	}
	return rows.Err()
}

func (d *MySQLDumper) dumpRoutines(ctx context.Context, tx *sql.Tx, w *bufio.Writer) error {
	rows, err := tx.QueryContext(ctx, `SELECT routine_name, routine_type FROM information_schema.routines
		WHERE routine_schema = ?`, d.database)
	if err != nil {
		return apperrors.NewDumpError("failed to list routines", err)
	}
	defer rows.Close()

	type routine struct{ name, kind string }
	var routines []routine
	for rows.Next() {
		var r routine
		if err := rows.Scan(&r.name, &r.kind); err != nil {
			return apperrors.NewDumpError("failed to scan routine", err)
		}
		routines = append(routines, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range routines {
		var name, mode, body sql.NullString
		var charset, collation, dbCollation sql.NullString
		row := tx.QueryRowContext(ctx, fmt.Sprintf("SHOW CREATE %s `%s`.`%s`", r.kind, d.database, r.name))
		if err := row.Scan(&name, &mode, &body, &charset, &collation, &dbCollation); err != nil {
			return apperrors.NewDumpError("failed to read definition of routine "+r.name, err)
		}
		if body.Valid {
			fmt.Fprintf(w, "DROP %s IF EXISTS `%s`;\n%s;\n\n", r.kind, r.name, body.String)
		}
	}
	return nil
}

func formatRow(values []sql.RawBytes) string {
	parts := make([]string, len(values))
	for i, v := range values {
		if v == nil {
			parts[i] = "NULL"
			continue
		}
		parts[i] = "'" + strings.ReplaceAll(strings.ReplaceAll(string(v), `\`, `\\`), "'", `\'`) + "'"
	}
	return strings.Join(parts, ",")
}

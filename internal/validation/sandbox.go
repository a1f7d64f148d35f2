package validation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	apperrors "drguard/internal/errors"
)

// Sandbox is an isolated throwaway database used for restore tests.
// Teardown must run on every exit path.
type Sandbox interface {
	// ExecuteSQL runs restore statements inside the sandbox
	ExecuteSQL(ctx context.Context, statements []string) error
	// TableCount returns the number of tables created so far
	TableCount(ctx context.Context) (int, error)
	// OrphanCount samples one parent/child relationship and returns the
	// number of child rows without a matching parent
	OrphanCount(ctx context.Context, childTable, childColumn, parentTable, parentColumn string) (int, error)
	// Teardown destroys the sandbox
	Teardown() error
}

// SandboxFactory provisions sandboxes
type SandboxFactory interface {
	Acquire(ctx context.Context) (Sandbox, error)
}

// MySQLSandboxFactory creates throwaway MySQL databases on a test server
type MySQLSandboxFactory struct {
	dsn string
}

// NewMySQLSandboxFactory creates a factory connecting with the given DSN.
// The DSN must not name a database; each sandbox creates its own.
func NewMySQLSandboxFactory(dsn string) (*MySQLSandboxFactory, error) {
	if dsn == "" {
		return nil, apperrors.NewConfigurationError("sandbox DSN is required", nil)
	}
	return &MySQLSandboxFactory{dsn: dsn}, nil
}

// Acquire creates a uniquely named throwaway database
func (f *MySQLSandboxFactory) Acquire(ctx context.Context) (Sandbox, error) {
	db, err := sql.Open("mysql", f.dsn)
	if err != nil {
		return nil, apperrors.NewConnectivityError("failed to open sandbox connection", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apperrors.NewConnectivityError("sandbox server is unreachable", err)
	}

	name := "drguard_restore_" + strings.ReplaceAll(uuid.New().String()[:13], "-", "")
	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE `%s`", name)); err != nil {
		db.Close()
		return nil, apperrors.NewDumpError("failed to create sandbox database "+name, err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("USE `%s`", name)); err != nil {
		db.ExecContext(context.Background(), fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", name))
		db.Close()
		return nil, apperrors.NewDumpError("failed to select sandbox database "+name, err)
	}

	return &mysqlSandbox{db: db, name: name}, nil
}

type mysqlSandbox struct {
	db   *sql.DB
	name string
}

func (s *mysqlSandbox) ExecuteSQL(ctx context.Context, statements []string) error {
	for _, stmt := range statements {
		trimmed := strings.TrimSpace(stmt)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		if _, err := s.db.ExecContext(ctx, trimmed); err != nil {
			return apperrors.NewIntegrityError("restore statement failed: "+truncate(trimmed, 80), err)
		}
	}
	return nil
}

func (s *mysqlSandbox) TableCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ?", s.name).Scan(&count)
	if err != nil {
		return 0, apperrors.NewIntegrityError("failed to count sandbox tables", err)
	}
	return count, nil
}

func (s *mysqlSandbox) OrphanCount(ctx context.Context, childTable, childColumn, parentTable, parentColumn string) (int, error) {
	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM `%s` c LEFT JOIN `%s` p ON c.`%s` = p.`%s` WHERE c.`%s` IS NOT NULL AND p.`%s` IS NULL",
		childTable, parentTable, childColumn, parentColumn, childColumn, parentColumn)

	var count int
	if err := s.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, apperrors.NewIntegrityError("referential spot check query failed", err)
	}
	return count, nil
}

// Teardown drops the sandbox database. Uses a fresh context so cleanup
// still runs after the validation deadline expires.
func (s *mysqlSandbox) Teardown() error {
	_, err := s.db.ExecContext(context.Background(), fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", s.name))
	closeErr := s.db.Close()
	if err != nil {
		return apperrors.NewDumpError("failed to drop sandbox database "+s.name, err)
	}
	return closeErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

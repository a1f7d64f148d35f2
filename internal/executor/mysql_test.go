package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "drguard/internal/errors"
	"drguard/internal/record"
)

func mockDumper(t *testing.T) (*MySQLDumper, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &MySQLDumper{db: db, database: "shop"}, mock
}

func TestConsistencyMarkerFromBinlog(t *testing.T) {
	dumper, mock := mockDumper(t)
	mock.ExpectQuery("SHOW MASTER STATUS").WillReturnRows(
		sqlmock.NewRows([]string{"File", "Position", "Binlog_Do_DB", "Binlog_Ignore_DB"}).
			AddRow("mysql-bin.000042", "1337", "", ""))

	marker, err := dumper.ConsistencyMarker(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "binlog:mysql-bin.000042:1337", marker)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsistencyMarkerFallsBackToTimestamp(t *testing.T) {
	dumper, mock := mockDumper(t)
	mock.ExpectQuery("SHOW MASTER STATUS").WillReturnRows(
		sqlmock.NewRows([]string{"File", "Position"}))

	marker, err := dumper.ConsistencyMarker(context.Background())
	require.NoError(t, err)
	assert.Contains(t, marker, "ts:")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDumpFullWritesSchemaAndRows(t *testing.T) {
	dumper, mock := mockDumper(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("users"))
	mock.ExpectQuery("SHOW CREATE TABLE `shop`.`users`").WillReturnRows(
		sqlmock.NewRows([]string{"Table", "Create Table"}).
			AddRow("users", "CREATE TABLE `users` (`id` int, `email` varchar(190))"))
	mock.ExpectQuery("SELECT \\* FROM `shop`.`users`").WillReturnRows(
		sqlmock.NewRows([]string{"id", "email"}).
			AddRow(1, "ada@example.com").
			AddRow(2, "o'brien@example.com").
			AddRow(3, nil))
	mock.ExpectQuery("FROM information_schema.triggers").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"trigger_name", "event_manipulation", "event_object_table", "action_timing", "action_statement"}))
	mock.ExpectQuery("FROM information_schema.routines").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"routine_name", "routine_type"}))
	mock.ExpectRollback()

	destPath := filepath.Join(t.TempDir(), "dump.sql")
	tables, err := dumper.Dump(context.Background(), record.BackupTypeFull, time.Time{}, destPath)
	require.NoError(t, err)
	assert.Equal(t, 1, tables)

	dump, err := os.ReadFile(destPath)
	require.NoError(t, err)
	content := string(dump)
	assert.Contains(t, content, "SET FOREIGN_KEY_CHECKS=0;")
	assert.Contains(t, content, "DROP TABLE IF EXISTS `users`;")
	assert.Contains(t, content, "CREATE TABLE `users`")
	assert.Contains(t, content, "INSERT INTO `users` VALUES ('1','ada@example.com');")
	assert.Contains(t, content, `o\'brien@example.com`)
	assert.Contains(t, content, "INSERT INTO `users` VALUES ('3',NULL);")
	assert.Contains(t, content, "SET FOREIGN_KEY_CHECKS=1;")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDumpIncrementalFiltersBySince(t *testing.T) {
	dumper, mock := mockDumper(t)
	since := time.Now().Add(-6 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").
		WithArgs("shop", since).
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("orders"))
	mock.ExpectQuery("SHOW CREATE TABLE `shop`.`orders`").WillReturnRows(
		sqlmock.NewRows([]string{"Table", "Create Table"}).
			AddRow("orders", "CREATE TABLE `orders` (`id` int)"))
	mock.ExpectQuery("SELECT \\* FROM `shop`.`orders`").WillReturnRows(
		sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	destPath := filepath.Join(t.TempDir(), "dump.sql")
	tables, err := dumper.Dump(context.Background(), record.BackupTypeIncremental, since, destPath)
	require.NoError(t, err)
	assert.Equal(t, 1, tables)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDumpFailsWhenTableListUnreadable(t *testing.T) {
	dumper, mock := mockDumper(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT table_name FROM information_schema.tables").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	destPath := filepath.Join(t.TempDir(), "dump.sql")
	_, err := dumper.Dump(context.Background(), record.BackupTypeFull, time.Time{}, destPath)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeDump, apperrors.GetType(err))
}

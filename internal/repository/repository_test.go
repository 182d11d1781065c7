package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"wisefido-devicelink/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func TestListDevices_Success(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewDeviceRepository(db, zap.NewNop())

	seen := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "sim_iccid", "device_serial", "device_name", "firmware_version", "status",
		"last_battery", "last_flowrate", "last_rssi", "last_seen", "updated_at", "created_at",
	}).
		AddRow("1", "8933", nil, "OTT-1", "3.0", "active", 80.5, nil, -70.0, seen, seen, seen).
		AddRow("2", nil, "SN-2", "OTT-2", nil, "inactive", nil, nil, nil, nil, nil, nil)

	mock.ExpectQuery(`FROM devices`).WillReturnRows(rows)

	devices, err := repo.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)

	assert.Equal(t, "1", devices[0].ID.String())
	assert.Equal(t, "8933", *devices[0].ICCID)
	assert.Nil(t, devices[0].Serial)
	assert.Equal(t, models.NewNullFloat(80.5), devices[0].LastBattery)
	assert.False(t, devices[0].LastFlowrate.Valid)
	assert.True(t, devices[0].LastSeen.Time.Equal(seen))

	assert.Nil(t, devices[1].ICCID)
	assert.Equal(t, "SN-2", *devices[1].Serial)
	assert.False(t, devices[1].CreatedAt.Valid)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDevices_QueryError(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewDeviceRepository(db, zap.NewNop())

	mock.ExpectQuery(`FROM devices`).WillReturnError(errors.New("connection reset"))

	_, err := repo.ListDevices(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchUsbLogs_Success(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewUsbLogRepository(db, zap.NewNop())

	rows := sqlmock.NewRows([]string{"id", "log_line", "log_source", "timestamp_ms"}).
		AddRow(int64(8), "second", "device", int64(2000)).
		AddRow(int64(7), "first", "dashboard", int64(1000))

	mock.ExpectQuery(`FROM usb_logs`).
		WithArgs("8933", int64(1500), 100).
		WillReturnRows(rows)

	entries, err := repo.FetchUsbLogs(context.Background(), "8933", 100, 1500)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "remote-8", entries[0].ID)
	assert.Equal(t, int64(2000), entries[0].TimestampMs)
	assert.Equal(t, models.LogSourceRemote, entries[0].Source)
	assert.Equal(t, models.OriginDashboard, entries[1].Origin)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertUsbLogs_Transaction(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewUsbLogRepository(db, zap.NewNop())

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO usb_logs`)
	prep.ExpectExec().
		WithArgs("8933", "OTT-1", "boot", "device", int64(1000)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().
		WithArgs("8933", nil, "cmd", "dashboard", int64(1001)).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := repo.InsertUsbLogs(context.Background(), []models.UsbLogRecord{
		{DeviceIdentifier: "8933", DeviceName: "OTT-1", LogLine: "boot", LogSource: "unknown", TimestampMs: 1000},
		{DeviceIdentifier: "8933", LogLine: "cmd", LogSource: "dashboard", TimestampMs: 1001},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertUsbLogs_RollbackOnError(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()
	repo := NewUsbLogRepository(db, zap.NewNop())

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO usb_logs`)
	prep.ExpectExec().WillReturnError(errors.New("value too long"))
	mock.ExpectRollback()

	err := repo.InsertUsbLogs(context.Background(), []models.UsbLogRecord{{DeviceIdentifier: "k", LogLine: "x", TimestampMs: 1}})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.NoError(t, repo.InsertUsbLogs(context.Background(), nil))
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"wisefido-devicelink/internal/models"

	"go.uber.org/zap"
)

// UsbLogRepository usb_logs 表读写
type UsbLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUsbLogRepository creates a new usb log repository
func NewUsbLogRepository(db *sql.DB, logger *zap.Logger) *UsbLogRepository {
	return &UsbLogRepository{
		db:     db,
		logger: logger,
	}
}

// FetchUsbLogs 设备最近的日志（created_at 降序）；sinceMs > 0 时只返回 created_at >= since 的行
func (r *UsbLogRepository) FetchUsbLogs(ctx context.Context, deviceKey string, limit int, sinceMs int64) ([]models.LogEntry, error) {
	query := `
		SELECT
			id,
			log_line,
			COALESCE(log_source, 'device'),
			COALESCE(timestamp_ms, (EXTRACT(EPOCH FROM created_at) * 1000)::bigint)
		FROM usb_logs
		WHERE device_identifier = $1
		  AND ($2::bigint = 0 OR created_at >= to_timestamp($2::bigint / 1000.0))
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, deviceKey, sinceMs, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usb logs: %w", err)
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var (
			id     int64
			line   string
			origin string
			ts     int64
		)
		if err := rows.Scan(&id, &line, &origin, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan usb log: %w", err)
		}
		entries = append(entries, models.LogEntry{
			ID:          models.RemoteIDPrefix + strconv.FormatInt(id, 10),
			TimestampMs: ts,
			Line:        line,
			Source:      models.LogSourceRemote,
			Origin:      origin,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usb logs: %w", err)
	}
	return entries, nil
}

// InsertUsbLogs 在一个事务内批量写入
func (r *UsbLogRepository) InsertUsbLogs(ctx context.Context, records []models.UsbLogRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO usb_logs (device_identifier, device_name, log_line, log_source, timestamp_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, to_timestamp($5::bigint / 1000.0))
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare usb log insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		var name interface{}
		if rec.DeviceName != "" {
			name = rec.DeviceName
		}
		source := rec.LogSource
		if source != models.OriginDashboard {
			source = models.OriginDevice
		}
		if _, err := stmt.ExecContext(ctx, rec.DeviceIdentifier, name, rec.LogLine, source, rec.TimestampMs); err != nil {
			return fmt.Errorf("failed to insert usb log: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit usb logs: %w", err)
	}

	r.logger.Debug("Inserted usb logs", zap.Int("count", len(records)))
	return nil
}

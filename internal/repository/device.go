// Package repository Postgres 直连数据访问（DEVICE_SOURCE=postgres 时替代持久化服务 API）
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-devicelink/internal/models"

	"go.uber.org/zap"
)

// DeviceRepository devices 表只读访问
type DeviceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceRepository creates a new device repository
func NewDeviceRepository(db *sql.DB, logger *zap.Logger) *DeviceRepository {
	return &DeviceRepository{
		db:     db,
		logger: logger,
	}
}

// ListDevices 未删除的设备，按 id 排序（身份解析按此顺序 first-match）
func (r *DeviceRepository) ListDevices(ctx context.Context) ([]models.PersistedDevice, error) {
	query := `
		SELECT
			id,
			sim_iccid,
			device_serial,
			device_name,
			firmware_version,
			status,
			last_battery,
			last_flowrate,
			last_rssi,
			last_seen,
			updated_at,
			created_at
		FROM devices
		WHERE deleted_at IS NULL
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	var devices []models.PersistedDevice
	for rows.Next() {
		var (
			id                            string
			iccid, serial, name, firmware sql.NullString
			status                        sql.NullString
			battery, flowrate, rssi       sql.NullFloat64
			lastSeen, updatedAt, created  sql.NullTime
		)
		if err := rows.Scan(
			&id, &iccid, &serial, &name, &firmware, &status,
			&battery, &flowrate, &rssi,
			&lastSeen, &updatedAt, &created,
		); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}

		devices = append(devices, models.PersistedDevice{
			ID:              models.FlexString(id),
			ICCID:           nullStringPtr(iccid),
			Serial:          nullStringPtr(serial),
			Name:            name.String,
			FirmwareVersion: nullStringPtr(firmware),
			Status:          status.String,
			LastBattery:     nullFloat(battery),
			LastFlowrate:    nullFloat(flowrate),
			LastRssi:        nullFloat(rssi),
			LastSeen:        nullTime(lastSeen),
			UpdatedAt:       nullTime(updatedAt),
			CreatedAt:       nullTime(created),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate devices: %w", err)
	}
	return devices, nil
}

func nullStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullFloat(f sql.NullFloat64) models.NullFloat {
	return models.NullFloat{Float64: f.Float64, Valid: f.Valid}
}

func nullTime(t sql.NullTime) models.NullTime {
	return models.NullTime{Time: t.Time, Valid: t.Valid}
}

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"wisefido-devicelink/common/config"
	"wisefido-devicelink/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *PersistenceClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewPersistenceClient(&config.PersistenceAPIConfig{BaseURL: srv.URL, Token: "secret"}, zap.NewNop())
}

func TestListDevices_Envelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/devices", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"success":true,"devices":[{"id":"3","sim_iccid":"8933","device_serial":null,"device_name":"OTT-3","status":"active","last_battery":"55.0","last_seen":"2025-03-01 09:00:00+00"}]}`))
	})

	devices, err := c.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "3", devices[0].ID.String())
	assert.Equal(t, 55.0, devices[0].LastBattery.Float64)
	assert.True(t, devices[0].LastSeen.Valid)
}

func TestListDevices_BareArray(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":1,"device_name":"A"},{"id":2,"device_name":"B"}]`))
	})

	devices, err := c.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Len(t, devices, 2)
	assert.Equal(t, "2", devices[1].ID.String())
}

func TestListDevices_Errors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	_, err := c.ListDevices(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)

	c = newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"db down"}`))
	})
	_, err = c.ListDevices(context.Background())
	assert.ErrorContains(t, err, "db down")
}

func TestFetchUsbLogs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/usb-logs/OTT 7", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		assert.Equal(t, "1700000000000", r.URL.Query().Get("since"))
		_, _ = w.Write([]byte(`{"success":true,"logs":[
			{"id":12,"log_line":"b","timestamp_ms":"1700000000500.0","log_source":"device"},
			{"id":11,"log_line":"a","created_at":"2023-11-14T22:13:20.250Z","log_source":"dashboard"},
			{"id":10,"log_line":"no time"},
			{"log_line":"no id","timestamp_ms":1}
		]}`))
	})

	entries, err := c.FetchUsbLogs(context.Background(), "OTT 7", 100, 1700000000000)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "remote-12", entries[0].ID)
	assert.Equal(t, int64(1700000000500), entries[0].TimestampMs)
	assert.Equal(t, models.LogSourceRemote, entries[0].Source)
	assert.Equal(t, "remote-11", entries[1].ID)
	assert.Equal(t, int64(1700000000250), entries[1].TimestampMs)
	assert.Equal(t, models.OriginDashboard, entries[1].Origin)
}

func TestFetchUsbLogs_NoSinceAndMalformed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.False(t, r.URL.Query().Has("since"))
		_, _ = w.Write([]byte(`{"success":true,"logs":[`))
	})

	entries, err := c.FetchUsbLogs(context.Background(), "k", 100, 0)
	assert.Error(t, err)
	assert.Nil(t, entries)
}

func TestFetchUsbLogs_Unauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.FetchUsbLogs(context.Background(), "k", 100, 0)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestInsertUsbLogs_GroupsAndChunks(t *testing.T) {
	var (
		mu       sync.Mutex
		requests []postLogsRequest
	)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body postLogsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		requests = append(requests, body)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = fmt.Fprintf(w, `{"success":true,"inserted_count":%d}`, len(body.Logs))
	})

	var records []models.UsbLogRecord
	for i := 0; i < 150; i++ {
		records = append(records, models.UsbLogRecord{DeviceIdentifier: "A", LogLine: "l", LogSource: "device", TimestampMs: int64(i)})
	}
	records = append(records, models.UsbLogRecord{DeviceIdentifier: "B", LogLine: "x", LogSource: "dashboard"})

	require.NoError(t, c.InsertUsbLogs(context.Background(), records))
	require.Len(t, requests, 3)
	assert.Equal(t, "A", requests[0].DeviceIdentifier)
	assert.Len(t, requests[0].Logs, 100)
	assert.Len(t, requests[1].Logs, 50)
	assert.Equal(t, int64(100), requests[1].Logs[0].Timestamp)
	assert.Equal(t, "B", requests[2].DeviceIdentifier)
	assert.Equal(t, "dashboard", requests[2].Logs[0].LogSource)
}

func TestInsertUsbLogs_Failure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"error":"Maximum 100 logs"}`))
	})
	err := c.InsertUsbLogs(context.Background(), []models.UsbLogRecord{{DeviceIdentifier: "A", LogLine: "l"}})
	assert.Error(t, err)
}

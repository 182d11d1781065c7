package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"wisefido-devicelink/internal/config"
	httpapi "wisefido-devicelink/internal/httpapi"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakePersistenceAPI 模拟持久化服务的 /devices 和 /usb-logs
type fakePersistenceAPI struct {
	mu        sync.Mutex
	devices   int
	logCalls  int
	logsPaths []string
}

func (f *fakePersistenceAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/devices":
		f.devices++
		_, _ = w.Write([]byte(`{"success":true,"devices":[{"id":12,"sim_iccid":"89330123456789012301","device_serial":"SN-12","device_name":"OTT-12","status":"active","last_battery":"81"}]}`))
	case strings.HasPrefix(r.URL.Path, "/usb-logs/"):
		f.logCalls++
		f.logsPaths = append(f.logsPaths, r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"logs":[{"id":1,"log_line":"[GPS] fix ok","log_source":"device","timestamp_ms":1700000000000}]}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakePersistenceAPI) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices, f.logCalls
}

func testConfig(t *testing.T, apiURL string) *config.Config {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := &config.Config{}
	cfg.Redis.Addr = mr.Addr()
	cfg.PersistenceAPI.BaseURL = apiURL
	cfg.PersistenceAPI.Timeout = 2 * time.Second
	cfg.DeviceSource = config.DeviceSourceAPI
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Resolver.CacheTTL = 30 * time.Second
	cfg.Logs.PollInterval = 20 * time.Millisecond
	cfg.Logs.FetchLimit = 100
	cfg.Logs.ViewMax = 500
	cfg.Logs.LocalMax = 500
	return cfg
}

func TestNewDeviceLinkService_RedisUnavailable(t *testing.T) {
	cfg := &config.Config{}
	cfg.Redis.Addr = "127.0.0.1:1"
	cfg.DeviceSource = config.DeviceSourceAPI

	_, err := NewDeviceLinkService(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}

func TestDeviceLinkService_WatchPollsPersistenceAPI(t *testing.T) {
	api := &fakePersistenceAPI{}
	apiSrv := httptest.NewServer(api)
	defer apiSrv.Close()

	svc, err := NewDeviceLinkService(testConfig(t, apiSrv.URL), zap.NewNop())
	require.NoError(t, err)
	defer svc.Stop(context.Background())

	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	post := func(path, body string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("X-User-Id", "admin-1")
		req.Header.Set("X-User-Role", "admin")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := post(httpapi.SessionsPrefix, "")
	var created httpapi.Result[struct {
		SessionID string `json:"session_id"`
	}]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Equal(t, httpapi.ResultSuccess, created.Code)

	resp = post(httpapi.SessionsPrefix+"/"+created.Result.SessionID+"/watch", `{"device_key":"SN-12"}`)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		_, logs := api.calls()
		return logs > 0
	}, 2*time.Second, 10*time.Millisecond)

	s, err := svc.Sessions().Get(created.Result.SessionID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(s.Snapshot().Logs.Entries) == 1
	}, 2*time.Second, 10*time.Millisecond)

	snap := s.Snapshot()
	assert.True(t, snap.Logs.IsStreamingRemote)
	assert.Equal(t, "remote-1", snap.Logs.Entries[0].ID)
	assert.Equal(t, "SN-12", snap.Fields["serial"].Value)

	devices, _ := api.calls()
	assert.Equal(t, 1, devices, "watch loads the device list once")

	api.mu.Lock()
	assert.Equal(t, "/usb-logs/SN-12", api.logsPaths[0])
	api.mu.Unlock()
}

func TestDeviceLinkService_SerialPatternSelectsLocalDevices(t *testing.T) {
	api := &fakePersistenceAPI{}
	apiSrv := httptest.NewServer(api)
	defer apiSrv.Close()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "usb-OTT-SN-12"), []byte("[BOOT] ready\n"), 0o600))

	cfg := testConfig(t, apiSrv.URL)
	cfg.Link.SerialPattern = filepath.Join(dir, "usb-OTT-%s")
	svc, err := NewDeviceLinkService(cfg, zap.NewNop())
	require.NoError(t, err)
	defer svc.Stop(context.Background())

	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	post := func(path, body string) (*http.Response, string) {
		resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp, string(data)
	}

	_, body := post(httpapi.SessionsPrefix, "")
	var created httpapi.Result[struct {
		SessionID string `json:"session_id"`
	}]
	require.NoError(t, json.Unmarshal([]byte(body), &created))

	resp, body := post(httpapi.SessionsPrefix+"/"+created.Result.SessionID+"/connect", `{"device_key":"SN-12"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode, body)

	// 本机没有对应的设备文件
	_, body = post(httpapi.SessionsPrefix, "")
	require.NoError(t, json.Unmarshal([]byte(body), &created))
	resp, body = post(httpapi.SessionsPrefix+"/"+created.Result.SessionID+"/connect", `{"device_key":"SN-99"}`)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, body, `"code":50201`)
}

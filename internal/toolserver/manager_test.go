package toolserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"polyagent/internal/errs"
	"polyagent/internal/gateway/provider"
	"polyagent/internal/pkg/circuit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockConnector struct {
	mock.Mock
}

func (m *MockConnector) New(cfg Config) (Handle, error) {
	args := m.Called(cfg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Handle), args.Error(1)
}

type MockHandle struct {
	mock.Mock
}

func (m *MockHandle) Connect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockHandle) Tools(ctx context.Context) ([]provider.Tool, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]provider.Tool), args.Error(1)
}

func (m *MockHandle) CallTool(ctx context.Context, name string, in map[string]any) (string, error) {
	args := m.Called(ctx, name, in)
	return args.String(0), args.Error(1)
}

func (m *MockHandle) Close() error { return m.Called().Error(0) }

func (m *MockHandle) Info() ServerInfo { return m.Called().Get(0).(ServerInfo) }

func validConfig() Config {
	return Config{
		Name:         "crypto",
		URL:          "https://mcp.example.com/sse",
		Timeout:      5 * time.Second,
		CacheEnabled: true,
		CacheTTL:     time.Minute,
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"http", func(c *Config) { c.URL = "http://localhost:8811/sse" }, true},
		{"zero ttl", func(c *Config) { c.CacheTTL = 0 }, true},
		{"missing url", func(c *Config) { c.URL = "" }, false},
		{"bad scheme", func(c *Config) { c.URL = "ws://mcp.example.com" }, false},
		{"no host", func(c *Config) { c.URL = "https://" }, false},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, false},
		{"negative ttl", func(c *Config) { c.CacheTTL = -time.Second }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errs.IsConfiguration(err))
			assert.False(t, errs.Retryable(err))
		})
	}
}

func TestManager_CreateWithoutConnectorIsAbsent(t *testing.T) {
	m := NewManager(nil)
	h, err := m.Create(context.Background(), validConfig())
	assert.NoError(t, err)
	assert.Nil(t, h)

	av := m.Probe(context.Background(), validConfig())
	assert.Equal(t, Unavailable, av.Kind)
	assert.Nil(t, av.Handle)
}

func TestManager_CreateFailureIsRetryableToolServerError(t *testing.T) {
	conn := new(MockConnector)
	conn.On("New", mock.Anything).Return(nil, errors.New("bad internal state"))
	m := NewManager(conn)

	h, err := m.Create(context.Background(), validConfig())
	assert.Nil(t, h)
	var tsErr *errs.ToolServerError
	require.ErrorAs(t, err, &tsErr)
	assert.Equal(t, "https://mcp.example.com/sse", tsErr.Endpoint)
	assert.True(t, errs.Retryable(err))
}

func TestManager_ProbeStates(t *testing.T) {
	t.Run("configuration invalid", func(t *testing.T) {
		conn := new(MockConnector)
		m := NewManager(conn)
		cfg := validConfig()
		cfg.URL = "ftp://nope"
		av := m.Probe(context.Background(), cfg)
		assert.Equal(t, ConfigurationInvalid, av.Kind)
		assert.True(t, errs.IsConfiguration(av.Err))
		conn.AssertNotCalled(t, "New", mock.Anything)
	})

	t.Run("constructor failure is unavailable", func(t *testing.T) {
		conn := new(MockConnector)
		conn.On("New", mock.Anything).Return(nil, errors.New("boom"))
		av := NewManager(conn).Probe(context.Background(), validConfig())
		assert.Equal(t, Unavailable, av.Kind)
		assert.Contains(t, av.Reason, "boom")
	})

	t.Run("available", func(t *testing.T) {
		h := new(MockHandle)
		conn := new(MockConnector)
		conn.On("New", mock.Anything).Return(h, nil)
		av := NewManager(conn).Probe(context.Background(), validConfig())
		require.Equal(t, Available, av.Kind)
		assert.Same(t, h, av.Handle)
	})
}

func TestManager_BreakerOpensAfterFailures(t *testing.T) {
	conn := new(MockConnector)
	conn.On("New", mock.Anything).Return(nil, errors.New("refused"))
	cb := circuit.NewCircuitBreaker("toolserver", 2, time.Hour)
	cb.SetStateChangeHandler(func(string, circuit.State, circuit.State) {})
	m := NewManager(conn, WithBreaker(cb))

	for i := 0; i < 2; i++ {
		assert.Equal(t, Unavailable, m.Probe(context.Background(), validConfig()).Kind)
	}
	av := m.Probe(context.Background(), validConfig())
	assert.Equal(t, Unavailable, av.Kind)
	assert.Equal(t, "circuit open", av.Reason)
	conn.AssertNumberOfCalls(t, "New", 2)
}

func TestManager_GuardedConnectRecordsFailures(t *testing.T) {
	h := new(MockHandle)
	h.On("Connect", mock.Anything).Return(errors.New("refused"))
	conn := new(MockConnector)
	conn.On("New", mock.Anything).Return(h, nil)
	cb := circuit.NewCircuitBreaker("toolserver", 1, time.Hour)
	cb.SetStateChangeHandler(func(string, circuit.State, circuit.State) {})
	m := NewManager(conn, WithBreaker(cb))

	av := m.Probe(context.Background(), validConfig())
	require.Equal(t, Available, av.Kind)
	assert.Error(t, av.Handle.Connect(context.Background()))
	assert.Equal(t, circuit.StateOpen, cb.State())
}

func TestManager_InfoNilHandle(t *testing.T) {
	info := NewManager(nil).Info(nil)
	assert.Equal(t, StatusUnavailable, info.Status)
	assert.NotEmpty(t, info.Error)
}

type recordingStatus struct{ seen []bool }

func (r *recordingStatus) ObserveToolServer(ok bool) { r.seen = append(r.seen, ok) }

func TestManager_StatusObserver(t *testing.T) {
	obs := &recordingStatus{}
	h := new(MockHandle)
	conn := new(MockConnector)
	conn.On("New", mock.Anything).Return(h, nil)

	NewManager(nil, WithStatusObserver(obs)).Probe(context.Background(), validConfig())
	NewManager(conn, WithStatusObserver(obs)).Probe(context.Background(), validConfig())
	assert.Equal(t, []bool{false, true}, obs.seen)
}

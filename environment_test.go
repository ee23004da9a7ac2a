package mongosink

import (
	"context"
	"testing"
	"time"

	"github.com/mongodb/mongosink/config"
	"github.com/mongodb/mongosink/mock"
	"github.com/mongodb/mongosink/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalEnvironment(t *testing.T) {
	assert.NotNil(t, GetEnvironment())
	assert.True(t, GetEnvironment() == GetEnvironment())
}

func TestEnvironment(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	t.Run("NotSetUp", func(t *testing.T) {
		env := NewEnvironment()
		_, err := env.GetResolver()
		assert.Error(t, err)
		_, err = env.GetReconciler()
		assert.Error(t, err)
		_, err = env.GetMonitor()
		assert.Error(t, err)
		assert.NoError(t, env.Close(ctx))
	})
	t.Run("SetupWithDefaults", func(t *testing.T) {
		env := NewEnvironment()
		require.NoError(t, env.Setup(ctx, EnvironmentOptions{APM: config.APM{Tracing: true, LogInterval: time.Minute}}))
		r, err := env.GetResolver()
		require.NoError(t, err)
		assert.NotNil(t, r)
		rec, err := env.GetReconciler()
		require.NoError(t, err)
		assert.NotNil(t, rec)
		monitor, err := env.GetMonitor()
		require.NoError(t, err)
		assert.NotNil(t, monitor.DriverAPM())

		assert.NoError(t, env.Close(ctx))
	})
	t.Run("SetupTwice", func(t *testing.T) {
		env := NewEnvironment()
		require.NoError(t, env.Setup(ctx, EnvironmentOptions{}))
		assert.Error(t, env.Setup(ctx, EnvironmentOptions{}))
	})
	t.Run("NegativeLogInterval", func(t *testing.T) {
		env := NewEnvironment()
		assert.Error(t, env.Setup(ctx, EnvironmentOptions{APM: config.APM{LogInterval: -time.Second}}))
		_, err := env.GetResolver()
		assert.Error(t, err)
	})
	t.Run("CloseAllowsSetupAgain", func(t *testing.T) {
		env := NewEnvironment()
		require.NoError(t, env.RegisterConnectionString("main", "mongodb://localhost"))
		require.NoError(t, env.Setup(ctx, EnvironmentOptions{Factory: mock.NewDatabaseFactory(mock.NewDatabase("NLog"))}))
		require.NoError(t, env.Close(ctx))

		_, err := env.GetResolver()
		assert.Error(t, err)
		cs, ok := env.GetConnectionString("main")
		assert.True(t, ok)
		assert.Equal(t, "mongodb://localhost", cs)

		require.NoError(t, env.Setup(ctx, EnvironmentOptions{}))
		_, err = env.GetResolver()
		assert.NoError(t, err)
	})
	t.Run("SharedCache", func(t *testing.T) {
		cache := resolver.NewCache()
		factory := mock.NewDatabaseFactory(mock.NewDatabase("NLog"))
		first, second := NewEnvironment(), NewEnvironment()
		require.NoError(t, first.Setup(ctx, EnvironmentOptions{Cache: cache, Factory: factory}))
		require.NoError(t, second.Setup(ctx, EnvironmentOptions{Cache: cache, Factory: factory}))

		for _, env := range []Environment{first, second} {
			sink, err := NewSink(env, SinkOptions{Settings: testSettings()})
			require.NoError(t, err)
			require.NoError(t, sink.Initialize(ctx))
		}
		assert.Equal(t, 1, factory.OpenCount())
		assert.Equal(t, 1, cache.Len())
	})
}

func TestConnectionStringRegistry(t *testing.T) {
	env := NewEnvironment()
	t.Run("EmptyName", func(t *testing.T) {
		assert.Error(t, env.RegisterConnectionString("", "mongodb://localhost"))
	})
	t.Run("EmptyValue", func(t *testing.T) {
		assert.Error(t, env.RegisterConnectionString("main", ""))
		_, ok := env.GetConnectionString("main")
		assert.False(t, ok)
	})
	t.Run("Register", func(t *testing.T) {
		require.NoError(t, env.RegisterConnectionString("main", "mongodb://a"))
		cs, ok := env.GetConnectionString("main")
		assert.True(t, ok)
		assert.Equal(t, "mongodb://a", cs)
	})
	t.Run("SameValueAgain", func(t *testing.T) {
		assert.NoError(t, env.RegisterConnectionString("main", "mongodb://a"))
	})
	t.Run("Conflict", func(t *testing.T) {
		assert.Error(t, env.RegisterConnectionString("main", "mongodb://b"))
		cs, _ := env.GetConnectionString("main")
		assert.Equal(t, "mongodb://a", cs)
	})
}

package smtp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/busybox42/minimta/internal/logging"
	"github.com/busybox42/minimta/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestServer(t *testing.T, config *Config, st store.Store) *Server {
	t.Helper()
	if config.ListenAddr == "" {
		config.ListenAddr = "127.0.0.1:0"
	}
	if config.Hostname == "" {
		config.Hostname = "mx.test"
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 2 * time.Second
	}

	server, err := NewServer(config, st, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Close() })
	return server
}

func deliver(t *testing.T, addr, from, to, body string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, addr, &ClientConfig{Identifier: "relay.test"},
		NewMessageComposer(from, to, body), logging.Discard())
	if err != nil {
		return err
	}
	return client.Send(ctx)
}

func TestNewServer(t *testing.T) {
	tests := []struct {
		name      string
		config    *Config
		st        store.Store
		wantError bool
	}{
		{"basic config", &Config{ListenAddr: "127.0.0.1:0"}, store.NewMemory(), false},
		{"nil config", nil, store.NewMemory(), true},
		{"nil store", &Config{ListenAddr: "127.0.0.1:0"}, nil, true},
		{"missing address", &Config{}, store.NewMemory(), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server, err := NewServer(tc.config, tc.st, logging.Discard())
			if tc.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "localhost", server.config.Hostname)
			assert.Equal(t, defaultShutdownTimeout, server.config.ShutdownTimeout)
			assert.Nil(t, server.Addr())
		})
	}
}

func TestServerStartFailsOnBusyAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	server, err := NewServer(&Config{ListenAddr: ln.Addr().String()}, store.NewMemory(), logging.Discard())
	require.NoError(t, err)
	assert.Error(t, server.Start())
}

func TestServerDeliversToFileStore(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewFile(dir)
	require.NoError(t, err)

	server := startTestServer(t, &Config{}, st)
	require.NoError(t, deliver(t, server.Addr().String(), "alice", "bob", "Hi Bob\n.leading dot\n"))

	data, err := os.ReadFile(filepath.Join(dir, "bob.txt"))
	require.NoError(t, err)
	assert.Equal(t, "alice\nHi Bob\n.leading dot\n", string(data))
}

func TestServerConcurrentSessionsAreIsolated(t *testing.T) {
	st := store.NewMemory()
	server := startTestServer(t, &Config{}, st)
	addr := server.Addr().String()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- deliver(t, addr,
				fmt.Sprintf("sender%d", i),
				fmt.Sprintf("rcpt%d", i),
				fmt.Sprintf("message %d\n", i))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	for i := 0; i < n; i++ {
		env, err := st.Load(context.Background(), fmt.Sprintf("rcpt%d", i))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("sender%d", i), env.Sender)
		assert.Equal(t, fmt.Sprintf("message %d\n", i), env.Body)
	}
}

func TestServerSameRecipientLastWriteWins(t *testing.T) {
	st := store.NewMemory()
	server := startTestServer(t, &Config{}, st)
	addr := server.Addr().String()

	require.NoError(t, deliver(t, addr, "alice", "bob", "first\n"))
	require.NoError(t, deliver(t, addr, "carol", "bob", "second\n"))

	env, err := st.Load(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "carol", env.Sender)
	assert.Equal(t, "second\n", env.Body)
	assert.Equal(t, 2, st.Writes())
}

func TestServerStalledPeerDoesNotBlockOthers(t *testing.T) {
	st := store.NewMemory()
	server := startTestServer(t, &Config{}, st)
	addr := server.Addr().String()

	stalled, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer stalled.Close()

	require.NoError(t, deliver(t, addr, "alice", "bob", "through\n"))

	env, err := st.Load(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "through\n", env.Body)
}

func TestServerCloseUnblocksStalledSessions(t *testing.T) {
	server := startTestServer(t, &Config{}, store.NewMemory())

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	r := bufio.NewReader(conn)
	greeting, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "220 mx.test\r\n", greeting)

	start := time.Now()
	require.NoError(t, server.Close())
	assert.Less(t, time.Since(start), 2*time.Second)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = r.ReadString('\n')
	assert.Error(t, err)

	// Close is idempotent.
	assert.NoError(t, server.Close())
	assert.NoError(t, server.Wait())
}

func TestServerSingleMode(t *testing.T) {
	st := store.NewMemory()
	server := startTestServer(t, &Config{Single: true}, st)
	addr := server.Addr().String()

	require.NoError(t, deliver(t, addr, "alice", "bob", "only one\n"))

	done := make(chan error, 1)
	go func() { done <- server.Wait() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("single-mode server kept accepting")
	}

	_, err := net.DialTimeout("tcp", addr, time.Second)
	assert.Error(t, err)
	assert.Equal(t, 1, st.Writes())
}

func TestServerMetricsTrackSessions(t *testing.T) {
	server := startTestServer(t, &Config{}, store.NewMemory())
	addr := server.Addr().String()

	require.NoError(t, deliver(t, addr, "alice", "bob", "x\n"))
	require.NoError(t, deliver(t, addr, "alice", "carol", "y\n"))

	m := server.Metrics()
	assert.Eventually(t, func() bool {
		return m.ActiveSessions() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2.0, counterValue(t, m.ConnectionsTotal))
	assert.Equal(t, int64(2), m.AcceptedMessages())
}

package relay

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chromefleet/internal/process"
	"chromefleet/internal/proxy"
	pkgerrors "chromefleet/pkg/errors"
)

const (
	DefaultWaitTimeout = 3 * time.Second
	DefaultStopGrace   = 2 * time.Second
	pollInterval       = 100 * time.Millisecond
)

// Options configures a Manager.
type Options struct {
	// Engine may be nil, in which case every Start fails.
	Engine      Engine
	Spawner     process.Spawner
	WaitTimeout time.Duration
	StopGrace   time.Duration
	Logger      zerolog.Logger

	// PickPort and Probe are replaceable for tests.
	PickPort func() (int, error)
	Probe    func(ctx context.Context, addr string, timeout time.Duration) bool
}

type instance struct {
	profileID string
	port      int
	proc      process.Process
	cleanup   func()
	upstream  Upstream
}

// Manager owns the relay subprocesses of one application context.
type Manager struct {
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	running map[string]*instance
}

// NewManager creates a relay manager.
func NewManager(opts Options) *Manager {
	if opts.Spawner == nil {
		opts.Spawner = process.ExecSpawner{}
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultStopGrace
	}
	if opts.PickPort == nil {
		opts.PickPort = freePort
	}
	if opts.Probe == nil {
		opts.Probe = waitForPort
	}
	return &Manager{
		opts:    opts,
		logger:  opts.Logger,
		running: make(map[string]*instance),
	}
}

// Supports reports whether ep can be relayed at all.
func Supports(ep proxy.Endpoint) bool {
	return ep.HasAuth() && len(candidates(ep)) > 0
}

// Start launches a credential-free local HTTP relay for ep and returns its
// URL. An existing relay for profileID is stopped first.
func (m *Manager) Start(ctx context.Context, profileID string, ep proxy.Endpoint) (string, error) {
	engineName := "relay"
	if m.opts.Engine != nil {
		engineName = m.opts.Engine.Name()
	}

	if !ep.HasAuth() {
		return "", &pkgerrors.RelayError{Engine: engineName, Err: fmt.Errorf("%w: endpoint has no credentials", pkgerrors.ErrRelayUnavailable)}
	}
	ups := candidates(ep)
	if len(ups) == 0 {
		return "", &pkgerrors.RelayError{Engine: engineName, Err: fmt.Errorf("%w: scheme %s", pkgerrors.ErrRelayUnavailable, ep.Scheme)}
	}
	if m.opts.Engine == nil {
		return "", &pkgerrors.RelayError{Engine: engineName, Err: fmt.Errorf("%w: %w", pkgerrors.ErrRelayUnavailable, pkgerrors.ErrRelayBinaryNotFound)}
	}

	if err := m.Stop(profileID); err != nil {
		m.logger.Warn().Err(err).Str("profile", profileID).Msg("failed to stop previous relay")
	}

	port, err := m.opts.PickPort()
	if err != nil {
		return "", &pkgerrors.RelayError{Engine: engineName, Err: fmt.Errorf("%w: no free port: %w", pkgerrors.ErrRelayUnavailable, err)}
	}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	var lastErr error
	for _, up := range ups {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		log := m.logger.With().
			Str("profile", profileID).
			Str("engine", engineName).
			Int("port", port).
			Str("upstream", string(up.Scheme)).
			Bool("tls", up.TLS).
			Logger()

		spec, cleanup, err := m.opts.Engine.Command(port, up)
		if err != nil {
			cleanup()
			lastErr = err
			log.Debug().Err(err).Msg("relay command failed")
			continue
		}

		proc, err := m.opts.Spawner.Spawn(spec)
		if err != nil {
			cleanup()
			lastErr = err
			log.Debug().Err(err).Msg("relay spawn failed")
			continue
		}

		if m.opts.Probe(ctx, addr, m.opts.WaitTimeout) {
			m.mu.Lock()
			m.running[profileID] = &instance{
				profileID: profileID,
				port:      port,
				proc:      proc,
				cleanup:   cleanup,
				upstream:  up,
			}
			m.mu.Unlock()
			log.Info().Int("pid", proc.Pid()).Msg("relay started")
			return "http://" + addr, nil
		}

		// Reap before the next candidate reuses the port
		proc.Kill()
		proc.Wait()
		cleanup()
		lastErr = fmt.Errorf("relay did not bind %s within %s", addr, m.opts.WaitTimeout)
		log.Debug().Msg("relay candidate did not come up")
	}

	if lastErr == nil {
		lastErr = pkgerrors.ErrRelayUnavailable
	}
	return "", &pkgerrors.RelayError{Engine: engineName, Err: fmt.Errorf("%w: %w", pkgerrors.ErrRelayUnavailable, lastErr)}
}

// Stop terminates the relay for profileID. Unknown ids are a no-op.
func (m *Manager) Stop(profileID string) error {
	m.mu.Lock()
	inst, ok := m.running[profileID]
	delete(m.running, profileID)
	m.mu.Unlock()

	if !ok {
		return nil
	}

	process.Terminate(inst.proc, m.opts.StopGrace)
	inst.cleanup()
	m.logger.Debug().Str("profile", profileID).Int("port", inst.port).Msg("relay stopped")
	return nil
}

// Active returns the profile ids with a running relay.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shutdown stops every relay.
func (m *Manager) Shutdown() {
	var wg sync.WaitGroup
	for _, id := range m.Active() {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.Stop(id)
		}(id)
	}
	wg.Wait()
}

// freePort asks the OS for an available TCP port.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port, nil
}

// waitForPort polls a TCP address until it's accepting connections or timeout.
func waitForPort(ctx context.Context, addr string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			conn.Close()
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(pollInterval):
		}
	}
	return false
}

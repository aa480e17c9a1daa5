package etcd

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"k8s.io/apimachinery/pkg/util/wait"
)

// Session owns the etcd client and the lease that plays the role of a
// ZooKeeper session: keys created as ephemeral are attached to the lease and
// disappear with it.
type Session struct {
	cfg    *SessionConfig
	logger *zap.SugaredLogger
	client *clientv3.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	lease     *concurrency.Session
	listeners []Listener
}

// NewSession creates the store client. No lease exists until Start.
func NewSession(endpoints []string, opts ...SessionOption) (*Session, error) {
	var cfg SessionConfig
	cfg.Options(opts...)
	cfg.Default()

	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no store endpoints")
	}

	clientCfg := clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: cfg.DialTimeout,
		TLS:         cfg.TLS,
		Logger:      cfg.Logger.Desugar().Named("etcd-client"),
	}
	if cfg.BlockingDial {
		clientCfg.DialOptions = []grpc.DialOption{grpc.WithBlock()}
	}

	client, err := clientv3.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:    &cfg,
		logger: cfg.Logger,
		client: client,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start establishes the first lease, retrying until ctx is done, and starts
// the goroutines that track session loss and connectivity.
func (s *Session) Start(ctx context.Context) error {
	if err := s.establish(ctx); err != nil {
		return fmt.Errorf("failed to establish store session: %w", err)
	}

	s.wg.Add(2)
	go s.keepSession()
	go s.watchConnectivity()
	return nil
}

func (s *Session) Close() error {
	s.cancel()

	s.mu.Lock()
	lease := s.lease
	s.lease = nil
	s.mu.Unlock()

	if lease != nil {
		if err := lease.Close(); err != nil {
			s.logger.Debugw("Failed to revoke session lease", "error", err)
		}
	}
	err := s.client.Close()
	s.wg.Wait()
	return err
}

// AddListener registers fn for session state transitions.
func (s *Session) AddListener(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// SessionID returns the current lease ID.
func (s *Session) SessionID() (int64, bool) {
	lease := s.current()
	if lease == nil {
		return 0, false
	}
	return int64(lease.Lease()), true
}

func (s *Session) SetEndpoints(endpoints []string) {
	s.logger.Infow("Updating store endpoints", "endpoints", endpoints)
	s.client.SetEndpoints(endpoints...)
}

// Restart revokes the current lease, dropping every ephemeral key it owns,
// and waits for a replacement lease.
func (s *Session) Restart(ctx context.Context) error {
	old := s.current()
	var oldID int64
	if old != nil {
		oldID = int64(old.Lease())
		if err := old.Close(); err != nil {
			s.logger.Warnw("Failed to revoke session lease", "session_id", oldID, "error", err)
		}
	}

	return wait.PollUntilContextTimeout(ctx, 50*time.Millisecond, s.cfg.SessionTimeout, true, func(context.Context) (bool, error) {
		id, ok := s.SessionID()
		return ok && id != oldID, nil
	})
}

func (s *Session) current() *concurrency.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lease
}

func (s *Session) notify(state SessionState) {
	s.mu.RLock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(state)
	}
}

func (s *Session) establish(ctx context.Context) error {
	ttl := int64(math.Max(1, s.cfg.SessionTimeout.Seconds()))
	backoff := wait.Backoff{
		Duration: 100 * time.Millisecond,
		Factor:   2,
		Jitter:   0.1,
		Steps:    math.MaxInt32,
		Cap:      s.cfg.RetryMaxDelay,
	}

	return backoff.DelayFunc().Until(ctx, true, false, func(ctx context.Context) (bool, error) {
		if s.ctx.Err() != nil {
			return false, s.ctx.Err()
		}

		grantCtx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
		resp, err := s.client.Grant(grantCtx, ttl)
		cancel()
		if err != nil {
			s.logger.Warnw("Failed to grant session lease", "error", err)
			return false, nil
		}

		lease, err := concurrency.NewSession(s.client,
			concurrency.WithLease(resp.ID),
			concurrency.WithTTL(int(ttl)),
			concurrency.WithContext(s.ctx),
		)
		if err != nil {
			s.logger.Warnw("Failed to start session keepalive", "error", err)
			return false, nil
		}

		s.mu.Lock()
		s.lease = lease
		s.mu.Unlock()

		s.logger.Infow("Store session established", "session_id", int64(resp.ID), "ttl", ttl)
		s.notify(StateConnected)
		return true, nil
	})
}

func (s *Session) keepSession() {
	defer s.wg.Done()

	for {
		lease := s.current()
		if lease == nil {
			return
		}

		select {
		case <-s.ctx.Done():
			return
		case <-lease.Done():
		}

		s.mu.Lock()
		if s.lease == lease {
			s.lease = nil
		}
		s.mu.Unlock()

		s.logger.Warnw("Store session lost", "session_id", int64(lease.Lease()))
		s.notify(StateLost)

		if err := s.establish(s.ctx); err != nil {
			return
		}
	}
}

// watchConnectivity reports the gRPC connection dropping into transient
// failure as a suspended session.
func (s *Session) watchConnectivity() {
	defer s.wg.Done()

	conn := s.client.ActiveConnection()
	if conn == nil {
		return
	}

	state := conn.GetState()
	suspended := false
	for conn.WaitForStateChange(s.ctx, state) {
		state = conn.GetState()
		switch state {
		case connectivity.TransientFailure:
			if !suspended {
				suspended = true
				s.logger.Warnw("Store connection suspended")
				s.notify(StateSuspended)
			}
		case connectivity.Ready:
			if suspended {
				suspended = false
				s.logger.Infow("Store connection resumed")
				s.notify(StateConnected)
			}
		}
	}
}

type SessionConfig struct {
	Logger         *zap.SugaredLogger
	SessionTimeout time.Duration
	DialTimeout    time.Duration
	RetryMaxDelay  time.Duration
	TLS            *tls.Config
	BlockingDial   bool
}

func (c *SessionConfig) Options(opts ...SessionOption) {
	for _, opt := range opts {
		opt.ConfigureSession(c)
	}
}

func (c *SessionConfig) Default() {
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.RetryMaxDelay == 0 {
		c.RetryMaxDelay = time.Second
	}
}

type SessionOption interface {
	ConfigureSession(*SessionConfig)
}

type WithLogger struct {
	Logger *zap.SugaredLogger
}

func (w WithLogger) ConfigureSession(c *SessionConfig) {
	c.Logger = w.Logger
}

type WithSessionTimeout time.Duration

func (w WithSessionTimeout) ConfigureSession(c *SessionConfig) {
	c.SessionTimeout = time.Duration(w)
}

type WithDialTimeout time.Duration

func (w WithDialTimeout) ConfigureSession(c *SessionConfig) {
	c.DialTimeout = time.Duration(w)
}

type WithRetryMaxDelay time.Duration

func (w WithRetryMaxDelay) ConfigureSession(c *SessionConfig) {
	c.RetryMaxDelay = time.Duration(w)
}

type WithTLS struct {
	Config *tls.Config
}

func (w WithTLS) ConfigureSession(c *SessionConfig) {
	c.TLS = w.Config
}

type WithBlockingDial bool

func (w WithBlockingDial) ConfigureSession(c *SessionConfig) {
	c.BlockingDial = bool(w)
}

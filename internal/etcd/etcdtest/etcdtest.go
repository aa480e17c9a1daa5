// Package etcdtest provides an in-memory store with the node semantics of
// etcd.Session for use in tests. Many clients, each with its own session, can
// share one Server.
package etcdtest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Ajpantuso/hactl/internal/cluster"
	"github.com/Ajpantuso/hactl/internal/etcd"
)

// ErrUnavailable is the default injected failure. It is transient.
var ErrUnavailable = errors.New("etcdtest: store unavailable")

type node struct {
	value   []byte
	version int64
	owner   int64
}

type Server struct {
	mu          sync.Mutex
	nodes       map[string]*node
	clients     []*Client
	nextSession int64
	writes      int
	eventDelay  time.Duration
}

func NewServer() *Server {
	return &Server{
		nodes:       map[string]*node{},
		nextSession: 100,
	}
}

// NewClient returns a client holding a fresh session.
func (s *Server) NewClient() *Client {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &Client{srv: s, session: s.newSessionLocked()}
	s.clients = append(s.clients, c)
	return c
}

// Put writes a persistent node directly, as another writer would.
func (s *Server) Put(path, value string) {
	s.mu.Lock()
	ev := s.putLocked(path, []byte(value), 0)
	s.mu.Unlock()
	s.dispatch(ev)
}

// Remove deletes a node directly.
func (s *Server) Remove(path string) {
	s.mu.Lock()
	_, ok := s.nodes[path]
	delete(s.nodes, path)
	s.mu.Unlock()
	if ok {
		s.dispatch(etcd.WatchEvent{Type: etcd.EventDeleted, Path: path})
	}
}

// DelayEvents makes watch callbacks fire d after the mutation that caused
// them returns, as they would over a real watch stream. Delayed events are
// not guaranteed to arrive in order.
func (s *Server) DelayEvents(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventDelay = d
}

// Value returns the current value of path.
func (s *Server) Value(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[path]
	if !ok {
		return "", false
	}
	return string(n.value), true
}

// Owner returns the session owning an ephemeral node, zero otherwise.
func (s *Server) Owner(path string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[path]; ok {
		return n.owner
	}
	return 0
}

// Writes counts successful creates, sets and deletes issued by clients.
func (s *Server) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Server) newSessionLocked() int64 {
	s.nextSession++
	return s.nextSession
}

func (s *Server) putLocked(path string, value []byte, owner int64) etcd.WatchEvent {
	if n, ok := s.nodes[path]; ok {
		n.value = value
		n.version++
		return etcd.WatchEvent{Type: etcd.EventChanged, Path: path}
	}
	s.nodes[path] = &node{value: value, version: 1, owner: owner}
	return etcd.WatchEvent{Type: etcd.EventCreated, Path: path}
}

// dropSessionLocked removes every ephemeral node owned by session.
func (s *Server) dropSessionLocked(session int64) []etcd.WatchEvent {
	var events []etcd.WatchEvent
	for path, n := range s.nodes {
		if n.owner == session {
			delete(s.nodes, path)
			events = append(events, etcd.WatchEvent{Type: etcd.EventDeleted, Path: path})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	return events
}

// dispatch delivers events to matching watches. It must be called without
// holding any lock.
func (s *Server) dispatch(events ...etcd.WatchEvent) {
	s.mu.Lock()
	clients := make([]*Client, len(s.clients))
	copy(clients, s.clients)
	delay := s.eventDelay
	s.mu.Unlock()

	if delay > 0 {
		go func() {
			time.Sleep(delay)
			deliver(clients, events)
		}()
		return
	}
	deliver(clients, events)
}

func deliver(clients []*Client, events []etcd.WatchEvent) {
	for _, c := range clients {
		for _, w := range c.activeWatches() {
			for _, ev := range events {
				if strings.HasPrefix(ev.Path, w.prefix) {
					w.fn(ev)
				}
			}
		}
	}
}

type watch struct {
	ctx    context.Context
	prefix string
	fn     func(etcd.WatchEvent)
}

// Client is one session against a Server.
type Client struct {
	srv *Server

	mu        sync.Mutex
	session   int64
	listeners []etcd.Listener
	watches   []*watch
	failures  []error
	endpoints []string
	closed    bool
	beforeGet func(path string)
}

func (c *Client) SessionID() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == 0 {
		return 0, false
	}
	return c.session, true
}

func (c *Client) AddListener(fn etcd.Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Client) SetEndpoints(endpoints []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoints = append([]string(nil), endpoints...)
}

func (c *Client) Endpoints() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.endpoints...)
}

// FailNext makes the next n operations fail with err, or ErrUnavailable
// when err is nil.
func (c *Client) FailNext(n int, err error) {
	if err == nil {
		err = ErrUnavailable
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.failures = append(c.failures, err)
	}
}

// Suspend reports a suspended connection to the listeners.
func (c *Client) Suspend() {
	c.notify(etcd.StateSuspended)
}

// ExpireSession ends the current session as the store would after a timeout:
// its ephemeral nodes vanish and a new session takes over.
func (c *Client) ExpireSession() {
	c.srv.mu.Lock()
	c.mu.Lock()
	events := c.srv.dropSessionLocked(c.session)
	c.session = c.srv.newSessionLocked()
	c.mu.Unlock()
	c.srv.mu.Unlock()

	c.srv.dispatch(events...)
	c.notify(etcd.StateLost)
	c.notify(etcd.StateConnected)
}

// SwapSession replaces the session id without dropping ephemeral nodes, as
// when the client reconnects before the store has noticed the old session
// expiring.
func (c *Client) SwapSession() {
	c.srv.mu.Lock()
	c.mu.Lock()
	c.session = c.srv.newSessionLocked()
	c.mu.Unlock()
	c.srv.mu.Unlock()
}

func (c *Client) Restart(ctx context.Context) error {
	if err := c.takeFailure(); err != nil {
		return err
	}
	c.ExpireSession()
	return nil
}

func (c *Client) Close() error {
	c.srv.mu.Lock()
	c.mu.Lock()
	events := c.srv.dropSessionLocked(c.session)
	c.session = 0
	c.closed = true
	c.watches = nil
	c.mu.Unlock()
	c.srv.mu.Unlock()

	c.srv.dispatch(events...)
	return nil
}

func (c *Client) Children(ctx context.Context, path string) ([]string, error) {
	if err := c.takeFailure(); err != nil {
		return nil, err
	}

	prefix := strings.TrimSuffix(path, "/") + "/"
	seen := map[string]struct{}{}
	var names []string

	c.srv.mu.Lock()
	for key := range c.srv.nodes {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		name, _, _ := strings.Cut(rest, "/")
		if _, dup := seen[name]; name == "" || dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	c.srv.mu.Unlock()

	sort.Strings(names)
	return names, nil
}

// BeforeGet installs fn to run ahead of every Get, outside any lock.
func (c *Client) BeforeGet(fn func(path string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.beforeGet = fn
}

func (c *Client) Get(ctx context.Context, path string) (*etcd.Node, error) {
	if err := c.takeFailure(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	hook := c.beforeGet
	c.mu.Unlock()
	if hook != nil {
		hook(path)
	}

	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()

	n, ok := c.srv.nodes[path]
	if !ok {
		return nil, etcd.ErrNoNode
	}
	return &etcd.Node{
		Value:   append([]byte(nil), n.value...),
		Version: n.version,
		Owner:   n.owner,
	}, nil
}

func (c *Client) Create(ctx context.Context, path string, value []byte, ephemeral bool) error {
	if err := c.takeFailure(); err != nil {
		return err
	}

	var owner int64
	if ephemeral {
		id, ok := c.SessionID()
		if !ok {
			return etcd.ErrNoSession
		}
		owner = id
	}

	c.srv.mu.Lock()
	if _, ok := c.srv.nodes[path]; ok {
		c.srv.mu.Unlock()
		return etcd.ErrNodeExists
	}
	ev := c.srv.putLocked(path, append([]byte(nil), value...), owner)
	c.srv.writes++
	c.srv.mu.Unlock()

	c.srv.dispatch(ev)
	return nil
}

func (c *Client) Set(ctx context.Context, path string, value []byte, expected cluster.ExpectedVersion) error {
	if err := c.takeFailure(); err != nil {
		return err
	}

	c.srv.mu.Lock()
	if err := c.srv.checkLocked(path, expected); err != nil {
		c.srv.mu.Unlock()
		return err
	}
	ev := c.srv.putLocked(path, append([]byte(nil), value...), 0)
	c.srv.writes++
	c.srv.mu.Unlock()

	c.srv.dispatch(ev)
	return nil
}

func (c *Client) Delete(ctx context.Context, path string, expected cluster.ExpectedVersion) error {
	if err := c.takeFailure(); err != nil {
		return err
	}

	c.srv.mu.Lock()
	if err := c.srv.checkLocked(path, expected); err != nil {
		c.srv.mu.Unlock()
		return err
	}
	delete(c.srv.nodes, path)
	c.srv.writes++
	c.srv.mu.Unlock()

	c.srv.dispatch(etcd.WatchEvent{Type: etcd.EventDeleted, Path: path})
	return nil
}

// Watch registers fn for events under prefix until ctx is done. Events are
// delivered synchronously by the goroutine issuing the mutation unless the
// server delays them.
func (c *Client) Watch(ctx context.Context, prefix string, fn func(etcd.WatchEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watches = append(c.watches, &watch{ctx: ctx, prefix: prefix, fn: fn})
}

func (s *Server) checkLocked(path string, expected cluster.ExpectedVersion) error {
	n, ok := s.nodes[path]
	if !ok {
		return etcd.ErrNoNode
	}
	if v, checked := expected.Get(); checked && n.version != v {
		return etcd.ErrBadVersion
	}
	return nil
}

func (c *Client) activeWatches() []*watch {
	c.mu.Lock()
	defer c.mu.Unlock()

	active := c.watches[:0]
	for _, w := range c.watches {
		if w.ctx.Err() == nil {
			active = append(active, w)
		}
	}
	c.watches = active
	return append([]*watch(nil), active...)
}

func (c *Client) takeFailure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return etcd.ErrNoSession
	}
	if len(c.failures) == 0 {
		return nil
	}
	err := c.failures[0]
	c.failures = c.failures[1:]
	return err
}

func (c *Client) notify(state etcd.SessionState) {
	c.mu.Lock()
	listeners := append([]etcd.Listener(nil), c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}

package ensemble

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/Ajpantuso/hactl/internal/config"
)

// ExhibitorProvider resolves the ensemble from an Exhibitor style cluster
// list endpoint returning {"servers": [...], "port": N}.
type ExhibitorProvider struct {
	cfg    config.ExhibitorConfig
	logger *zap.SugaredLogger
	client *http.Client
	clock  clock.PassiveClock
	group  singleflight.Group

	mu        sync.Mutex
	hosts     []string
	masters   []string
	connStr   string
	endpoints []string
	nextPoll  time.Time
}

type clusterList struct {
	Servers []string `json:"servers"`
	Port    *int     `json:"port"`
}

func NewExhibitorProvider(cfg config.ExhibitorConfig, opts ...ProviderOption) *ExhibitorProvider {
	var pc ProviderConfig
	pc.Options(opts...)
	pc.Default()

	if cfg.URIPath == "" {
		cfg.URIPath = config.DefaultExhibitorURIPath
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = config.DefaultExhibitorPollInterval
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = config.DefaultExhibitorTimeout
	}

	return &ExhibitorProvider{
		cfg:     cfg,
		logger:  pc.Logger,
		client:  pc.HTTPClient,
		clock:   pc.Clock,
		hosts:   slices.Clone(cfg.Hosts),
		masters: slices.Clone(cfg.Hosts),
	}
}

func (p *ExhibitorProvider) Name() string {
	return "exhibitor"
}

// Poll queries the Exhibitor hosts once the poll interval has elapsed.
// Concurrent callers share a single query round, and no lock is held while
// it runs.
func (p *ExhibitorProvider) Poll(ctx context.Context) bool {
	now := p.clock.Now()
	if !p.due(now) {
		return false
	}
	changed, _, _ := p.group.Do("poll", func() (any, error) {
		return p.refresh(ctx, now), nil
	})
	return changed.(bool)
}

func (p *ExhibitorProvider) due(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextPoll.IsZero() || !p.nextPoll.After(now)
}

func (p *ExhibitorProvider) refresh(ctx context.Context, now time.Time) bool {
	// a round that finished while this caller waited to start one
	if !p.due(now) {
		return false
	}

	p.mu.Lock()
	hosts, masters := slices.Clone(p.hosts), slices.Clone(p.masters)
	p.mu.Unlock()

	list := p.query(ctx, hosts)
	if list == nil {
		list = p.query(ctx, masters)
	}
	if list == nil || list.Servers == nil || list.Port == nil {
		return false
	}

	endpoints := connectionEndpoints(list.Servers, *list.Port)
	connStr := strings.Join(endpoints, ",")

	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextPoll = now.Add(p.cfg.PollInterval)
	if connStr == p.connStr {
		return false
	}

	p.logger.Infow("Ensemble connection string has changed",
		"previous", p.connStr,
		"current", connStr,
	)
	p.connStr = connStr
	p.endpoints = endpoints
	p.hosts = slices.Clone(list.Servers)
	return true
}

func (p *ExhibitorProvider) Endpoints() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.endpoints)
}

// ConnectionString is the sorted "host:port,host:port" form of Endpoints.
func (p *ExhibitorProvider) ConnectionString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connStr
}

// query asks each host in random order and returns the first decodable
// response.
func (p *ExhibitorProvider) query(ctx context.Context, hosts []string) *clusterList {
	rand.Shuffle(len(hosts), func(i, j int) { hosts[i], hosts[j] = hosts[j], hosts[i] })

	for _, host := range hosts {
		list, err := p.get(ctx, host)
		if err != nil {
			p.logger.Debugw("Exhibitor query failed", "host", host, "error", err)
			continue
		}
		return list
	}
	return nil
}

func (p *ExhibitorProvider) get(ctx context.Context, host string) (*clusterList, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	uri := fmt.Sprintf("http://%s:%d%s", host, p.cfg.Port, p.cfg.URIPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var list clusterList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode cluster list: %w", err)
	}
	return &list, nil
}

func connectionEndpoints(servers []string, port int) []string {
	sorted := slices.Clone(servers)
	slices.Sort(sorted)

	endpoints := make([]string, 0, len(sorted))
	for _, host := range sorted {
		endpoints = append(endpoints, host+":"+strconv.Itoa(port))
	}
	return endpoints
}

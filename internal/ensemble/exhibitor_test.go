package ensemble

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/Ajpantuso/hactl/internal/config"
)

const listPath = "/exhibitor/v1/cluster/list"

func newTestExhibitor(t *testing.T, hosts ...string) (*ExhibitorProvider, *httpmock.MockTransport, *clocktesting.FakeClock) {
	t.Helper()

	mock := httpmock.NewMockTransport()
	clk := clocktesting.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	p := NewExhibitorProvider(config.ExhibitorConfig{
		Hosts:        hosts,
		Port:         8181,
		PollInterval: 300 * time.Second,
	},
		WithHTTPClient{Client: &http.Client{Transport: mock}},
		WithClock{Clock: clk},
	)
	return p, mock, clk
}

func TestExhibitorPoll(t *testing.T) {
	p, mock, clk := newTestExhibitor(t, "ex1")

	body := `{"servers":["zk2","zk1"],"port":2181}`
	mock.RegisterResponder(http.MethodGet, "http://ex1:8181"+listPath,
		func(*http.Request) (*http.Response, error) {
			return httpmock.NewStringResponse(http.StatusOK, body), nil
		})
	mock.RegisterResponder(http.MethodGet, "=~^http://zk\\d:8181"+listPath,
		httpmock.NewErrorResponder(errors.New("connection refused")))

	require.True(t, p.Poll(context.Background()))
	assert.Equal(t, "zk1:2181,zk2:2181", p.ConnectionString())
	assert.Equal(t, []string{"zk1:2181", "zk2:2181"}, p.Endpoints())
	calls := mock.GetTotalCallCount()

	// within the interval nothing is queried even if the answer changed
	body = `{"servers":["zk3"],"port":2181}`
	clk.Step(299 * time.Second)
	assert.False(t, p.Poll(context.Background()))
	assert.Equal(t, calls, mock.GetTotalCallCount())
	assert.Equal(t, "zk1:2181,zk2:2181", p.ConnectionString())

	// the learned servers fail, so the master list answers
	clk.Step(2 * time.Second)
	assert.True(t, p.Poll(context.Background()))
	assert.Equal(t, "zk3:2181", p.ConnectionString())

	// an unchanged answer still resets the deadline
	clk.Step(301 * time.Second)
	assert.False(t, p.Poll(context.Background()))
	calls = mock.GetTotalCallCount()
	clk.Step(time.Second)
	assert.False(t, p.Poll(context.Background()))
	assert.Equal(t, calls, mock.GetTotalCallCount())
}

func TestExhibitorPollFailures(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
		calls     int
	}{
		// every host of the shuffled list and then of the master list
		{name: "unreachable", responder: httpmock.NewErrorResponder(errors.New("timeout")), calls: 4},
		{name: "not json", responder: httpmock.NewStringResponder(http.StatusOK, "<html>"), calls: 4},
		// a decodable answer ends the query even if it is incomplete
		{name: "missing port", responder: httpmock.NewStringResponder(http.StatusOK, `{"servers":["zk1"]}`), calls: 1},
		{name: "missing servers", responder: httpmock.NewStringResponder(http.StatusOK, `{"port":2181}`), calls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, mock, _ := newTestExhibitor(t, "ex1", "ex2")
			mock.RegisterResponder(http.MethodGet, "=~^http://ex\\d:8181"+listPath, tt.responder)

			assert.False(t, p.Poll(context.Background()))
			assert.Empty(t, p.Endpoints())
			assert.Empty(t, p.ConnectionString())
			assert.Equal(t, tt.calls, mock.GetTotalCallCount())

			// no deadline was set, so the next poll queries again
			assert.False(t, p.Poll(context.Background()))
			assert.Equal(t, 2*tt.calls, mock.GetTotalCallCount())
		})
	}
}

func TestExhibitorStopsAtFirstSuccess(t *testing.T) {
	p, mock, _ := newTestExhibitor(t, "ex1", "ex2", "ex3")
	mock.RegisterResponder(http.MethodGet, "=~^http://ex\\d:8181"+listPath,
		httpmock.NewStringResponder(http.StatusOK, `{"servers":["zk1"],"port":2181}`))

	require.True(t, p.Poll(context.Background()))
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestWaitForEnsemble(t *testing.T) {
	mock := httpmock.NewMockTransport()
	p := NewExhibitorProvider(config.ExhibitorConfig{Hosts: []string{"ex1"}, Port: 8181},
		WithHTTPClient{Client: &http.Client{Transport: mock}},
	)

	var calls int32
	mock.RegisterResponder(http.MethodGet, "http://ex1:8181"+listPath,
		func(*http.Request) (*http.Response, error) {
			if atomic.AddInt32(&calls, 1) <= 4 {
				return nil, errors.New("not yet")
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"servers":["zk1","zk0"],"port":2181}`), nil
		})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	endpoints, err := WaitForEnsemble(ctx, p, time.Millisecond, p.logger)
	require.NoError(t, err)
	assert.Equal(t, []string{"zk0:2181", "zk1:2181"}, endpoints)
}

func TestWaitForEnsembleCancelled(t *testing.T) {
	mock := httpmock.NewMockTransport()
	p := NewExhibitorProvider(config.ExhibitorConfig{Hosts: []string{"ex1"}, Port: 8181},
		WithHTTPClient{Client: &http.Client{Transport: mock}},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := WaitForEnsemble(ctx, p, 5*time.Millisecond, p.logger)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExhibitorPollDoesNotBlockReaders(t *testing.T) {
	p, mock, _ := newTestExhibitor(t, "ex1")

	entered := make(chan struct{})
	release := make(chan struct{})
	mock.RegisterResponder(http.MethodGet, "http://ex1:8181"+listPath,
		func(*http.Request) (*http.Response, error) {
			close(entered)
			<-release
			return httpmock.NewStringResponse(http.StatusOK, `{"servers":["zk1"],"port":2181}`), nil
		})

	first := make(chan bool, 1)
	go func() { first <- p.Poll(context.Background()) }()
	<-entered

	read := make(chan []string, 1)
	go func() { read <- p.Endpoints() }()
	select {
	case endpoints := <-read:
		assert.Empty(t, endpoints)
	case <-time.After(time.Second):
		t.Fatal("Endpoints blocked behind an Exhibitor query")
	}

	// joins the round in flight or finds the deadline set by it
	second := make(chan bool, 1)
	go func() { second <- p.Poll(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	assert.True(t, <-first)
	<-second
	assert.Equal(t, 1, mock.GetTotalCallCount())
	assert.Equal(t, "zk1:2181", p.ConnectionString())
}

package loadgen

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/paklog/catalog-loadgen/internal/loadgen/fixture"
)

// HTTPClientConfig contains HTTP client configuration.
type HTTPClientConfig struct {
	// Timeout for a single request, including reading the body.
	Timeout time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits the total connections per host (0 = unlimited)
	MaxConnsPerHost int

	IdleConnTimeout   time.Duration
	DisableKeepAlives bool
}

// DefaultHTTPClientConfig returns sensible defaults for load testing.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        2000,
		MaxIdleConnsPerHost: 1500,
		IdleConnTimeout:     90 * time.Second,
	}
}

// PoolConfig configures a VUPool.
type PoolConfig struct {
	BaseURL    string
	Workflow   *Workflow
	Fixture    *fixture.Template
	Recorder   Recorder
	Pacing     time.Duration
	RetireMode RetireMode
	HTTP       HTTPClientConfig
	UserAgent  string
	Logger     logrus.FieldLogger
}

// VUPool owns the VUs of a run and the HTTP client they share.
//
// VU ids are allocated from 1 and never reused within a run. Retirement
// always picks the most recently spawned VUs.
type VUPool struct {
	rt *Runtime

	// VUs in spawn order. A VU is removed once its goroutine exits.
	vus   []*VirtualUser
	vusMu sync.Mutex

	nextVUID atomic.Int32
	wg       sync.WaitGroup

	// reqCtx bounds all HTTP requests. It is only cancelled by Abort.
	reqCtx    context.Context
	reqCancel context.CancelFunc
}

// NewVUPool creates a pool. No VUs are started.
func NewVUPool(cfg PoolConfig) (*VUPool, error) {
	if cfg.Workflow == nil {
		return nil, errors.New("workflow is required")
	}
	if cfg.Fixture == nil {
		return nil, errors.New("fixture template is required")
	}
	if cfg.Recorder == nil {
		return nil, errors.New("recorder is required")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	if cfg.RetireMode == "" {
		cfg.RetireMode = RetireAtStep
	}
	if cfg.HTTP.Timeout <= 0 {
		cfg.HTTP = DefaultHTTPClientConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &VUPool{
		rt: &Runtime{
			BaseURL:    strings.TrimRight(cfg.BaseURL, "/"),
			Workflow:   cfg.Workflow,
			Fixture:    cfg.Fixture,
			Client:     newHTTPClient(cfg.HTTP),
			Recorder:   cfg.Recorder,
			Pacing:     cfg.Pacing,
			RetireMode: cfg.RetireMode,
			UserAgent:  cfg.UserAgent,
			Logger:     cfg.Logger,
		},
		reqCtx:    ctx,
		reqCancel: cancel,
	}, nil
}

func newHTTPClient(cfg HTTPClientConfig) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

// Spawn starts a new VU.
func (p *VUPool) Spawn() *VirtualUser {
	id := int(p.nextVUID.Add(1))
	vu := NewVirtualUser(id, p.rt)

	p.vusMu.Lock()
	p.vus = append(p.vus, vu)
	p.vusMu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.remove(vu)
		vu.Run(p.reqCtx)
	}()

	return vu
}

func (p *VUPool) remove(vu *VirtualUser) {
	p.vusMu.Lock()
	defer p.vusMu.Unlock()

	for i, v := range p.vus {
		if v == vu {
			p.vus = append(p.vus[:i], p.vus[i+1:]...)
			return
		}
	}
}

// Retire signals up to n of the most recently spawned active VUs to stop
// and returns how many were signalled.
func (p *VUPool) Retire(n int) int {
	p.vusMu.Lock()
	defer p.vusMu.Unlock()

	retired := 0
	for i := len(p.vus) - 1; i >= 0 && retired < n; i-- {
		vu := p.vus[i]
		state := vu.State()
		if state == VUStateStopping || state == VUStateStopped {
			continue
		}
		vu.RequestStop()
		retired++
	}
	return retired
}

// Active returns the number of VUs that have not been asked to stop.
func (p *VUPool) Active() int {
	p.vusMu.Lock()
	defer p.vusMu.Unlock()

	count := 0
	for _, vu := range p.vus {
		state := vu.State()
		if state != VUStateStopping && state != VUStateStopped {
			count++
		}
	}
	return count
}

// Live returns the number of VU goroutines still running, including those
// finishing a step after being retired.
func (p *VUPool) Live() int {
	p.vusMu.Lock()
	defer p.vusMu.Unlock()
	return len(p.vus)
}

// Spawned returns the total number of VUs started so far.
func (p *VUPool) Spawned() int {
	return int(p.nextVUID.Load())
}

// StopAll signals every VU to stop.
func (p *VUPool) StopAll() {
	p.vusMu.Lock()
	defer p.vusMu.Unlock()

	for _, vu := range p.vus {
		vu.RequestStop()
	}
}

// Wait blocks until all VU goroutines have exited or timeout elapses. It
// returns true if every VU exited.
func (p *VUPool) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Abort cancels all in-flight requests. VUs exit without recording them.
func (p *VUPool) Abort() {
	p.reqCancel()
}

// Close releases the pool's resources. VUs must have stopped.
func (p *VUPool) Close() {
	p.reqCancel()
	p.rt.Client.CloseIdleConnections()
}

package pprof

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	httppprof "net/http/pprof"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sort"
	"sync"
	"time"

	"github.com/dexhelper/pkg/utils"
)

// Collector writes profile snapshots on an interval until stopped, plus a
// final round of non-CPU profiles on Stop.
type Collector struct {
	config *Config
	logger utils.Logger
	clock  utils.Clock

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	written map[ProfileType]int

	// cpuMu ensures only one CPU profile runs at a time.
	cpuMu sync.Mutex
}

// NewCollector validates cfg and creates a collector.
func NewCollector(cfg *Config, logger utils.Logger) (*Collector, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pprof config: %w", err)
	}
	return &Collector{
		config:  cfg,
		logger:  utils.OrNull(logger),
		clock:   utils.NewRealClock(),
		written: make(map[ProfileType]int),
	}, nil
}

// Start begins collection in the background.
func (c *Collector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("collector is already running")
	}
	for _, pt := range c.config.Profiles {
		if err := os.MkdirAll(filepath.Join(c.config.OutputDir, string(pt)), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if c.config.HasProfile(ProfileBlock) {
		runtime.SetBlockProfileRate(1)
	}
	if c.config.HasProfile(ProfileMutex) {
		runtime.SetMutexProfileFraction(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true
	c.wg.Add(1)
	go c.loop(ctx)
	return nil
}

// Stop ends collection and writes a last snapshot of every non-CPU profile.
func (c *Collector) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	var firstErr error
	for _, pt := range c.config.Profiles {
		if pt == ProfileCPU {
			continue
		}
		if err := c.snapshot(context.Background(), pt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	runtime.SetBlockProfileRate(0)
	runtime.SetMutexProfileFraction(0)
	return firstErr
}

// OutputDir returns where snapshots are written.
func (c *Collector) OutputDir() string {
	return c.config.OutputDir
}

// Written returns how many snapshots of each type were written.
func (c *Collector) Written() map[ProfileType]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[ProfileType]int, len(c.written))
	for k, v := range c.written {
		out[k] = v
	}
	return out
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		for _, pt := range c.config.Profiles {
			if ctx.Err() != nil {
				return
			}
			if err := c.snapshot(ctx, pt); err != nil && ctx.Err() == nil {
				c.logger.Warn("pprof %s snapshot failed: %v", pt, err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Collector) snapshot(ctx context.Context, pt ProfileType) error {
	var buf bytes.Buffer
	switch pt {
	case ProfileCPU:
		if err := c.cpu(ctx, &buf); err != nil {
			return err
		}
	case ProfileHeap:
		runtime.GC()
		if err := pprof.WriteHeapProfile(&buf); err != nil {
			return fmt.Errorf("failed to write heap profile: %w", err)
		}
	default:
		p := pprof.Lookup(string(pt))
		if p == nil {
			return fmt.Errorf("%s profile not found", pt)
		}
		if err := p.WriteTo(&buf, 0); err != nil {
			return fmt.Errorf("failed to write %s profile: %w", pt, err)
		}
	}
	return c.write(pt, buf.Bytes())
}

func (c *Collector) cpu(ctx context.Context, buf *bytes.Buffer) error {
	c.cpuMu.Lock()
	defer c.cpuMu.Unlock()
	if err := pprof.StartCPUProfile(buf); err != nil {
		return fmt.Errorf("failed to start CPU profile: %w", err)
	}
	defer pprof.StopCPUProfile()
	select {
	case <-time.After(c.config.CPUDuration):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Collector) write(pt ProfileType, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir := filepath.Join(c.config.OutputDir, string(pt))
	name := fmt.Sprintf("%s_%s_%03d.pprof", pt, c.clock.Now().Format("20060102_150405"), c.written[pt]%1000)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write profile file: %w", err)
	}
	c.written[pt]++
	c.logger.Debug("pprof %s snapshot written to %s", pt, path)
	return c.rotate(dir)
}

// rotate removes the oldest snapshots beyond MaxFiles.
func (c *Collector) rotate(dir string) error {
	if c.config.MaxFiles == 0 {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.pprof"))
	if err != nil {
		return err
	}
	if len(matches) <= c.config.MaxFiles {
		return nil
	}
	sort.Strings(matches)
	for _, m := range matches[:len(matches)-c.config.MaxFiles] {
		if err := os.Remove(m); err != nil {
			return fmt.Errorf("failed to rotate %s: %w", m, err)
		}
	}
	return nil
}

// Handler serves the standard /debug/pprof/ endpoints, for mounting on an
// existing server.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", httppprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", httppprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", httppprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", httppprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", httppprof.Trace)
	return mux
}

package ring

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/lumie-health/ringlink/ble"
	"github.com/lumie-health/ringlink/logger"
)

// ScanEventKind distinguishes scan stream events.
type ScanEventKind int

const (
	ScanFound ScanEventKind = iota
	ScanTimeout
	ScanFailed
)

func (k ScanEventKind) String() string {
	switch k {
	case ScanFound:
		return "found"
	case ScanTimeout:
		return "timeout"
	case ScanFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ScanEvent is one element of a scan stream. Peripheral is set for
// ScanFound, Err for ScanFailed.
type ScanEvent struct {
	Kind       ScanEventKind
	Peripheral ble.Peripheral
	Err        error
}

// Scanner discovers nearby rings. One session runs at a time.
type Scanner struct {
	adapter ble.Adapter
	cfg     Config

	mu      sync.Mutex
	session *scanSession
}

type scanSession struct {
	cancel   context.CancelFunc
	stopped  chan struct{} // closed by Stop
	done     chan struct{} // closed when the session goroutine exits
	stopOnce sync.Once
}

func (s *scanSession) stop() {
	s.stopOnce.Do(func() { close(s.stopped) })
	s.cancel()
}

// NewScanner creates a scanner over adapter.
func NewScanner(adapter ble.Adapter, opts ...Option) *Scanner {
	return &Scanner{
		adapter: adapter,
		cfg:     newConfig(opts),
	}
}

// Scan starts a discovery session and returns its event stream. Each
// matching ring is reported once. When the scan window elapses a single
// ScanTimeout event is sent and the channel is closed; Stop or cancelling
// ctx closes it without one.
func (s *Scanner) Scan(ctx context.Context) (<-chan ScanEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		return nil, ErrScanInProgress
	}
	if err := s.adapter.Enable(); err != nil {
		logger.Warn("scan", "bluetooth unavailable: %v", err)
		return nil, &DiscoveryError{Err: err}
	}

	scanCtx, cancel := context.WithCancel(ctx)
	sess := &scanSession{
		cancel:  cancel,
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.session = sess

	events := make(chan ScanEvent, 16)
	go s.run(ctx, scanCtx, sess, events)

	logger.Info("scan", "started (prefix %q, window %v)", s.cfg.NamePrefix, s.cfg.ScanWindow)
	return events, nil
}

func (s *Scanner) run(parent, scanCtx context.Context, sess *scanSession, events chan<- ScanEvent) {
	defer close(sess.done)

	var (
		seenMu sync.Mutex
		seen   = make(map[string]struct{})
		prefix = strings.ToLower(s.cfg.NamePrefix)
	)
	found := func(adv ble.Advertisement) {
		if adv.ID == "" || !strings.HasPrefix(strings.ToLower(adv.Name), prefix) {
			return
		}
		seenMu.Lock()
		if _, dup := seen[adv.ID]; dup {
			seenMu.Unlock()
			return
		}
		seen[adv.ID] = struct{}{}
		seenMu.Unlock()

		logger.Info("scan", "found %s (%s, %d dBm)", adv.Name, adv.ID, adv.RSSI)
		select {
		case events <- ScanEvent{Kind: ScanFound, Peripheral: adv.Peripheral}:
		case <-scanCtx.Done():
		}
	}

	scanErr := make(chan error, 1)
	go func() {
		scanErr <- s.adapter.Scan(scanCtx, found)
	}()

	window := time.NewTimer(s.cfg.ScanWindow)
	defer window.Stop()

	var (
		final      *ScanEvent
		adapterErr error
		returned   bool
	)
	select {
	case <-window.C:
		final = &ScanEvent{Kind: ScanTimeout}
	case <-scanCtx.Done():
	case adapterErr = <-scanErr:
		returned = true
		if adapterErr != nil && scanCtx.Err() == nil {
			final = &ScanEvent{Kind: ScanFailed, Err: &DiscoveryError{Err: adapterErr}}
		}
	}
	sess.cancel()
	if !returned {
		// The adapter never calls found after Scan returns.
		adapterErr = <-scanErr
	}

	switch {
	case final == nil:
		logger.Info("scan", "stopped (%d found)", len(seen))
	case final.Kind == ScanTimeout:
		logger.Info("scan", "window elapsed (%d found)", len(seen))
	default:
		logger.Error("scan", "radio failed: %v", adapterErr)
	}

	if final != nil {
		select {
		case events <- *final:
		case <-parent.Done():
		case <-sess.stopped:
		}
	}

	s.mu.Lock()
	if s.session == sess {
		s.session = nil
	}
	s.mu.Unlock()
	close(events)
}

// Stop ends the current session and waits for its stream to close. It is
// a no-op when idle.
func (s *Scanner) Stop() {
	s.mu.Lock()
	sess := s.session
	s.mu.Unlock()

	if sess == nil {
		return
	}
	sess.stop()
	<-sess.done
}

// Scanning reports whether a session is active.
func (s *Scanner) Scanning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session != nil
}

// StartScan runs Scan and dispatches its events to callbacks on a
// separate goroutine. onTimeout runs at most once per session.
func (s *Scanner) StartScan(ctx context.Context, onFound func(ble.Peripheral), onTimeout func()) error {
	events, err := s.Scan(ctx)
	if err != nil {
		return err
	}
	go func() {
		for ev := range events {
			switch ev.Kind {
			case ScanFound:
				if onFound != nil {
					onFound(ev.Peripheral)
				}
			case ScanTimeout:
				if onTimeout != nil {
					onTimeout()
				}
			case ScanFailed:
				logger.Warn("scan", "session ended: %v", ev.Err)
			}
		}
	}()
	return nil
}

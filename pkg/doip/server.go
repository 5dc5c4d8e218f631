package doip

import (
	"context"
	"sync"
	"time"
)

// Server owns the listening ServerTransport, the shared TimerManager,
// and the registry of routing-activated connections; it runs the
// accept loop, a handler goroutine per accepted connection, and the
// UDP announcement loop. Generalizes the teacher's
// Server.ListenAndServe/serveTCP/serve (doip/server.go) to the richer
// accept+announce+stop-ordering surface from spec.md §4.5, and follows
// original_source/src/DoIPServer.cpp's stop() ordering: loops observe
// the stop signal and exit before the transport is closed.
type Server struct {
	log          Logger
	transport    ServerTransport
	timers       *TimerManager
	registry     *ConnectionRegistry
	modelFactory ServerModelFactory
	cfg          ServerConfig

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	cancelFn context.CancelFunc
	fatalCh  chan error
}

// NewServer constructs a Server. modelFactory is called once per
// accepted connection, honoring the "factories per connection allow
// per-connection state without shared mutation" requirement.
func NewServer(transport ServerTransport, cfg ServerConfig, modelFactory ServerModelFactory, log Logger) *Server {
	if log == nil {
		log = NewLogger()
	}
	return &Server{
		log:          log,
		transport:    transport,
		timers:       NewTimerManager(log),
		registry:     NewConnectionRegistry(),
		modelFactory: modelFactory,
		cfg:          cfg,
		fatalCh:      make(chan error, 1),
	}
}

// Fatal reports an unrecoverable transport error raised by a
// background loop after Start has already returned successfully (e.g.
// the listening socket itself failing outside of Stop). The caller is
// expected to select on this alongside its own shutdown signal and,
// on receipt, call Stop and treat the run as a runtime failure rather
// than a clean stop.
func (s *Server) Fatal() <-chan error {
	return s.fatalCh
}

// Start sets up the transport and launches the accept loop and the
// announcement loop as background goroutines. It returns once setup
// has succeeded or failed; the loops keep running until Stop is
// called.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	if err := s.transport.Setup(s.cfg.TCPPort); err != nil {
		s.mu.Unlock()
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFn = cancel
	s.stopCh = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	s.wg.Add(2)
	go s.acceptLoop(ctx)
	go s.announceLoop(ctx)
	return nil
}

// Stop signals every loop to exit, joins them, then closes the
// transport and the timer manager. Mandatory ordering per
// DoIPServer.cpp's stop(): loops must observe the stop signal and
// return before the transport is closed, to avoid use-after-close on
// descriptors.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.cancelFn()
	s.mu.Unlock()

	s.wg.Wait()
	s.transport.Close()
	s.timers.Close()
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		acceptCtx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		conn, err := s.transport.Accept(acceptCtx)
		cancel()
		if err != nil {
			if err == ErrTransportClosed {
				return
			}
			select {
			case <-s.stopCh:
				return
			default:
			}
			if err == context.DeadlineExceeded {
				// no pending connection within the poll window, not a failure
				continue
			}
			// The underlying listener itself returned an error outside of
			// Stop's deliberate close, e.g. the socket was torn down by the
			// OS or hit a resource limit. That is unrecoverable: report it
			// and stop accepting rather than spin retrying forever.
			s.log.Errorf("accept loop: unrecoverable transport error: %v", err)
			select {
			case s.fatalCh <- err:
			default:
			}
			return
		}

		model := s.modelFactory()
		connection := NewConnection(conn, model, s.timers, s.registry, s.cfg, s.log)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			connection.Run(ctx)
		}()
	}
}

func (s *Server) announceLoop(ctx context.Context) {
	defer s.wg.Done()
	if s.cfg.AnnounceCount <= 0 {
		return
	}
	interval := s.cfg.AnnounceInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	model := s.modelFactory()
	body := vehicleIdentificationResponse(model.Config)

	for i := 0; i < s.cfg.AnnounceCount; i++ {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}
		if err := s.transport.SendBroadcast(&DoIPMessage{Type: VehicleIdentificationResponse, Payload: body.Marshal()}, 0); err != nil {
			s.log.Warnf("announcement %d/%d failed: %v", i+1, s.cfg.AnnounceCount, err)
		}
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func vehicleIdentificationResponse(cfg EntityConfig) *VehicleIdentificationResponseBody {
	v := &VehicleIdentificationResponseBody{
		LogicalAddress: cfg.LogicalAddress,
		EID:            cfg.EID,
		GID:            cfg.GID,
		FurtherAction:  cfg.FurtherAction,
	}
	copy(v.VIN[:], cfg.VIN)
	return v
}

// Registry exposes the connection registry, chiefly for a downstream
// provider that needs to address a specific connection directly (e.g.
// to push an unsolicited indication).
func (s *Server) Registry() *ConnectionRegistry { return s.registry }

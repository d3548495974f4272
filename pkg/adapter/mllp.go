package adapter

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"ionbridge/pkg/apperror"
	"ionbridge/pkg/hl7"
	"ionbridge/pkg/logger"
)

// MLLPInbound accepts HL7-over-MLLP connections and hands each framed
// message to Handler, writing the handler's response back framed.
type MLLPInbound struct {
	counters

	host           string
	port           int
	maxConnections int
	readTimeout    time.Duration
	certFile       string
	keyFile        string
	handler        Handler

	mu       sync.Mutex
	state    State
	listener net.Listener
	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewMLLPInbound constructs an inbound MLLP adapter from settings.
func NewMLLPInbound(settings Settings, handler Handler) *MLLPInbound {
	maxConn := settings.Int("MaxConnections", 50)
	return &MLLPInbound{
		host:           settings.String("Host", "0.0.0.0"),
		port:           settings.Int("Port", 2575),
		maxConnections: maxConn,
		readTimeout:    settings.Duration("ReadTimeout", 30*time.Second),
		certFile:       settings.String("SSLCertFile", ""),
		keyFile:        settings.String("SSLKeyFile", ""),
		handler:        handler,
		state:          StateCreated,
		sem:            semaphore.NewWeighted(int64(maxConn)),
	}
}

func (a *MLLPInbound) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *MLLPInbound) Snapshot() Metrics { return a.counters.snapshot() }

// Start binds the listener and begins accepting connections in the
// background.
func (a *MLLPInbound) Start(ctx context.Context) error {
	a.mu.Lock()
	a.state = StateStarting
	a.mu.Unlock()

	lc := net.ListenConfig{}
	addr := fmt.Sprintf("%s:%d", a.host, a.port)
	lis, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		a.mu.Lock()
		a.state = StateError
		a.mu.Unlock()
		return apperror.Wrap(apperror.ConnectionError, err, "mllp inbound: listen failed on "+addr)
	}

	if a.certFile != "" && a.keyFile != "" {
		cert, err := tls.LoadX509KeyPair(a.certFile, a.keyFile)
		if err != nil {
			a.mu.Lock()
			a.state = StateError
			a.mu.Unlock()
			lis.Close()
			return apperror.Wrap(apperror.ConfigurationError, err, "mllp inbound: failed to load TLS certificate")
		}
		lis = tls.NewListener(lis, &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.listener = lis
	a.cancel = cancel
	a.state = StateRunning
	a.mu.Unlock()
	a.markStarted()

	a.wg.Add(1)
	go a.acceptLoop(runCtx)

	logger.Log.Info("mllp inbound adapter started", "address", addr)
	return nil
}

func (a *MLLPInbound) acceptLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				a.errorsTotal.Add(1)
				logger.Log.Warn("mllp inbound accept error", "error", err)
				return
			}
		}

		if !a.sem.TryAcquire(1) {
			logger.Log.Warn("mllp inbound connection refused, at capacity")
			conn.Close()
			continue
		}

		a.connectionsTotal.Add(1)
		a.connectionsActive.Add(1)
		a.wg.Add(1)
		go a.serveConn(ctx, conn)
	}
}

func (a *MLLPInbound) serveConn(ctx context.Context, conn net.Conn) {
	defer a.wg.Done()
	defer func() {
		a.sem.Release(1)
		a.connectionsActive.Add(-1)
		conn.Close()
	}()

	reader := bufio.NewReader(conn)
	for {
		if a.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(a.readTimeout))
		}

		frame, err := hl7.ReadFrame(reader)
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				a.errorsTotal.Add(1)
			}
			return
		}
		if frame == nil {
			return // peer closed the connection cleanly between frames
		}
		a.bytesReceived.Add(int64(len(frame)))
		a.recordActivity()

		resp, err := a.handler(ctx, frame)
		if err != nil {
			a.errorsTotal.Add(1)
			logger.Log.Warn("mllp inbound handler error", "error", err)
			continue
		}

		framed := hl7.Wrap(resp)
		if _, err := conn.Write(framed); err != nil {
			a.errorsTotal.Add(1)
			return
		}
		a.bytesSent.Add(int64(len(framed)))
	}
}

// Stop closes the listener and waits for in-flight connections to
// finish handling their current frame.
func (a *MLLPInbound) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.state = StateStopping
	lis := a.listener
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if lis != nil {
		lis.Close()
	}

	done := make(chan struct{})
	go func() { a.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
	}

	a.mu.Lock()
	a.state = StateStopped
	a.mu.Unlock()
	return nil
}

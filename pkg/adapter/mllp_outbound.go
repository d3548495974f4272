package adapter

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"ionbridge/pkg/apperror"
	"ionbridge/pkg/hl7"
	"ionbridge/pkg/logger"
)

// MLLPOutbound maintains a connection to a downstream MLLP endpoint and
// sends framed HL7 payloads, retrying transport faults with linear
// backoff.
type MLLPOutbound struct {
	counters

	address        string
	connectTimeout time.Duration
	ackTimeout     time.Duration
	maxRetries     int
	retryDelay     time.Duration
	stayConnected  time.Duration // 0 closes after each message; -1 or a positive value keeps it open (no idle timeout is applied)
	useTLS         bool
	insecureSkip   bool

	mu    sync.Mutex
	state State
	conn  net.Conn
	rd    *bufio.Reader
}

// NewMLLPOutbound constructs an outbound MLLP adapter from settings.
func NewMLLPOutbound(settings Settings) *MLLPOutbound {
	stay := settings.Int("StayConnected", -1)
	var stayDur time.Duration
	if stay > 0 {
		stayDur = time.Duration(stay) * time.Second
	} else {
		stayDur = time.Duration(stay) // 0 or -1, sentinel
	}
	return &MLLPOutbound{
		address:        fmt.Sprintf("%s:%d", settings.String("IPAddress", ""), settings.Int("Port", 0)),
		connectTimeout: settings.Duration("ConnectTimeout", 5*time.Second),
		ackTimeout:     settings.Duration("AckTimeout", 30*time.Second),
		maxRetries:     settings.Int("MaxRetries", 3),
		retryDelay:     settings.Duration("RetryDelay", time.Second),
		stayConnected:  stayDur,
		useTLS:         settings.Bool("UseSSL", false),
		insecureSkip:   settings.Bool("SSLInsecureSkipVerify", false),
		state:          StateCreated,
	}
}

func (a *MLLPOutbound) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *MLLPOutbound) Snapshot() Metrics { return a.counters.snapshot() }

// Start marks the adapter running; the connection itself is established
// lazily on first Send (ensure-connection).
func (a *MLLPOutbound) Start(ctx context.Context) error {
	a.mu.Lock()
	a.state = StateRunning
	a.mu.Unlock()
	a.markStarted()
	return nil
}

// Stop closes any open connection.
func (a *MLLPOutbound) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = StateStopped
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
	return nil
}

func (a *MLLPOutbound) ensureConn(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		return nil
	}
	dialer := net.Dialer{Timeout: a.connectTimeout}
	var conn net.Conn
	var err error
	if a.useTLS {
		conn, err = tls.DialWithDialer(&dialer, "tcp", a.address, &tls.Config{InsecureSkipVerify: a.insecureSkip})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", a.address)
	}
	if err != nil {
		return apperror.Wrap(apperror.ConnectionError, err, "mllp outbound: dial failed to "+a.address)
	}
	a.conn = conn
	a.rd = bufio.NewReader(conn)
	a.connectionsTotal.Add(1)
	a.connectionsActive.Add(1)
	return nil
}

// Send writes a framed HL7 payload and returns the framed reply's
// unwrapped bytes, retrying transport faults up to MaxRetries with
// linear (RetryDelay) backoff.
func (a *MLLPOutbound) Send(ctx context.Context, payload []byte) ([]byte, error) {
	op := func() ([]byte, error) {
		if err := a.ensureConn(ctx); err != nil {
			return nil, err
		}

		framed := hl7.Wrap(payload)
		if a.ackTimeout > 0 {
			a.conn.SetWriteDeadline(time.Now().Add(a.ackTimeout))
		}
		if _, err := a.conn.Write(framed); err != nil {
			a.resetConn()
			return nil, apperror.Wrap(apperror.ConnectionError, err, "mllp outbound: write failed")
		}
		a.bytesSent.Add(int64(len(framed)))

		if a.ackTimeout > 0 {
			a.conn.SetReadDeadline(time.Now().Add(a.ackTimeout))
		}
		reply, err := hl7.ReadFrame(a.rd)
		if err != nil {
			a.resetConn()
			return nil, err
		}
		if reply == nil {
			a.resetConn()
			return nil, apperror.New(apperror.ConnectionError, "mllp outbound: connection closed awaiting ACK")
		}
		a.bytesReceived.Add(int64(len(reply)))
		a.recordActivity()

		if a.stayConnected == 0 {
			a.resetConn()
		}
		return reply, nil
	}

	result, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(&linearBackOff{step: a.retryDelay}),
		backoff.WithMaxTries(uint(a.maxRetries+1)),
	)
	if err != nil {
		a.errorsTotal.Add(1)
		logger.Log.Warn("mllp outbound send exhausted retries", "address", a.address, "error", err)
		return nil, apperror.Wrap(apperror.SendError, err, "mllp outbound: send failed after retries")
	}
	return result, nil
}

func (a *MLLPOutbound) resetConn() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
		a.connectionsActive.Add(-1)
	}
}

// linearBackOff waits step, 2*step, 3*step, ... between attempts; shared
// by the outbound MLLP and HTTP adapters.
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration { b.n++; return time.Duration(b.n) * b.step }
func (b *linearBackOff) Reset()                     { b.n = 0 }

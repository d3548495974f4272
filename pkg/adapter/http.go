package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"ionbridge/pkg/apperror"
	"ionbridge/pkg/logger"
)

// HTTPInbound accepts HTTP requests and dispatches the body to Handler,
// writing the handler's return bytes back as the response body.
type HTTPInbound struct {
	counters

	host           string
	port           int
	maxBodySize    int64
	readTimeout    time.Duration
	allowedMethods map[string]bool
	basePath       string
	enableCORS     bool
	handler        Handler

	mu     sync.Mutex
	state  State
	server *http.Server
}

// NewHTTPInbound constructs an inbound HTTP adapter from settings.
func NewHTTPInbound(settings Settings, handler Handler) *HTTPInbound {
	methods := make(map[string]bool)
	for _, m := range strings.Split(settings.String("AllowedMethods", "POST"), ",") {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m != "" {
			methods[m] = true
		}
	}
	return &HTTPInbound{
		host:           settings.String("Host", "0.0.0.0"),
		port:           settings.Int("Port", 8080),
		maxBodySize:    int64(settings.Int("MaxBodySize", 10*1024*1024)),
		readTimeout:    settings.Duration("ReadTimeout", 30*time.Second),
		allowedMethods: methods,
		basePath:       settings.String("BasePath", "/"),
		enableCORS:     settings.Bool("EnableCORS", false),
		handler:        handler,
		state:          StateCreated,
	}
}

func (a *HTTPInbound) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *HTTPInbound) Snapshot() Metrics { return a.counters.snapshot() }

func (a *HTTPInbound) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.recordActivity()

	if a.enableCORS {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
	}
	w.Header().Set("Connection", "close")

	if !a.allowedMethods[r.Method] {
		allowed := make([]string, 0, len(a.allowedMethods))
		for m := range a.allowedMethods {
			allowed = append(allowed, m)
		}
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, a.maxBodySize+1))
	if err != nil {
		a.errorsTotal.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if int64(len(body)) > a.maxBodySize {
		a.errorsTotal.Add(1)
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}
	a.bytesReceived.Add(int64(len(body)))

	resp, err := a.handler(r.Context(), body)
	if err != nil {
		a.errorsTotal.Add(1)
		logger.Log.Warn("http inbound handler error", "error", err)
		http.Error(w, err.Error(), apperror.HTTPStatus(apperror.KindOf(err)))
		return
	}

	ct := r.Header.Get("Content-Type")
	if ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(http.StatusOK)
	n, _ := w.Write(resp)
	a.bytesSent.Add(int64(n))
}

// Start binds and begins serving HTTP requests in the background.
func (a *HTTPInbound) Start(ctx context.Context) error {
	a.mu.Lock()
	a.state = StateStarting
	mux := http.NewServeMux()
	mux.Handle(a.basePath, a)
	a.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", a.host, a.port),
		Handler:     mux,
		ReadTimeout: a.readTimeout,
	}
	a.state = StateRunning
	a.mu.Unlock()
	a.markStarted()

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.mu.Lock()
			a.state = StateError
			a.mu.Unlock()
			logger.Log.Error("http inbound adapter failed", "error", err)
		}
	}()

	logger.Log.Info("http inbound adapter started", "address", a.server.Addr)
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (a *HTTPInbound) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv := a.server
	a.state = StateStopping
	a.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	a.mu.Lock()
	a.state = StateStopped
	a.mu.Unlock()
	return err
}

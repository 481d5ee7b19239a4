package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/voltlab/banksia/internal/definition"
	"github.com/voltlab/banksia/internal/engine"
	"github.com/voltlab/banksia/internal/status"
)

// Config wires a Server's collaborators.
type Config struct {
	Runner     *engine.Runner
	Reporter   *status.Reporter
	Procedures map[string]*definition.TestProcedure

	// Upstream is the utility server every non-runner request is relayed to.
	Upstream *url.URL

	// Client overrides the forwarding client; nil gets a redirect-preserving
	// default.
	Client *http.Client

	// Now supplies timestamps for control responses. nil means wall clock.
	Now func() time.Time
}

// Server exposes the runner control API and the catch-all forwarder.
type Server struct {
	runner     *engine.Runner
	reporter   *status.Reporter
	procedures map[string]*definition.TestProcedure
	upstream   *url.URL
	client     *http.Client
	now        func() time.Time
}

// NewServer builds a Server from cfg, filling defaults.
func NewServer(cfg Config) *Server {
	client := cfg.Client
	if client == nil {
		// Redirects are relayed to the client verbatim, never followed on
		// its behalf.
		client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Server{
		runner:     cfg.Runner,
		reporter:   cfg.Reporter,
		procedures: cfg.Procedures,
		upstream:   cfg.Upstream,
		client:     client,
		now:        now,
	}
}

// Handler routes the control endpoints and the catch-all forwarder.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /runner/init", s.handleInit)
	mux.HandleFunc("POST /runner/start", s.handleStart)
	mux.HandleFunc("GET /runner/status", s.handleStatus)
	mux.HandleFunc("POST /runner/proceed", s.handleProceed)
	mux.HandleFunc("POST /runner/finalize", s.handleFinalize)
	mux.HandleFunc("/", s.handleProxied)
	return mux
}

// controlResponse is the body of successful init/start/proceed responses.
type controlResponse struct {
	Status        string    `json:"status"`
	TestProcedure string    `json:"test_procedure,omitempty"`
	Step          string    `json:"step,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// handleInit instantiates a test procedure run. The client identifies the
// device under test either by an explicit lfdi query parameter or by a PEM
// certificate to derive it from.
func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	name := query.Get("test")
	if name == "" {
		http.Error(w, "Missing 'test' query parameter.", http.StatusBadRequest)
		return
	}
	def, ok := s.procedures[name]
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown test procedure %q.", name), http.StatusBadRequest)
		return
	}

	lfdi := query.Get("lfdi")
	if lfdi == "" {
		certificate := query.Get("certificate")
		if certificate == "" {
			http.Error(w, "Missing 'lfdi' or 'certificate' query parameter.", http.StatusBadRequest)
			return
		}
		derived, err := engine.LFDIFromCertificatePEM([]byte(certificate))
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid 'certificate' query parameter: %v.", err), http.StatusBadRequest)
			return
		}
		lfdi = derived
	}

	proc, err := s.runner.Init(r.Context(), def, engine.ClientIdentity{LFDI: lfdi})
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, controlResponse{
		Status:        "Test procedure initialised.",
		TestProcedure: proc.Definition.Name,
		Timestamp:     s.now().UTC(),
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Start(r.Context()); err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, controlResponse{
		Status:    "Test procedure started.",
		Timestamp: s.now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reporter.Status(r.Context()))
}

// handleProceed is the operator's manual-advance signal for steps waiting
// on a "proceed" event.
func (s *Server) handleProceed(w http.ResponseWriter, r *http.Request) {
	step, err := s.runner.Proceed(r.Context())
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, controlResponse{
		Status:    "Test procedure progressed.",
		Step:      step,
		Timestamp: s.now().UTC(),
	})
}

// handleFinalize ends the run and replies with the final status snapshot.
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	if err := s.runner.Finalize(r.Context()); err != nil {
		if engine.IsNoProcedure(err) || engine.IsFinished(err) {
			http.Error(w, "Unable to finalize test procedure. No test procedure in progress.", http.StatusBadRequest)
			return
		}
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.reporter.Status(r.Context()))
}

// handleProxied advances the procedure around a relayed client request: the
// before-proxy trigger fires first, then the request is forwarded, then the
// after-proxy trigger gives serve-request-first listeners their chance.
func (s *Server) handleProxied(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	method, path := r.Method, r.URL.Path

	stepBefore, err := s.runner.HandleRequestBefore(ctx, method, path)
	if err != nil {
		s.writeTriggerError(w, err)
		return
	}

	upstream, err := s.forward(ctx, r)
	if err != nil {
		slog.Error("forwarding request", "method", method, "path", path, "error", err)
		s.runner.RecordRequest(method, path, stepBefore)
		http.Error(w, "Unable to reach the utility server.", http.StatusBadGateway)
		return
	}

	stepAfter, err := s.runner.HandleRequestAfter(ctx, method, path)
	if err != nil {
		slog.Error("post-serve trigger failed", "method", method, "path", path, "error", err)
	}

	step := stepBefore
	if step == "" {
		step = stepAfter
	}
	s.runner.RecordRequest(method, path, step)
	slog.Info("request proxied", "method", method, "path", path,
		"status", upstream.status, "step", step)

	for key, values := range upstream.header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(upstream.status)
	if _, err := w.Write(upstream.body); err != nil {
		slog.Error("writing relayed response", "error", err)
	}
}

// upstreamResponse is a fully-buffered utility server response. The
// after-proxy trigger and history recording must complete before the client
// sees any bytes.
type upstreamResponse struct {
	status int
	header http.Header
	body   []byte
}

// forward relays the request to the upstream server.
func (s *Server) forward(ctx context.Context, r *http.Request) (*upstreamResponse, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}

	target := *s.upstream
	target.Path = r.URL.Path
	target.RawQuery = r.URL.RawQuery
	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = r.Header.Clone()

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forward request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}
	return &upstreamResponse{status: resp.StatusCode, header: resp.Header, body: respBody}, nil
}

// writeRunError maps engine errors onto control-endpoint status codes.
func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	switch {
	case engine.IsConflict(err), engine.IsNoProcedure(err), engine.IsFinished(err):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("runner operation failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeTriggerError maps engine errors for the proxied path, where a
// missing or finished procedure means requests cannot be relayed at all.
func (s *Server) writeTriggerError(w http.ResponseWriter, err error) {
	if engine.IsNoProcedure(err) || engine.IsFinished(err) {
		http.Error(w, "Unable to handle request. An active test procedure is required.", http.StatusBadRequest)
		return
	}
	slog.Error("request trigger failed", "error", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encoding response body", "error", err)
	}
}

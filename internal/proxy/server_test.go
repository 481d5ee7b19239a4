package proxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voltlab/banksia/internal/check"
	"github.com/voltlab/banksia/internal/definition"
	"github.com/voltlab/banksia/internal/engine"
	"github.com/voltlab/banksia/internal/status"
	"github.com/voltlab/banksia/internal/store"
	"github.com/voltlab/banksia/internal/testutil"
	"github.com/voltlab/banksia/internal/variables"
)

const testLFDI = "3E4F45AB31EDFE5B67E343E5E4562E31984E23E5"

const proxyProcedure = `
name: ALL-01
description: In-band registration
category: Registration
steps:
  discovery:
    event:
      type: GET-request-received
      parameters:
        endpoint: /dcap
    actions:
      - type: enable-listeners
        parameters:
          listeners: [registration]
      - type: remove-listeners
        parameters:
          listeners: [discovery]
  registration:
    event:
      type: POST-request-received
      parameters:
        endpoint: /edev
        serve_request_first: true
    actions:
      - type: register-end-device
      - type: remove-listeners
        parameters:
          listeners: [registration]
`

type proxyFixture struct {
	store    *store.Store
	clock    *testutil.FakeClock
	runner   *engine.Runner
	harness  *httptest.Server
	upstream *httptest.Server
}

func newProxyFixture(t *testing.T) *proxyFixture {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Upstream", "utility")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "upstream:"+r.Method+" "+r.URL.Path)
	}))
	t.Cleanup(upstream.Close)
	upstreamURL, err := url.Parse(upstream.URL)
	require.NoError(t, err)

	clock := testutil.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	resolver := variables.NewResolver(st, clock.Now)
	runner := engine.New(engine.Config{Store: st, Resolver: resolver, Now: clock.Now})
	checks := check.NewEngine(st, resolver)
	reporter := status.NewReporter(st, runner, checks, clock.Now)

	def, err := definition.Parse([]byte(proxyProcedure))
	require.NoError(t, err)

	server := NewServer(Config{
		Runner:     runner,
		Reporter:   reporter,
		Procedures: map[string]*definition.TestProcedure{def.Name: def},
		Upstream:   upstreamURL,
		Now:        clock.Now,
	})
	harness := httptest.NewServer(server.Handler())
	t.Cleanup(harness.Close)

	return &proxyFixture{store: st, clock: clock, runner: runner, harness: harness, upstream: upstream}
}

func (f *proxyFixture) do(t *testing.T, method, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.harness.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *proxyFixture) initAndStart(t *testing.T) {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/runner/init?test=ALL-01&lfdi="+testLFDI)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = f.do(t, http.MethodPost, "/runner/start")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestInitValidation(t *testing.T) {
	f := newProxyFixture(t)

	resp := f.do(t, http.MethodPost, "/runner/init?lfdi="+testLFDI)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/runner/init?test=NOPE-99&lfdi="+testLFDI)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/runner/init?test=ALL-01")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/runner/init?test=ALL-01&lfdi="+testLFDI)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var body struct {
		Status        string `json:"status"`
		TestProcedure string `json:"test_procedure"`
	}
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &body))
	assert.Equal(t, "Test procedure initialised.", body.Status)
	assert.Equal(t, "ALL-01", body.TestProcedure)

	// A second init while the run is live conflicts.
	resp = f.do(t, http.MethodPost, "/runner/init?test=ALL-01&lfdi="+testLFDI)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStartConflicts(t *testing.T) {
	f := newProxyFixture(t)

	// Start before init.
	resp := f.do(t, http.MethodPost, "/runner/start")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	f.initAndStart(t)
	resp = f.do(t, http.MethodPost, "/runner/start")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestProxiedRequestsAdvanceTheProcedure(t *testing.T) {
	f := newProxyFixture(t)
	f.initAndStart(t)

	// Requests relay to the upstream server verbatim.
	resp := f.do(t, http.MethodGet, "/dcap")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "utility", resp.Header.Get("X-Upstream"))
	assert.Equal(t, "upstream:GET /dcap", readBody(t, resp))

	// The serve-request-first registration step fires after the proxied
	// call and registers the end device.
	resp = f.do(t, http.MethodPost, "/edev")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	site, err := f.store.ActiveSite(context.Background())
	require.NoError(t, err)
	require.NotNil(t, site)
	assert.Equal(t, testLFDI, site.LFDI)

	// The status document shows both steps resolved and the tagged history.
	var got status.RunnerStatus
	resp = f.do(t, http.MethodGet, "/runner/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &got))
	assert.Equal(t, "2/2 steps complete.", got.StatusSummary)
	require.Len(t, got.RequestHistory, 2)
	assert.Equal(t, "discovery", got.RequestHistory[0].Step)
	assert.Equal(t, "registration", got.RequestHistory[1].Step)
}

func TestUnmatchedRequestsAreTaggedIgnored(t *testing.T) {
	f := newProxyFixture(t)
	f.initAndStart(t)

	resp := f.do(t, http.MethodGet, "/tm")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got status.RunnerStatus
	resp = f.do(t, http.MethodGet, "/runner/status")
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &got))
	require.Len(t, got.RequestHistory, 1)
	assert.Equal(t, engine.IgnoredStep, got.RequestHistory[0].Step)
}

func TestProxyRequiresActiveProcedure(t *testing.T) {
	f := newProxyFixture(t)

	resp := f.do(t, http.MethodGet, "/dcap")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "active test procedure is required")
}

func TestProceedEndpoint(t *testing.T) {
	const doc = `
name: MAN-01
description: d
category: c
steps:
  operator:
    event:
      type: proceed
    actions:
      - type: remove-listeners
        parameters:
          listeners: [operator]
`
	f := newProxyFixture(t)
	def, err := definition.Parse([]byte(doc))
	require.NoError(t, err)
	_, err = f.runner.Init(context.Background(), def, engine.ClientIdentity{LFDI: testLFDI})
	require.NoError(t, err)
	require.NoError(t, f.runner.Start(context.Background()))

	resp := f.do(t, http.MethodPost, "/runner/proceed")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Step string `json:"step"`
	}
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &body))
	assert.Equal(t, "operator", body.Step)

	// Nothing left waiting on the signal.
	resp = f.do(t, http.MethodPost, "/runner/proceed")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestFinalizeEndsTheRun(t *testing.T) {
	f := newProxyFixture(t)

	resp := f.do(t, http.MethodPost, "/runner/finalize")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.initAndStart(t)
	resp = f.do(t, http.MethodPost, "/runner/finalize")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got status.RunnerStatus
	require.NoError(t, json.Unmarshal([]byte(readBody(t, resp)), &got))
	assert.Equal(t, "ALL-01", got.TestProcedureName)

	// Finalized runs accept no more client traffic.
	resp = f.do(t, http.MethodGet, "/dcap")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = f.do(t, http.MethodPost, "/runner/finalize")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInitWithCertificate(t *testing.T) {
	f := newProxyFixture(t)

	certPEM := "-----BEGIN CERTIFICATE-----\n" +
		"Y2VydGlmaWNhdGUtZGVyLWJ5dGVz\n" +
		"-----END CERTIFICATE-----\n"
	resp := f.do(t, http.MethodPost, "/runner/init?test=ALL-01&certificate="+url.QueryEscape(certPEM))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	f.runner.Inspect(func(proc *engine.ActiveTestProcedure, _ []engine.RequestEntry, _ []engine.Interaction) {
		require.NotNil(t, proc)
		assert.Len(t, proc.Client.LFDI, 40)
		assert.False(t, strings.ContainsAny(proc.Client.LFDI, "abcdef"))
		assert.NotZero(t, proc.Client.SFDI)
	})
}

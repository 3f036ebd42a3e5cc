package support

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/bpread/internal/explore"
	"github.com/MeKo-Tech/bpread/internal/recognizer"
	"github.com/MeKo-Tech/bpread/internal/server"
)

// HTTPTestServerWrapper runs the HTTP server in-process over a scripted
// engine so scenarios do not need a text engine installed.
type HTTPTestServerWrapper struct {
	Server  *httptest.Server
	Session *explore.Session
	Engine  *recognizer.ScriptedEngine
}

// StartHTTPTestServer builds a session whose engine answers text at conf.
func (testCtx *TestContext) StartHTTPTestServer(text string, conf float64, mutate func(*server.Config)) error {
	if err := testCtx.StopServer(); err != nil {
		return err
	}

	eng := &recognizer.ScriptedEngine{Results: []recognizer.Result{{Text: text, Confidence: conf}}}
	sess, err := explore.NewBuilder().
		WithEngineFactory(func() (recognizer.Engine, error) { return eng, nil }).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build session: %w", err)
	}

	cfg := server.Config{CORSOrigin: "*", MaxUploadMB: 5, TimeoutSec: 10, Version: "test"}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := server.NewServer(sess, cfg)
	if err != nil {
		_ = sess.Close()
		return fmt.Errorf("failed to create server: %w", err)
	}
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)

	testCtx.HTTPTestServer = &HTTPTestServerWrapper{
		Server:  httptest.NewServer(mux),
		Session: sess,
		Engine:  eng,
	}
	return nil
}

// StopServer shuts down the in-process server if one is running.
func (testCtx *TestContext) StopServer() error {
	w := testCtx.HTTPTestServer
	if w == nil {
		return nil
	}
	testCtx.HTTPTestServer = nil
	w.Server.Close()
	return w.Session.Close()
}

func (testCtx *TestContext) serverURL(path string) (string, error) {
	if testCtx.HTTPTestServer == nil {
		return "", errors.New("server is not running")
	}
	return testCtx.HTTPTestServer.Server.URL + path, nil
}

func (testCtx *TestContext) recordResponse(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(body)
	testCtx.LastHTTPHeaders = make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}
	return nil
}

func (testCtx *TestContext) theServerIsRunningWithEngineText(text string, conf float64) error {
	return testCtx.StartHTTPTestServer(text, conf, nil)
}

func (testCtx *TestContext) theServerIsRunningWithRateLimit(text string, perMinute int) error {
	return testCtx.StartHTTPTestServer(text, 95, func(c *server.Config) {
		c.RateLimit = server.RateLimitConfig{Enabled: true, RequestsPerMinute: perMinute}
	})
}

func (testCtx *TestContext) iSendGETRequestTo(path string) error {
	url, err := testCtx.serverURL(path)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url) //nolint:noctx // test client
	if err != nil {
		return fmt.Errorf("GET %s failed: %w", path, err)
	}
	return testCtx.recordResponse(resp)
}

// iUploadTo posts the named display as the multipart "image" field.
func (testCtx *TestContext) iUploadTo(name, path string) error {
	url, err := testCtx.serverURL(testCtx.substituteCommandVariables(path))
	if err != nil {
		return err
	}
	file, ok := testCtx.Vars[name]
	if !ok {
		return fmt.Errorf("no display named %q", name)
	}
	data, err := os.ReadFile(file) //nolint:gosec // rendered by the scenario
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", file, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", name+".png")
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, mw.FormDataContentType(), &body) //nolint:noctx // test client
	if err != nil {
		return fmt.Errorf("POST %s failed: %w", path, err)
	}
	return testCtx.recordResponse(resp)
}

func (testCtx *TestContext) iPostJSONTo(path string, doc *godog.DocString) error {
	url, err := testCtx.serverURL(path)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", strings.NewReader(doc.Content)) //nolint:noctx // test client
	if err != nil {
		return fmt.Errorf("POST %s failed: %w", path, err)
	}
	return testCtx.recordResponse(resp)
}

func (testCtx *TestContext) theResponseStatusShouldBe(status int) error {
	if testCtx.LastHTTPStatusCode != status {
		return fmt.Errorf("expected status %d, got %d\nBody: %s", status, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(expected string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, expected) {
		return fmt.Errorf("response does not contain %q\nBody: %s", expected, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, value string) error {
	if got := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]; got != value {
		return fmt.Errorf("expected header %s=%q, got %q", name, value, got)
	}
	return nil
}

func (testCtx *TestContext) theEngineShouldHaveBeenCalledTimes(n string) error {
	if testCtx.HTTPTestServer == nil {
		return errors.New("server is not running")
	}
	want, err := strconv.Atoi(n)
	if err != nil {
		return err
	}
	if got := testCtx.HTTPTestServer.Engine.Calls(); got != want {
		return fmt.Errorf("expected %d engine calls, got %d", want, got)
	}
	return nil
}

// RegisterServerSteps registers the HTTP server steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the server is running with engine text "([^"]*)" at confidence (\d+)$`, testCtx.theServerIsRunningWithEngineText)
	sc.Step(`^the server is running with engine text "([^"]*)" and a limit of (\d+) requests per minute$`,
		testCtx.theServerIsRunningWithRateLimit)
	sc.Step(`^I send a GET request to "([^"]*)"$`, testCtx.iSendGETRequestTo)
	sc.Step(`^I upload "([^"]*)" to "([^"]*)"$`, testCtx.iUploadTo)
	sc.Step(`^I post JSON to "([^"]*)":$`, testCtx.iPostJSONTo)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
	sc.Step(`^the engine should have been called (\d+) times?$`, testCtx.theEngineShouldHaveBeenCalledTimes)
}

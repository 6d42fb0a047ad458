package whisperfile

import (
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"strconv"
	"sync"
	"time"

	transcribe "github.com/oberonlabs/transcribe-go"
)

// healthPollInterval is the pause between readiness probes while the server
// is starting.
const healthPollInterval = 100 * time.Millisecond

// serverState tracks the supervised process through its lifecycle. The only
// legal transitions are NotStarted→Starting, Starting→Ready or Stopped,
// Ready⇄Busy, and any state→Stopped.
type serverState int

const (
	stateNotStarted serverState = iota
	stateStarting
	stateReady
	stateBusy
	stateStopped
)

func (s serverState) String() string {
	switch s {
	case stateNotStarted:
		return "not-started"
	case stateStarting:
		return "starting"
	case stateReady:
		return "ready"
	case stateBusy:
		return "busy"
	case stateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("serverState(%d)", int(s))
	}
}

// server supervises one whisperfile server process. Requests arriving while
// a transcription is in flight queue on the mutex rather than failing.
type server struct {
	baseURL string
	client  *http.Client
	cmd     *exec.Cmd

	// exited is closed by the wait goroutine when the process ends.
	exited chan struct{}

	mu    sync.Mutex
	state serverState
}

// startServer spawns `binary --server -m model --host H --port P` and polls
// GET / until the process answers or the timeout elapses. Spawn failures and
// health-check timeouts both surface as ErrServerStartTimeout; the caller
// only needs to know the server never became ready.
func startServer(binary, modelPath, host string, port int, timeout time.Duration) (*server, error) {
	s := &server{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		client:  &http.Client{},
		exited:  make(chan struct{}),
		state:   stateStarting,
	}

	s.cmd = exec.Command(binary, "--server", "-m", modelPath,
		"--host", host, "--port", strconv.Itoa(port))
	if err := s.cmd.Start(); err != nil {
		s.state = stateStopped
		return nil, fmt.Errorf("%w: spawn %q: %v", transcribe.ErrServerStartTimeout, binary, err)
	}
	go func() {
		_ = s.cmd.Wait()
		close(s.exited)
	}()

	if err := s.waitReady(timeout); err != nil {
		s.stop()
		return nil, err
	}

	s.mu.Lock()
	s.state = stateReady
	s.mu.Unlock()
	slog.Debug("whisperfile server ready", "url", s.baseURL)
	return s, nil
}

// waitReady probes the server root until it responds.
func (s *server) waitReady(timeout time.Duration) error {
	probe := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-s.exited:
			return fmt.Errorf("%w: server exited during startup", transcribe.ErrServerStartTimeout)
		default:
		}
		resp, err := probe.Get(s.baseURL + "/")
		if err == nil {
			resp.Body.Close()
			return nil
		}
		time.Sleep(healthPollInterval)
	}
	return fmt.Errorf("%w: no response from %s after %v",
		transcribe.ErrServerStartTimeout, s.baseURL, timeout)
}

// crashed reports whether the process has exited.
func (s *server) crashed() bool {
	select {
	case <-s.exited:
		return true
	default:
		return false
	}
}

// do runs one request against the server, holding the busy slot for its
// duration. A process exit observed before or during the request reports
// ErrServerCrashed.
func (s *server) do(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateStopped {
		return nil, transcribe.ErrNotLoaded
	}
	if s.crashed() {
		s.state = stateStopped
		return nil, transcribe.ErrServerCrashed
	}

	s.state = stateBusy
	resp, err := s.client.Do(req)
	s.state = stateReady

	if err != nil {
		if s.crashed() {
			s.state = stateStopped
			return nil, fmt.Errorf("%w: %v", transcribe.ErrServerCrashed, err)
		}
		return nil, err
	}
	return resp, nil
}

// stop kills the process and waits for it to exit. Idempotent.
func (s *server) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateStopped {
		return
	}
	s.state = stateStopped
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	<-s.exited
}

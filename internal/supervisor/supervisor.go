package supervisor

import (
	"bufio"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/DMartelly/amridm2mqtt/internal/config"
	"github.com/DMartelly/amridm2mqtt/internal/liveness"
	"github.com/DMartelly/amridm2mqtt/internal/meter"
	"github.com/DMartelly/amridm2mqtt/internal/metrics"
	"github.com/DMartelly/amridm2mqtt/internal/mqtt"
	"github.com/DMartelly/amridm2mqtt/internal/shutdown"
)

// Supervisor lifecycle states.
const (
	stateStarting     = "starting"
	stateRunning      = "running"
	stateShuttingDown = "shutting_down"
	stateTerminated   = "terminated"

	eventStarted    = "started"
	eventShutDown   = "shut_down"
	eventTerminated = "terminated"
)

// Startup and retry delays. Variables so tests do not sit through them.
var (
	// The tuner needs a moment to claim the dongle before the decoder
	// connects, and the decoder needs one before it produces output.
	tunerStartupDelay   = 5 * time.Second
	decoderStartupDelay = 2 * time.Second

	// Pause after the decoder stream ends before attempting a restart.
	readRetryDelay = 2 * time.Second

	restartSlotTime = time.Second
)

const (
	restartMaxDelay = 60 * time.Second

	// The two record shapes this daemon consumes: R900 (water, 11 CSV
	// fields) and SCM (gas, 9 CSV fields).
	decoderMessageTypes = "scm,r900"
)

// errStopping rejects a decoder launch once teardown has begun, so a
// restart racing the shutdown sweep cannot leave an orphan behind.
var errStopping = errors.New("supervisor is shutting down")

// Supervisor owns the tuner and decoder subprocesses and drives the
// line → classify → extract → publish pipeline on a single goroutine.
// The process handles are also read by the shutdown handler's goroutine,
// so they live behind mu; everything else stays loop-local.
type Supervisor struct {
	cfg       config.Config
	publisher mqtt.Publisher
	pinger    *liveness.Pinger
	machine   *fsm.FSM

	mu       sync.Mutex
	stopping bool
	tuner    *ManagedProcess
	decoder  *ManagedProcess

	decoderOut *bufio.Scanner

	restarts int64
}

func New(cfg config.Config, publisher mqtt.Publisher, pinger *liveness.Pinger) *Supervisor {
	s := &Supervisor{
		cfg:       cfg,
		publisher: publisher,
		pinger:    pinger,
	}
	s.machine = fsm.NewFSM(
		stateStarting,
		fsm.Events{
			{Name: eventStarted, Src: []string{stateStarting}, Dst: stateRunning},
			{Name: eventShutDown, Src: []string{stateStarting, stateRunning}, Dst: stateShuttingDown},
			{Name: eventTerminated, Src: []string{stateShuttingDown}, Dst: stateTerminated},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				zap.S().Infof("Supervisor state %s -> %s", e.Src, e.Dst)
			},
		},
	)
	return s
}

// Run launches the subprocesses and processes decoder output until gs
// reports a shutdown. Only startup failures are returned; everything after
// the transition to running is contained inside the loop.
func (s *Supervisor) Run(gs shutdown.Handler) error {
	if err := s.startTuner(); err != nil {
		return err
	}
	if err := s.startDecoder(); err != nil {
		return err
	}
	_ = s.machine.Event(context.Background(), eventStarted)

	for !gs.ShuttingDown() {
		if s.decoderOut.Scan() {
			metrics.LinesTotal.Inc()
			s.handleLine(s.decoderOut.Text())
			s.restarts = 0
		} else {
			s.onDecoderExit(gs)
		}
		s.pinger.Tick()
	}
	return nil
}

func (s *Supervisor) startTuner() error {
	zap.S().Infof("Starting tuner %s", s.cfg.RTLTCPPath)
	tuner, err := startTuner(s.cfg.RTLTCPPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.tuner = tuner
	s.mu.Unlock()
	time.Sleep(tunerStartupDelay)
	return nil
}

func (s *Supervisor) startDecoder() error {
	args := decoderArgs(s.cfg.Watched)

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return errStopping
	}
	zap.S().Infof("Starting decoder %s %v", s.cfg.RTLAMRPath, args)
	decoder, stdout, err := startDecoder(s.cfg.RTLAMRPath, args)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.decoder = decoder
	s.decoderOut = bufio.NewScanner(stdout)
	s.mu.Unlock()

	time.Sleep(decoderStartupDelay)
	return nil
}

// decoderArgs selects the two consumed message types, CSV formatting and
// the watched-meter filter.
func decoderArgs(watched config.WatchedMeters) []string {
	return []string{
		"-msgtype=" + decoderMessageTypes,
		"-format=csv",
		"-filterid=" + strings.Join(watched.IDs(), ","),
	}
}

// handleLine runs one decoder line through the pipeline. A bad line costs
// only itself, the loop never stops over one.
func (s *Supervisor) handleLine(line string) {
	fields := strings.Split(line, ",")

	var readings []meter.Reading
	var err error
	shape := meter.Classify(fields, s.cfg.Watched)
	switch shape {
	case meter.Water:
		readings, err = meter.ExtractWater(fields)
	case meter.Gas:
		readings, err = meter.ExtractGas(fields)
	default:
		// No identifier at all means the line is not classifiable, drop it
		// without noise.
		if id := meter.MeterID(fields); id != "" {
			metrics.UnknownMeters.Inc()
			zap.S().Warnf("Ignoring record for unwatched or unknown meter %s (%d fields)", id, len(fields))
		}
		return
	}
	if err != nil {
		zap.S().Warnf("Error extracting %s record: %v (fields: %v)", shape, err, fields)
		return
	}

	// Publish failures are contained per reading, the rest of the line
	// still goes out.
	for _, reading := range readings {
		s.publisher.Publish(reading.Topic, reading.Value)
	}
}

// onDecoderExit handles an exhausted decoder stream: the subprocess died or
// closed stdout. The old behavior of looping silently forever left the
// daemon mute until someone restarted it, so the decoder is relaunched with
// a backed-off delay instead.
func (s *Supervisor) onDecoderExit(gs shutdown.Handler) {
	if err := s.decoderOut.Err(); err != nil {
		zap.S().Errorf("Error reading decoder output: %v", err)
	} else {
		zap.S().Errorf("Decoder output stream ended, decoder has likely died")
	}

	s.mu.Lock()
	dead := s.decoder
	s.decoder = nil
	s.mu.Unlock()
	if err := dead.wait(); err != nil {
		zap.S().Errorf("Decoder exited: %v", err)
	}

	time.Sleep(readRetryDelay)
	if gs.ShuttingDown() {
		return
	}

	s.restarts++
	metrics.DecoderRestarts.Inc()
	if delay := restartBackoff(s.restarts, restartSlotTime, restartMaxDelay); delay > 0 {
		zap.S().Infof("Waiting %s before restarting decoder (attempt %d)", delay, s.restarts)
		time.Sleep(delay)
	}
	if err := s.startDecoder(); err != nil {
		if errors.Is(err, errStopping) {
			return
		}
		// Leave the dead scanner in place, the next loop iteration lands
		// here again and retries with a longer delay.
		zap.S().Errorf("Error restarting decoder: %v", err)
		return
	}
	zap.S().Infof("Decoder restarted")
}

// beginTeardown latches the stopping flag so no new decoder can launch
// behind the shutdown sweep, and hands the current handles to the caller.
func (s *Supervisor) beginTeardown() (decoder, tuner *ManagedProcess) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = true
	return s.decoder, s.tuner
}

// Teardown terminates both subprocesses by handle and sweeps the process
// table for leftovers by name. Called from the shutdown handler.
func (s *Supervisor) Teardown() {
	_ = s.machine.Event(context.Background(), eventShutDown)
	decoder, tuner := s.beginTeardown()
	decoder.Terminate()
	tuner.Terminate()
	killByName(filepath.Base(s.cfg.RTLAMRPath), filepath.Base(s.cfg.RTLTCPPath))
	_ = s.machine.Event(context.Background(), eventTerminated)
}

// State reports the current lifecycle state.
func (s *Supervisor) State() string {
	return s.machine.Current()
}

package supervisor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// terminateGrace is how long a subprocess gets between SIGTERM and SIGKILL.
// The exit is polled so a cooperative process costs at most one poll tick,
// not the full grace period.
const (
	terminateGrace    = 3 * time.Second
	terminatePollTick = 50 * time.Millisecond
)

// ManagedProcess is an explicit handle to a running external process. The
// supervisor owns it exclusively and signals the tracked pid directly;
// killing by name is reserved for the shutdown sweep.
type ManagedProcess struct {
	name string
	cmd  *exec.Cmd
}

// startTuner launches the tuner fire-and-forget. Its output is discarded,
// the decoder connects to it over the network.
func startTuner(path string) (*ManagedProcess, error) {
	cmd := exec.Command(path)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting tuner %s: %w", path, err)
	}
	p := &ManagedProcess{name: filepath.Base(path), cmd: cmd}
	// Reap the exit status so a dead tuner does not linger as a zombie.
	go func() {
		err := cmd.Wait()
		zap.S().Warnf("Tuner %s exited: %v", p.name, err)
	}()
	return p, nil
}

// startDecoder launches the decoder with its stdout piped back to the
// supervisor. The caller owns the returned stream and must reap the
// process via wait once the stream ends.
func startDecoder(path string, args []string) (*ManagedProcess, io.ReadCloser, error) {
	cmd := exec.Command(path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("piping decoder %s stdout: %w", path, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("starting decoder %s: %w", path, err)
	}
	return &ManagedProcess{name: filepath.Base(path), cmd: cmd}, stdout, nil
}

// wait reaps the process and returns its exit error, if any.
func (p *ManagedProcess) wait() error {
	if p == nil || p.cmd == nil {
		return nil
	}
	return p.cmd.Wait()
}

// Terminate asks the process to stop, then kills it if it is still around
// once the grace period runs out. Signalling an already dead process is not
// an error.
func (p *ManagedProcess) Terminate() {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return
	}
	zap.S().Infof("Terminating %s (pid %d)", p.name, p.cmd.Process.Pid)
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		zap.S().Warnf("Error signalling %s: %v", p.name, err)
	}
	deadline := time.Now().Add(terminateGrace)
	for time.Now().Before(deadline) {
		if !p.alive() {
			return
		}
		time.Sleep(terminatePollTick)
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		zap.S().Warnf("Error killing %s: %v", p.name, err)
	}
}

// alive probes the pid with signal 0. Reports false once the process has
// exited and been reaped by its owning Wait.
func (p *ManagedProcess) alive() bool {
	return p.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// killByName sweeps the process table for stragglers matching the given
// executable names. Blunt fallback for processes whose handle was lost,
// e.g. a tuner that forked.
func killByName(names ...string) {
	procs, err := process.Processes()
	if err != nil {
		zap.S().Warnf("Error listing processes: %v", err)
		return
	}
	for _, proc := range procs {
		name, err := proc.Name()
		if err != nil {
			continue
		}
		for _, want := range names {
			if name != want {
				continue
			}
			zap.S().Infof("Killing stray %s (pid %d)", name, proc.Pid)
			if err := proc.Kill(); err != nil {
				zap.S().Warnf("Error killing stray %s: %v", name, err)
			}
		}
	}
}

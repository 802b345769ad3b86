package capture

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// Handle is a running external process
type Handle interface {
	Pid() int
	Signal(sig os.Signal) error
	Kill() error
	// Done is closed once the process has exited
	Done() <-chan struct{}
	// ExitCode is valid after Done is closed; -1 means killed by a signal
	ExitCode() int
}

// Runner starts external processes
type Runner interface {
	Start(cmd Command) (Handle, error)
}

// ExecRunner starts processes with os/exec. When LogOutput is set, process
// output lines are forwarded to the debug log.
type ExecRunner struct {
	LogOutput bool
}

// Start launches the command
func (r ExecRunner) Start(c Command) (Handle, error) {
	cmd := exec.Command(c.Path, c.Args...)
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	var pipes []io.ReadCloser
	if r.LogOutput {
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
		}
		pipes = append(pipes, stdout, stderr)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", c.Path, err)
	}

	h := &execHandle{cmd: cmd, done: make(chan struct{})}

	var readers sync.WaitGroup
	for i, pipe := range pipes {
		label := "stdout"
		if i == 1 {
			label = "stderr"
		}
		readers.Add(1)
		go func(pipe io.ReadCloser, label string) {
			defer readers.Done()
			readOutput(pipe, h.Pid(), label)
		}(pipe, label)
	}

	go func() {
		readers.Wait()
		err := cmd.Wait()
		h.exitCode = cmd.ProcessState.ExitCode()
		if err != nil {
			slog.Debug("Process exited", "pid", h.Pid(), "state", cmd.ProcessState.String())
		}
		close(h.done)
	}()

	return h, nil
}

// readOutput reads from a pipe until EOF and logs each line
func readOutput(pipe io.ReadCloser, pid int, label string) {
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		slog.Debug("Recorder output", "pid", pid, "stream", label, "line", scanner.Text())
	}
}

type execHandle struct {
	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int
}

func (h *execHandle) Pid() int {
	return h.cmd.Process.Pid
}

func (h *execHandle) Signal(sig os.Signal) error {
	return h.cmd.Process.Signal(sig)
}

func (h *execHandle) Kill() error {
	return h.cmd.Process.Kill()
}

func (h *execHandle) Done() <-chan struct{} {
	return h.done
}

func (h *execHandle) ExitCode() int {
	<-h.done
	return h.exitCode
}

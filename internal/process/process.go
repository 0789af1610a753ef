package process

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Spec describes a child process to start.
type Spec struct {
	Path string
	Args []string
	// Env entries are appended to the current environment.
	Env []string
	Dir string
	// Output receives stdout and stderr; nil discards them.
	Output io.Writer
}

// Process is a started child.
type Process interface {
	Pid() int
	// Wait blocks until the process exits. It is safe to call from several
	// goroutines; all of them observe the same result.
	Wait() error
	Signal(sig os.Signal) error
	Kill() error
}

// Spawner starts processes.
type Spawner interface {
	Spawn(spec Spec) (Process, error)
}

// ExecSpawner starts real OS processes in their own process group so they
// survive the CLI exiting.
type ExecSpawner struct{}

func (ExecSpawner) Spawn(spec Spec) (Process, error) {
	// exec.Command rather than CommandContext: the child must outlive the caller
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Stdin = nil
	if spec.Output != nil {
		cmd.Stdout = spec.Output
		cmd.Stderr = spec.Output
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", spec.Path, err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Wait() error {
	<-p.done
	return p.err
}

func (p *execProcess) Signal(sig os.Signal) error { return p.cmd.Process.Signal(sig) }

func (p *execProcess) Kill() error { return p.cmd.Process.Kill() }

// Terminate interrupts p and waits up to grace for it to exit, then kills it.
func Terminate(p Process, grace time.Duration) {
	if p == nil {
		return
	}
	if err := p.Signal(os.Interrupt); err != nil {
		// Already gone, or interrupt unsupported
		p.Kill()
	}

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		p.Kill()
		<-done
	}
}

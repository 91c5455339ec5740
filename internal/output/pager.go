// SPDX-License-Identifier: MPL-2.0

package output

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/Morganamilo/paccat/internal/issue"
)

// pagerProc is a running pager with its input pipe. It is a scoped
// resource: close must be called before the next entry's sink may open.
type pagerProc struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// DiscoverPager returns the pager executable to use: $PAGER if set and
// resolvable, then less, then more. Empty when none is available.
func DiscoverPager() string {
	if pager := os.Getenv("PAGER"); pager != "" {
		if path, err := exec.LookPath(pager); err == nil {
			return path
		}
	}
	for _, candidate := range []string{"less", "more"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return path
		}
	}
	return ""
}

// startPager spawns the pager with its stdout/stderr attached to the
// terminal and returns the handle owning its input pipe.
func startPager(path string) (*pagerProc, error) {
	cmd := exec.Command(path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if _, ok := os.LookupEnv("LESS"); !ok {
		cmd.Env = append(os.Environ(), "LESS=FRX")
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating pager pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting pager %s: %w", path, err)
	}
	return &pagerProc{cmd: cmd, stdin: stdin}, nil
}

func (p *pagerProc) write(b []byte) error {
	if _, err := p.stdin.Write(b); err != nil {
		return err
	}
	return nil
}

// close drops the input stream, waits for the pager to exit, and fails
// when the exit code is non-zero. Pager failures are not silently
// ignored: they invalidate the trustworthiness of what was displayed.
func (p *pagerProc) close() error {
	_ = p.stdin.Close()
	if err := p.cmd.Wait(); err != nil {
		return fmt.Errorf("%w: %s: %w", issue.ErrPager, p.cmd.Path, err)
	}
	return nil
}

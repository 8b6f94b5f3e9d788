package retriever

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/patchfetch/patchfetch/internal/archive"
	"github.com/patchfetch/patchfetch/internal/mbox"
)

// NotKnownMarker is printed by b4 for message IDs the archive does not have
const NotKnownMarker = "That message-id is not known."

const (
	callFile  = "b4_call"
	errorFile = "error.txt"
)

// Runner executes name with args and returns its captured output
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// CommandOptions configures a Command retriever
type CommandOptions struct {
	Command       string
	Args          []string // may contain {url}, {dir} and {msgid}
	Retries       int      // extra attempts after the first failure
	RetryInterval time.Duration
	Timeout       time.Duration // per attempt, 0 = none
	Fs            afero.Fs
	Runner        Runner
	Logger        *slog.Logger
}

// Command retrieves threads by running an external tool such as b4
type Command struct {
	opts   CommandOptions
	fs     afero.Fs
	run    Runner
	logger *slog.Logger
}

// NewCommand creates a Command retriever. Fs defaults to the OS filesystem
// and Runner to os/exec.
func NewCommand(opts CommandOptions) *Command {
	c := &Command{opts: opts, fs: opts.Fs, run: opts.Runner, logger: opts.Logger}
	if c.fs == nil {
		c.fs = afero.NewOsFs()
	}
	if c.run == nil {
		c.run = ExecRunner
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// ExecRunner runs the command through os/exec
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Retrieve runs the tool for req.Link unless its directory already holds a mailbox
func (c *Command) Retrieve(ctx context.Context, req Request) (*Result, error) {
	dir, truncated := ThreadDir(req.OutputDir, req.Link)
	if c.claimedByOther(dir, req.Link) {
		alt := CollisionDir(dir, req.Link)
		c.logger.Debug("directory belongs to another thread", "url", req.Link.URL, "dir", dir, "using", alt)
		dir = alt
	}

	if has, err := hasMailbox(c.fs, dir); err != nil {
		return nil, fmt.Errorf("failed to check %s: %w", dir, err)
	} else if has {
		c.logger.Debug("artifact exists, skipping", "url", req.Link.URL, "dir", dir)
		return &Result{Dir: dir, Existing: true, Messages: c.count(dir)}, nil
	}

	if err := c.fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	args := expandArgs(c.opts.Args, req.Link, dir)
	call := append([]string{c.opts.Command}, args...)

	var stderr []byte
	var err error
	attempts := 0
	for {
		attempts++
		stderr, err = c.attempt(ctx, args)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if strings.Contains(string(stderr), NotKnownMarker) {
			err = fmt.Errorf("%w: %s", ErrPermanent, NotKnownMarker)
			break
		}
		if attempts > c.opts.Retries {
			break
		}

		c.logger.Debug("retrieval failed, retrying",
			"url", req.Link.URL, "attempt", attempts, "error", err, "stderr", firstLine(stderr))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.opts.RetryInterval):
		}
	}

	if err == nil {
		if has, checkErr := hasMailbox(c.fs, dir); checkErr != nil {
			err = fmt.Errorf("failed to check %s: %w", dir, checkErr)
		} else if !has {
			err = fmt.Errorf("%w after %s exited successfully", mbox.ErrNoMailbox, c.opts.Command)
		}
	}

	c.writeCall(dir, call, truncated, req.Link.Title)

	if err != nil {
		breadcrumb := stderr
		if len(breadcrumb) == 0 {
			breadcrumb = []byte(err.Error() + "\n")
		}
		if writeErr := afero.WriteFile(c.fs, filepath.Join(dir, errorFile), breadcrumb, 0644); writeErr != nil {
			c.logger.Warn("failed to write error breadcrumb", "dir", dir, "error", writeErr)
		}
		return nil, fmt.Errorf("failed to retrieve %s after %d attempts: %w", req.Link.URL, attempts, err)
	}

	// a stale error.txt from an earlier failure no longer applies
	_ = c.fs.Remove(filepath.Join(dir, errorFile))

	return &Result{Dir: dir, Messages: c.count(dir)}, nil
}

func (c *Command) attempt(ctx context.Context, args []string) ([]byte, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	_, stderr, err := c.run(ctx, c.opts.Command, args...)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			err = fmt.Errorf("%s exited with status %d", c.opts.Command, exitErr.ExitCode())
		}
	}
	return stderr, err
}

func (c *Command) writeCall(dir string, call []string, truncated bool, title string) {
	var b strings.Builder
	b.WriteString(strings.Join(call, " "))
	b.WriteString("\n")
	if truncated {
		b.WriteString("Thread title was too long, so it was truncated\n")
		b.WriteString(title)
		b.WriteString("\n")
	}

	if err := afero.WriteFile(c.fs, filepath.Join(dir, callFile), []byte(b.String()), 0644); err != nil {
		c.logger.Warn("failed to write call breadcrumb", "dir", dir, "error", err)
	}
}

// claimedByOther reports whether dir holds the call breadcrumb of a
// different thread that sanitized to the same name
func (c *Command) claimedByOther(dir string, link archive.ThreadLink) bool {
	data, err := afero.ReadFile(c.fs, filepath.Join(dir, callFile))
	if err != nil {
		return false
	}
	call := firstLine(data)
	if strings.Contains(call, link.URL) {
		return false
	}
	if link.MessageID != "" && strings.Contains(call, link.MessageID) {
		return false
	}
	return true
}

// count returns the number of messages in dir's mailbox, 0 if it cannot be read
func (c *Command) count(dir string) int {
	summary, err := mbox.Inspect(c.fs, dir)
	if err != nil {
		c.logger.Warn("failed to inspect mailbox", "dir", dir, "error", err)
		return 0
	}
	return summary.Messages
}

func hasMailbox(fs afero.Fs, dir string) (bool, error) {
	exists, err := afero.DirExists(fs, dir)
	if err != nil || !exists {
		return false, err
	}
	path, err := mbox.Find(fs, dir)
	if err != nil {
		return false, err
	}
	return path != "", nil
}

func expandArgs(args []string, link archive.ThreadLink, dir string) []string {
	r := strings.NewReplacer("{url}", link.URL, "{dir}", dir, "{msgid}", link.MessageID)

	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

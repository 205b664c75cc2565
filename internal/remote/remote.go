// Package remote runs delta training on another machine through
// configured shell commands and publishes the returned checkpoint.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"jobmail/internal/config"
	"jobmail/internal/dataset"
	"jobmail/internal/fileutil"
	"jobmail/internal/model"
)

var (
	ErrNotConfigured = errors.New("remote build commands are not configured")
	ErrBuildFailed   = errors.New("remote build reported an error")
)

// Snapshot is what a remote build trains on.
type Snapshot struct {
	Labels  []string
	Cursor  int
	Dataset dataset.Labeled
}

// Builder trains on a snapshot elsewhere and returns the path of the
// fetched checkpoint file.
type Builder interface {
	Build(ctx context.Context, snap Snapshot) (string, error)
}

// Runner executes one shell command and returns its stdout.
type Runner func(ctx context.Context, command string, env []string) ([]byte, error)

// ShellRunner runs the command with sh -c.
func ShellRunner(ctx context.Context, command string, env []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, fmt.Errorf("%q exited with %d: %s", command, exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return out, err
	}
	return out, nil
}

// Commands configure an ExecBuilder. Each command sees JOBMAIL_WORKDIR,
// JOBMAIL_SNAPSHOT and JOBMAIL_OUTPUT in its environment. Status must print
// "complete", "error", or anything else while the build is still running.
type Commands struct {
	Push   string
	Status string
	Fetch  string
}

type ExecBuilder struct {
	cmds     Commands
	workDir  string
	interval time.Duration
	timeout  time.Duration
	run      Runner
	logger   *zap.Logger
}

func NewExecBuilder(cmds Commands, workDir string, interval, timeout time.Duration, run Runner, logger *zap.Logger) (*ExecBuilder, error) {
	if cmds.Push == "" || cmds.Status == "" || cmds.Fetch == "" {
		return nil, ErrNotConfigured
	}
	if run == nil {
		run = ShellRunner
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ExecBuilder{cmds: cmds, workDir: workDir, interval: interval, timeout: timeout, run: run, logger: logger}, nil
}

// FromConfig builds an ExecBuilder working under DATA_DIR/remote.
func FromConfig(cfg *config.Config, logger *zap.Logger) (*ExecBuilder, error) {
	return NewExecBuilder(
		Commands{Push: cfg.RemotePushCmd, Status: cfg.RemoteStatusCmd, Fetch: cfg.RemoteFetchCmd},
		filepath.Join(cfg.DataDir, "remote"),
		cfg.RemotePollInterval, cfg.RemoteTimeout, nil, logger)
}

type snapshotRow struct {
	Seq   int64  `json:"seq"`
	Text  string `json:"text"`
	Label string `json:"label"`
}

type snapshotHeader struct {
	Labels []string `json:"labels"`
	Cursor int      `json:"last_row_trained"`
	Rows   int      `json:"rows"`
}

// WriteSnapshot stores the snapshot as a JSON header line followed by one
// JSON line per row.
func WriteSnapshot(path string, snap Snapshot) error {
	return fileutil.WriteAtomic(path, 0o644, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		if err := enc.Encode(snapshotHeader{Labels: snap.Labels, Cursor: snap.Cursor, Rows: snap.Dataset.Len()}); err != nil {
			return err
		}
		for _, ex := range snap.Dataset {
			if ex.Target < 0 || ex.Target >= len(snap.Labels) {
				return fmt.Errorf("row seq=%d has target %d outside %d labels", ex.Seq, ex.Target, len(snap.Labels))
			}
			if err := enc.Encode(snapshotRow{Seq: ex.Seq, Text: ex.Text, Label: snap.Labels[ex.Target]}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *ExecBuilder) Build(ctx context.Context, snap Snapshot) (string, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	outDir := filepath.Join(b.workDir, "output")
	if err := os.RemoveAll(outDir); err != nil {
		return "", fmt.Errorf("clean output dir: %w", err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	snapPath := filepath.Join(b.workDir, "snapshot.jsonl")
	if err := WriteSnapshot(snapPath, snap); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	env := []string{
		"JOBMAIL_WORKDIR=" + b.workDir,
		"JOBMAIL_SNAPSHOT=" + snapPath,
		"JOBMAIL_OUTPUT=" + outDir,
	}

	b.logger.Info("pushing snapshot to remote build",
		zap.Int("rows", snap.Dataset.Len()), zap.Int("cursor", snap.Cursor))
	if _, err := b.run(ctx, b.cmds.Push, env); err != nil {
		return "", fmt.Errorf("push: %w", err)
	}
	if err := b.wait(ctx, env); err != nil {
		return "", err
	}
	if _, err := b.run(ctx, b.cmds.Fetch, env); err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}

	path := model.Path(outDir)
	if !fileutil.Exists(path) {
		return "", fmt.Errorf("fetch produced no checkpoint at %s", path)
	}
	return path, nil
}

func (b *ExecBuilder) wait(ctx context.Context, env []string) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		out, err := b.run(ctx, b.cmds.Status, env)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		status := strings.ToLower(strings.TrimSpace(string(out)))
		switch {
		case strings.Contains(status, "complete"):
			b.logger.Info("remote build complete")
			return nil
		case strings.Contains(status, "error"):
			return fmt.Errorf("%w: %s", ErrBuildFailed, status)
		}
		b.logger.Debug("remote build running", zap.String("status", status))
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for remote build: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

package sandboxpool

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
)

// State is a Handle's lifecycle state (spec §3 "Sandbox container").
type State int

const (
	StateIdle State = iota
	StateActive
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Handle is an opaque sandbox container reference (spec §3). It wraps a
// single long-lived container (started once by the pool, kept alive
// with a blocking entrypoint) so that CopyFiles/RunCommand/ReadFile map
// onto repeated `docker cp`/`docker exec` against the same containerID
// rather than spinning up a fresh container per command — the
// persistence the pool's acquire/release/reset discipline requires.
type Handle struct {
	ID            string
	Language      string
	ContainerID   string
	State         State
	CreatedAt     time.Time
	LastActivity  time.Time
	manifest      Manifest
}

// newHandle provisions a new long-lived container for language (spec §4.1
// acquire algorithm step 2: "synchronously provision a new container...").
func newHandle(ctx context.Context, manifest Manifest, fleetLabel string) (*Handle, error) {
	id := uuid.NewString()

	args := []string{
		"run", "-d",
		"--label", fmt.Sprintf("fleet=%s", fleetLabel),
		"--label", fmt.Sprintf("language=%s", manifest.Language),
		"--memory", fmt.Sprintf("%dm", manifest.MemoryMB),
		"--cpus", fmt.Sprintf("%.1f", manifest.CPUs),
		"--pids-limit", fmt.Sprintf("%d", manifest.PidsLimit),
		"--network", manifest.NetworkMode,
		"--workdir", manifest.WorkDir,
	}
	if manifest.CapDropAll {
		args = append(args, "--cap-drop=ALL")
	}
	if manifest.ReadOnly {
		args = append(args, "--read-only")
	}
	if manifest.TmpfsSizeMB > 0 {
		args = append(args, "--tmpfs", fmt.Sprintf("/tmp:size=%dm", manifest.TmpfsSizeMB))
	}
	args = append(args, manifest.Image, "tail", "-f", "/dev/null")

	cmd := exec.CommandContext(ctx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("docker run (provision %s): %w: %s", manifest.Language, err, stderr.String())
	}

	containerID := firstLine(stdout.String())
	now := time.Now()
	return &Handle{
		ID:           id,
		Language:     manifest.Language,
		ContainerID:  containerID,
		State:        StateActive,
		CreatedAt:    now,
		LastActivity: now,
		manifest:     manifest,
	}, nil
}

// CopyFiles implements the sandbox handle contract's copy_files operation
// (spec §6): writes each file to a host temp file, then `docker cp`s it
// into the container's working area.
func (h *Handle) CopyFiles(files map[string][]byte) error {
	for name, content := range files {
		tmp, err := os.CreateTemp("", "gradesvc-copy-*")
		if err != nil {
			return fmt.Errorf("copy_files: stage %q: %w", name, err)
		}
		tmpPath := tmp.Name()
		_, writeErr := tmp.Write(content)
		closeErr := tmp.Close()
		defer os.Remove(tmpPath)
		if writeErr != nil {
			return fmt.Errorf("copy_files: stage %q: %w", name, writeErr)
		}
		if closeErr != nil {
			return fmt.Errorf("copy_files: stage %q: %w", name, closeErr)
		}

		dest := fmt.Sprintf("%s:%s/%s", h.ContainerID, h.manifest.WorkDir, name)
		cmd := exec.Command("docker", "cp", tmpPath, dest)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("copy_files: docker cp %q: %w: %s", name, err, stderr.String())
		}
	}
	h.LastActivity = time.Now()
	return nil
}

// RunCommand implements the sandbox handle contract's run_command
// operation (spec §6): blocking, bounded by runningTTLBound via ctx.
func (h *Handle) RunCommand(command string, stdin string) (exitCode int, stdout string, stderr string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), runningTTLBound)
	defer cancel()

	args := []string{"exec", "-i", h.ContainerID, "sh", "-c", command}
	cmd := exec.CommandContext(ctx, "docker", args...)
	cmd.Stdin = bytes.NewBufferString(stdin)

	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	h.LastActivity = time.Now()

	if exitErr, ok := runErr.(*exec.ExitError); ok {
		return exitErr.ExitCode(), outBuf.String(), errBuf.String(), nil
	}
	if runErr != nil {
		return -1, outBuf.String(), errBuf.String(), fmt.Errorf("run_command: %w", runErr)
	}
	return 0, outBuf.String(), errBuf.String(), nil
}

// ReadFile implements the sandbox handle contract's read_file operation
// (spec §6).
func (h *Handle) ReadFile(path string) ([]byte, error) {
	cmd := exec.Command("docker", "exec", h.ContainerID, "cat", path)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("read_file %q: %w: %s", path, err, errBuf.String())
	}
	h.LastActivity = time.Now()
	return outBuf.Bytes(), nil
}

// reset implements spec §4.1's release algorithm: remove submission files,
// clear scratch. Grounded on the same `docker exec` driving as RunCommand;
// the workdir is ephemeral tmpfs/overlay so recursively removing its
// contents is sufficient.
func (h *Handle) reset() error {
	_, _, stderr, err := h.RunCommand(fmt.Sprintf("rm -rf %s/* %s/..?* %s/.[!.]* 2>/dev/null; true", h.manifest.WorkDir, h.manifest.WorkDir, h.manifest.WorkDir), "")
	if err != nil {
		return fmt.Errorf("reset: %w: %s", err, stderr)
	}
	return nil
}

// destroy forcibly kills and removes the underlying container (spec §4.1
// "forcibly destroy it (kill underlying process)").
func (h *Handle) destroy() error {
	h.State = StateDestroyed
	cmd := exec.Command("docker", "rm", "-f", h.ContainerID)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("destroy %s: %w: %s", h.ContainerID, err, stderr.String())
	}
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

// runningTTLBound is a hard ceiling applied to any single RunCommand call
// so a hung sandbox process can't block its execution forever even before
// the sweeper's running_ttl check fires; the pool's running_ttl remains
// the authoritative enforcement point (spec §4.1 background sweeper).
const runningTTLBound = 5 * time.Minute

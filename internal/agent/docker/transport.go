// Copyright 2026 The Odd Jobs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package docker routes agent sessions through a Docker container instead of
// a bare host subprocess, for runbooks that declare an agent container with
// runtime "docker". It satisfies the same agent.Transport/agent.Handle seam
// the local transport does, so the router and lifecycle monitor don't know
// or care which one they're talking to.
package docker

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"

	"github.com/oddjobs/oddjobs/internal/agent"
	"github.com/oddjobs/oddjobs/internal/effects"
)

// stopTimeout is how long ContainerStop waits before Docker escalates to
// SIGKILL itself.
const stopTimeout = 10 * time.Second

// ringCapacity bounds how much terminal output CaptureOutput returns
// without re-reading the capture file from disk.
const ringCapacity = 256 * 1024

// Transport spawns agents as Docker containers.
type Transport struct {
	cli *client.Client
	log *slog.Logger
}

// NewTransport dials the local Docker daemon using the standard
// DOCKER_HOST/DOCKER_CERT_PATH environment conventions.
func NewTransport(logger *slog.Logger) (*Transport, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker transport: %w", err)
	}
	return &Transport{cli: cli, log: logger}, nil
}

// Spawn creates and starts a container running req.Command. Any Prime
// commands are chained into the same shell invocation ahead of it, since a
// container has exactly one entrypoint rather than a sequence of process
// steps the way the local transport's subprocess does.
func (t *Transport) Spawn(ctx context.Context, req effects.SpawnAgent, sessionLogPath, capPath string) (agent.Handle, error) {
	if req.Container == nil || req.Container.Image == "" {
		return nil, fmt.Errorf("docker transport: spawn request has no container image")
	}

	if err := writeConfigFile(req); err != nil {
		t.log.Warn("docker transport: failed to write agent config file", "error", err)
	}

	shellCmd := buildShellCommand(req.Prime, req.Command)

	containerCfg := &dockercontainer.Config{
		Image:        req.Container.Image,
		Cmd:          []string{"/bin/sh", "-c", shellCmd},
		Env:          envSlice(req.Env),
		WorkingDir:   req.Cwd,
		OpenStdin:    true,
		StdinOnce:    false,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
		Labels:       map[string]string{"oddjobs.owner": string(req.Owner.Kind)},
	}
	hostCfg := &dockercontainer.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: req.WorkspacePath, Target: req.WorkspacePath},
		},
	}

	resp, err := t.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		if err := t.pullImage(ctx, req.Container.Image); err != nil {
			return nil, fmt.Errorf("docker transport: create container: %w", err)
		}
		resp, err = t.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
		if err != nil {
			return nil, fmt.Errorf("docker transport: create container after pull: %w", err)
		}
	}
	containerID := resp.ID

	attach, err := t.cli.ContainerAttach(ctx, containerID, dockercontainer.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("docker transport: attach container: %w", err)
	}

	if err := t.cli.ContainerStart(ctx, containerID, dockercontainer.StartOptions{}); err != nil {
		attach.Close()
		return nil, fmt.Errorf("docker transport: start container: %w", err)
	}

	capFile, err := os.OpenFile(capPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		attach.Close()
		return nil, fmt.Errorf("docker transport: open terminal capture file: %w", err)
	}
	logFile, err := os.OpenFile(sessionLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		capFile.Close()
		attach.Close()
		return nil, fmt.Errorf("docker transport: open session log file: %w", err)
	}

	h := &handle{
		log:         t.log,
		cli:         t.cli,
		containerID: containerID,
		attach:      attach,
		capFile:     capFile,
		logFile:     logFile,
		exited:      make(chan struct{}),
		ring:        &ring{cap: ringCapacity},
	}
	go h.demux()
	go h.wait(ctx)

	return h, nil
}

func (t *Transport) pullImage(ctx context.Context, imageName string) error {
	reader, err := t.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", imageName, err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

func buildShellCommand(prime []string, main string) string {
	steps := append(append([]string{}, prime...), main)
	return strings.Join(steps, " && ")
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// writeConfigFile drops the same on_idle/prime/stop policy file the local
// transport does. The workspace path is a host bind mount, so it's written
// directly from the daemon process rather than through an exec into the
// not-yet-running container.
func writeConfigFile(req effects.SpawnAgent) error {
	type onIdle struct {
		Action  string `json:"action"`
		Message string `json:"message,omitempty"`
		GateCmd string `json:"gate_cmd,omitempty"`
	}
	cfg := struct {
		OnIdle onIdle   `json:"on_idle"`
		Prime  []string `json:"prime,omitempty"`
		Stop   struct {
			Mode string `json:"mode,omitempty"`
		} `json:"stop"`
	}{}
	action := req.OnIdleAction
	if action == "" {
		if req.Owner.Kind == "crew" {
			action = "escalate"
		} else {
			action = "done"
		}
	}
	cfg.OnIdle = onIdle{Action: action, Message: req.OnIdleMessage, GateCmd: req.OnIdleGateCmd}
	cfg.Prime = req.Prime
	cfg.Stop.Mode = req.StopMode

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(req.WorkspacePath+"/.oddjobs-agent.json", data, 0o644)
}

// handle is the live session state for one container.
type handle struct {
	log         *slog.Logger
	cli         *client.Client
	containerID string
	attach      dockertypes.HijackedResponse
	capFile     *os.File
	logFile     *os.File
	ring        *ring

	mu       sync.Mutex
	exitCode *int
	exited   chan struct{}
}

func (h *handle) demux() {
	dst := io.MultiWriter(h.capFile, h.logFile, h.ring)
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(h.attach.Reader, header); err != nil {
			return
		}
		size := binary.BigEndian.Uint32(header[4:8])
		if size == 0 {
			continue
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(h.attach.Reader, data); err != nil {
			return
		}
		streamType := header[0]
		if streamType == 1 || streamType == 2 {
			dst.Write(data)
		}
	}
}

func (h *handle) wait(ctx context.Context) {
	statusCh, errCh := h.cli.ContainerWait(ctx, h.containerID, dockercontainer.WaitConditionNotRunning)
	var code int
	select {
	case err := <-errCh:
		if err != nil {
			h.log.Warn("docker transport: error waiting for container", "container_id", h.containerID, "error", err)
		}
	case status := <-statusCh:
		code = int(status.StatusCode)
	}
	h.mu.Lock()
	h.exitCode = &code
	h.mu.Unlock()
	h.attach.Close()
	h.capFile.Close()
	h.logFile.Close()
	close(h.exited)
}

func (h *handle) ExitCode() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.exitCode == nil {
		return 0, false
	}
	return *h.exitCode, true
}

func (h *handle) Exited() <-chan struct{} { return h.exited }

func (h *handle) Send(ctx context.Context, input string) error {
	_, err := io.WriteString(h.attach.Conn, input+"\n")
	return err
}

func (h *handle) Respond(ctx context.Context, response any) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("marshal agent response: %w", err)
	}
	return h.Send(ctx, string(data))
}

func (h *handle) Kill(ctx context.Context) error {
	timeout := int(stopTimeout.Seconds())
	return h.cli.ContainerStop(ctx, h.containerID, dockercontainer.StopOptions{Timeout: &timeout})
}

func (h *handle) IsAlive(ctx context.Context) bool {
	info, err := h.cli.ContainerInspect(ctx, h.containerID)
	if err != nil {
		return false
	}
	return info.State != nil && info.State.Running
}

func (h *handle) CaptureOutput(lines int) string {
	return h.ring.tail(lines)
}

func (h *handle) FetchTranscript() string {
	data, err := os.ReadFile(h.logFile.Name())
	if err != nil {
		return ""
	}
	return string(data)
}

// ring is a bounded byte buffer used for peek's "last N lines" view.
type ring struct {
	mu  sync.Mutex
	buf []byte
	cap int
}

func (r *ring) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, p...)
	if len(r.buf) > r.cap {
		r.buf = r.buf[len(r.buf)-r.cap:]
	}
	return len(p), nil
}

func (r *ring) tail(lines int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lines <= 0 {
		return string(r.buf)
	}
	count := 0
	for i := len(r.buf) - 1; i >= 0; i-- {
		if r.buf[i] == '\n' {
			count++
			if count > lines {
				return string(r.buf[i+1:])
			}
		}
	}
	return string(r.buf)
}

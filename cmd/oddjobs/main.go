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

// Command oddjobs is the CLI companion to oddjobsd: it never talks to the
// running daemon over a wire protocol, since that surface isn't part of
// this build, but it can report on the daemon's process lock, request a
// graceful shutdown, and validate a runbook file offline.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/oddjobs/oddjobs/internal/config"
	"github.com/oddjobs/oddjobs/internal/lifecycle"
	"github.com/oddjobs/oddjobs/internal/runbook"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "oddjobs:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "oddjobs",
		Short:         "Inspect and control the odd jobs daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the daemon's YAML config file")

	cmd.AddCommand(newVersionCommand())
	cmd.AddCommand(newStatusCommand(&configPath))
	cmd.AddCommand(newStopCommand(&configPath))
	cmd.AddCommand(newValidateCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "oddjobs %s (%s)\n", version, commit)
			return nil
		},
	}
}

func newStatusCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			pidMgr := lifecycle.NewPIDFileManager(cfg.PIDPath())
			if !pidMgr.Exists() {
				fmt.Fprintln(cmd.OutOrStdout(), "stopped: no PID file at", cfg.PIDPath())
				return nil
			}

			pid, err := pidMgr.Read()
			if err != nil {
				return fmt.Errorf("read PID file: %w", err)
			}
			if !lifecycle.IsProcessRunning(pid) {
				fmt.Fprintf(cmd.OutOrStdout(), "stale: PID file at %s names pid %d, which is not running\n", cfg.PIDPath(), pid)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "running: pid %d\n", pid)
			return nil
		},
	}
}

func newStopCommand(configPath *string) *cobra.Command {
	var timeout time.Duration
	var force bool

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask the running daemon to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			pidMgr := lifecycle.NewPIDFileManager(cfg.PIDPath())
			pid, err := pidMgr.Read()
			if err != nil {
				return fmt.Errorf("read PID file: %w", err)
			}

			if err := lifecycle.GracefulShutdown(pid, timeout, force); err != nil {
				return fmt.Errorf("shut down pid %d: %w", pid, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stopped pid %d\n", pid)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for graceful exit before giving up (or killing, with --force)")
	cmd.Flags().BoolVar(&force, "force", false, "send SIGKILL if the daemon hasn't exited by --timeout")
	return cmd
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <runbook-file>",
		Short: "Decode and validate a compiled runbook file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read runbook file: %w", err)
			}
			rb, err := runbook.Decode(data)
			if err != nil {
				return fmt.Errorf("invalid runbook: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: project %q, %d job(s), %d agent(s), %d worker(s), %d cron(s)\n",
				rb.Project, len(rb.Jobs), len(rb.Agents), len(rb.Workers), len(rb.Crons))
			return nil
		},
	}
}

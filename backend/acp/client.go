// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package acp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	acpsdk "github.com/coder/acp-go-sdk"
)

// bridgeClient is our side of the protocol connection. Session
// updates are routed to the owning channel; permission requests are
// answered without user interaction.
type bridgeClient struct {
	runtime *runtime
}

func (c *bridgeClient) SessionUpdate(ctx context.Context, params acpsdk.SessionNotification) error {
	c.runtime.dispatch(string(params.SessionId), params.Update)
	return nil
}

// RequestPermission auto-answers, preferring the broadest allow
// option. The bridge runs unattended; there is no user to ask.
func (c *bridgeClient) RequestPermission(ctx context.Context, params acpsdk.RequestPermissionRequest) (acpsdk.RequestPermissionResponse, error) {
	tool := ""
	if params.ToolCall.Title != nil {
		tool = *params.ToolCall.Title
	}
	for _, preferred := range []string{"allow_always", "allow_once"} {
		for _, option := range params.Options {
			if string(option.Kind) != preferred {
				continue
			}
			c.runtime.logger.Info("auto-approving permission request",
				"tool", tool, "option", option.Name, "kind", preferred)
			return acpsdk.RequestPermissionResponse{
				Outcome: acpsdk.NewRequestPermissionOutcomeSelected(option.OptionId),
			}, nil
		}
	}
	c.runtime.logger.Warn("permission request had no allow option, cancelling", "tool", tool)
	return acpsdk.RequestPermissionResponse{
		Outcome: acpsdk.NewRequestPermissionOutcomeCancelled(),
	}, nil
}

func (c *bridgeClient) ReadTextFile(ctx context.Context, params acpsdk.ReadTextFileRequest) (acpsdk.ReadTextFileResponse, error) {
	if err := c.checkPath(params.Path); err != nil {
		return acpsdk.ReadTextFileResponse{}, err
	}
	content, err := os.ReadFile(params.Path)
	if err != nil {
		return acpsdk.ReadTextFileResponse{}, err
	}
	return acpsdk.ReadTextFileResponse{Content: string(content)}, nil
}

func (c *bridgeClient) WriteTextFile(ctx context.Context, params acpsdk.WriteTextFileRequest) (acpsdk.WriteTextFileResponse, error) {
	if err := c.checkPath(params.Path); err != nil {
		return acpsdk.WriteTextFileResponse{}, err
	}
	if err := os.MkdirAll(filepath.Dir(params.Path), 0o755); err != nil {
		return acpsdk.WriteTextFileResponse{}, err
	}
	if err := os.WriteFile(params.Path, []byte(params.Content), 0o644); err != nil {
		return acpsdk.WriteTextFileResponse{}, err
	}
	return acpsdk.WriteTextFileResponse{}, nil
}

// checkPath confines agent file access to the working directory.
func (c *bridgeClient) checkPath(path string) error {
	if path == "" {
		return fmt.Errorf("file path is required")
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	root, err := filepath.Abs(c.runtime.workDir)
	if err != nil {
		return err
	}
	if absolute != root && !strings.HasPrefix(absolute, root+string(filepath.Separator)) {
		return fmt.Errorf("path %s is outside the agent working directory", path)
	}
	return nil
}

// Terminal management is not offered to the agent.

func (c *bridgeClient) CreateTerminal(ctx context.Context, params acpsdk.CreateTerminalRequest) (acpsdk.CreateTerminalResponse, error) {
	return acpsdk.CreateTerminalResponse{}, fmt.Errorf("terminals are not supported")
}

func (c *bridgeClient) KillTerminalCommand(ctx context.Context, params acpsdk.KillTerminalCommandRequest) (acpsdk.KillTerminalCommandResponse, error) {
	return acpsdk.KillTerminalCommandResponse{}, fmt.Errorf("terminals are not supported")
}

func (c *bridgeClient) TerminalOutput(ctx context.Context, params acpsdk.TerminalOutputRequest) (acpsdk.TerminalOutputResponse, error) {
	return acpsdk.TerminalOutputResponse{}, fmt.Errorf("terminals are not supported")
}

func (c *bridgeClient) ReleaseTerminal(ctx context.Context, params acpsdk.ReleaseTerminalRequest) (acpsdk.ReleaseTerminalResponse, error) {
	return acpsdk.ReleaseTerminalResponse{}, fmt.Errorf("terminals are not supported")
}

func (c *bridgeClient) WaitForTerminalExit(ctx context.Context, params acpsdk.WaitForTerminalExitRequest) (acpsdk.WaitForTerminalExitResponse, error) {
	return acpsdk.WaitForTerminalExitResponse{}, fmt.Errorf("terminals are not supported")
}

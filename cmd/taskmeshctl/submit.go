// taskmesh - peer-to-peer agent task dispatch runtime
// Copyright (C) 2025 taskmesh contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskmesh-dev/taskmesh/config"
	"github.com/taskmesh-dev/taskmesh/executor"
	"github.com/taskmesh-dev/taskmesh/identity"
	"github.com/taskmesh-dev/taskmesh/runtime"
	"github.com/taskmesh-dev/taskmesh/task"
	"github.com/taskmesh-dev/taskmesh/transport/websocket"
)

var (
	peerAddr    string
	peerPubKey  string
	taskType    string
	taskData    string
	pollTimeout time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "submit a task to a peer and wait for its result",
	Long: `submit dials a running taskmeshd node directly, sends it one signed
TaskRequest and polls the local task status until the task reaches a
terminal state (Completed, Failed, Timeout or Cancelled).

The target peer must already trust this client's public key (printed on
every invocation) via its identity.trusted_peers configuration.`,
	RunE: runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVar(&peerAddr, "peer-addr", "", "WebSocket address of the target peer, e.g. 127.0.0.1:7420 (required)")
	submitCmd.Flags().StringVar(&peerPubKey, "peer-pubkey", "", "hex-encoded Ed25519 public key of the target peer (required)")
	submitCmd.Flags().StringVar(&taskType, "type", "TextProcessing", `task type: "TextProcessing", "VectorComputation", "AiInference" or "Custom:<name>"`)
	submitCmd.Flags().StringVar(&taskData, "data", "{}", "task payload data as a JSON object")
	submitCmd.Flags().DurationVar(&pollTimeout, "timeout", 30*time.Second, "how long to wait for a terminal task status")
	_ = submitCmd.MarkFlagRequired("peer-addr")
	_ = submitCmd.MarkFlagRequired("peer-pubkey")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	targetPub, err := hex.DecodeString(peerPubKey)
	if err != nil || len(targetPub) != identity.PublicKeySize {
		return fmt.Errorf("--peer-pubkey must be a %d-byte hex-encoded Ed25519 key", identity.PublicKeySize)
	}
	targetPeerID := identity.DerivePeerID(targetPub)

	payload, err := buildPayload(taskType, taskData)
	if err != nil {
		return err
	}

	id, err := identity.Generate()
	if err != nil {
		return fmt.Errorf("generate identity: %w", err)
	}
	fmt.Printf("client peer-id:  %s\n", id.PeerID())
	fmt.Printf("client pubkey:   %s\n", hex.EncodeToString(id.PublicKey()))

	cfg := config.Default()
	cfg.Discovery.Enabled = false

	tr := websocket.New(":0", id.PeerID())
	node := runtime.New(cfg, id, "taskmeshctl", tr, executor.NewRegistry(), nil)
	node.TrustPeer(targetPub)

	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()

	if err := node.Start(ctx); err != nil {
		return fmt.Errorf("start client runtime: %w", err)
	}
	defer func() { _ = node.Stop() }()

	if err := node.Transport().Dial(ctx, targetPeerID, peerAddr); err != nil {
		return fmt.Errorf("dial %s: %w", peerAddr, err)
	}

	// The target's capability isn't learned via discovery here; the
	// operator already knows it supports this task type, so it is
	// bootstrapped directly (mirrors TrustPeer's out-of-band bootstrap).
	node.Capabilities().Upsert(targetPeerID, targetPub, []string{taskTypeKey(taskType)}, nil)

	t, err := task.NewTask(id.PeerID(), payload)
	if err != nil {
		return fmt.Errorf("build task: %w", err)
	}
	taskID, err := node.SubmitTask(t)
	if err != nil {
		return fmt.Errorf("submit task: %w", err)
	}
	if err := node.DispatchTask(taskID); err != nil {
		fmt.Printf("dispatch: %v\n", err)
	}

	return pollUntilTerminal(ctx, node, taskID)
}

func pollUntilTerminal(ctx context.Context, node *runtime.PeerRuntime, taskID [16]byte) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for task %x", taskID)
		case <-ticker.C:
			st, err := node.Status(taskID)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			if !st.Status.IsTerminal() {
				continue
			}
			return printResult(st)
		}
	}
}

func printResult(st task.State) error {
	fmt.Printf("status: %s\n", st.Status)
	if st.Reason != "" {
		fmt.Printf("reason: %s\n", st.Reason)
	}
	if len(st.Result) > 0 {
		var pretty interface{}
		if err := json.Unmarshal(st.Result, &pretty); err == nil {
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Printf("result:\n%s\n", out)
		} else {
			fmt.Printf("result: %s\n", st.Result)
		}
	}
	if st.Status != task.StatusCompleted {
		return fmt.Errorf("task did not complete: %s", st.Status)
	}
	return nil
}

func buildPayload(typ, data string) (task.Payload, error) {
	var raw json.RawMessage
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return task.Payload{}, fmt.Errorf("--data must be valid JSON: %w", err)
	}
	return task.Payload{TaskType: parseTaskType(typ), Data: raw}, nil
}

func parseTaskType(s string) task.TaskType {
	if name, ok := strings.CutPrefix(s, "Custom:"); ok {
		return task.Custom(name)
	}
	switch s {
	case "VectorComputation":
		return task.VectorComputation
	case "AiInference":
		return task.AIInference
	default:
		return task.TextProcessing
	}
}

func taskTypeKey(s string) string {
	if name, ok := strings.CutPrefix(s, "Custom:"); ok {
		return name
	}
	return s
}

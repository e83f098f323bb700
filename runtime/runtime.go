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

// Package runtime implements C9: the peer runtime that binds identity,
// trust, replay detection, capability registry, executor registry, task
// manager and dispatch engine to a transport, exposing the agent-level
// operations of spec.md §4.9 (start, stop, submit, dispatch, handle
// incoming envelope, announce capabilities).
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/taskmesh-dev/taskmesh/capability"
	"github.com/taskmesh-dev/taskmesh/config"
	"github.com/taskmesh-dev/taskmesh/dispatch"
	"github.com/taskmesh-dev/taskmesh/discovery"
	"github.com/taskmesh-dev/taskmesh/envelope"
	"github.com/taskmesh-dev/taskmesh/executor"
	"github.com/taskmesh-dev/taskmesh/identity"
	"github.com/taskmesh-dev/taskmesh/internal/logger"
	"github.com/taskmesh-dev/taskmesh/internal/metrics"
	"github.com/taskmesh-dev/taskmesh/replay"
	"github.com/taskmesh-dev/taskmesh/task"
	"github.com/taskmesh-dev/taskmesh/transport"
	"github.com/taskmesh-dev/taskmesh/trust"
)

// Phase is the runtime lifecycle state of spec.md §4.9:
// Created -> Initialized -> Active -> Stopping -> Stopped.
type Phase int

const (
	PhaseCreated Phase = iota
	PhaseInitialized
	PhaseActive
	PhaseStopping
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseCreated:
		return "Created"
	case PhaseInitialized:
		return "Initialized"
	case PhaseActive:
		return "Active"
	case PhaseStopping:
		return "Stopping"
	case PhaseStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// ErrInvalidState is returned when an operation is attempted in the wrong
// runtime phase (spec.md §4.9, §7).
var ErrInvalidState = errors.New("runtime: invalid state for operation")

// PeerRuntime is C9: it exclusively owns Identity, TrustSet,
// CapabilityRegistry, ReplayDetector, TaskManager and the DispatchEngine
// (spec.md §3 "Ownership").
type PeerRuntime struct {
	AgentName string

	identity     *identity.Identity
	trustSet     *trust.Set
	replayDet    *replay.Detector
	capabilities *capability.Registry
	executors    *executor.Registry
	tasks        *task.Manager
	dispatcher   *dispatch.Engine
	transport    transport.Transport
	discovery    discovery.Discovery

	cfg *config.Config

	mu     sync.Mutex
	phase  Phase
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a PeerRuntime from its collaborators. transport and executors
// must be supplied by the caller (the embedding application); discovery
// may be nil, in which case peers must be trusted and dialed manually.
func New(cfg *config.Config, id *identity.Identity, agentName string, tr transport.Transport, execs *executor.Registry, disc discovery.Discovery) *PeerRuntime {
	if cfg == nil {
		cfg = config.Default()
	}
	ts := trust.New()
	replayDet := replay.New(replay.Config{
		Capacity:  cfg.Replay.CacheSize,
		MaxAge:    cfg.Replay.MaxAge,
		ClockSkew: cfg.Replay.ClockSkew,
	})
	caps := capability.New(cfg.Dispatch.CapabilityTTL)
	tasks := task.NewManager(cfg.Dispatch.MaxRetries)

	r := &PeerRuntime{
		AgentName:    agentName,
		identity:     id,
		trustSet:     ts,
		replayDet:    replayDet,
		capabilities: caps,
		executors:    execs,
		tasks:        tasks,
		transport:    tr,
		discovery:    disc,
		cfg:          cfg,
		phase:        PhaseCreated,
	}
	r.dispatcher = dispatch.NewEngine(id, ts, caps, tasks, tr, dispatch.Config{
		TaskTimeout:   cfg.Dispatch.TaskTimeout,
		MaxRetries:    cfg.Dispatch.MaxRetries,
		SweepInterval: cfg.Dispatch.SweepInterval,
	})
	r.phase = PhaseInitialized
	return r
}

// TrustPeer adds pub to the accepted-counterparty set (spec.md §4.4's
// out-of-band bootstrapping API).
func (r *PeerRuntime) TrustPeer(pub []byte) {
	r.trustSet.Trust(pub)
}

// Capabilities exposes the capability registry, both for inspection
// (e.g. find_peers in end-to-end tests, spec.md §8 scenario 6) and for
// recording a known peer's capabilities out of band via Upsert.
func (r *PeerRuntime) Capabilities() *capability.Registry { return r.capabilities }

// Tasks exposes the task manager for status queries (spec.md §4.7
// status).
func (r *PeerRuntime) Tasks() *task.Manager { return r.tasks }

// Identity exposes this node's identity (peer-id, public key).
func (r *PeerRuntime) Identity() *identity.Identity { return r.identity }

// ReplayDetector exposes the replay detector for health reporting
// (spec.md §3.4).
func (r *PeerRuntime) ReplayDetector() *replay.Detector { return r.replayDet }

// Transport exposes the underlying transport for health reporting.
func (r *PeerRuntime) Transport() transport.Transport { return r.transport }

// Start acquires a listen address, starts the event loop, schedules the
// capability announcement after AnnounceWarmup and starts the timeout
// sweeper (spec.md §4.9). Calling Start twice returns ErrInvalidState.
func (r *PeerRuntime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.phase != PhaseInitialized {
		r.mu.Unlock()
		return ErrInvalidState
	}
	r.phase = PhaseActive
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	if err := r.transport.Listen(runCtx); err != nil {
		return fmt.Errorf("runtime: listen: %w", err)
	}

	if r.discovery != nil {
		addrs := r.transport.ListenAddresses()
		addr := ""
		if len(addrs) > 0 {
			addr = addrs[0]
		}
		if err := r.discovery.Start(runCtx, r.identity.PeerID(), addr); err != nil {
			logger.Warn("runtime: discovery start failed", logger.Err(err))
		} else {
			r.wg.Add(1)
			go r.discoveryLoop(runCtx)
		}
	}

	r.wg.Add(1)
	go r.eventLoop(runCtx)

	r.wg.Add(1)
	go r.announceLoop(runCtx)

	r.dispatcher.StartSweeper(runCtx)

	return nil
}

// Stop aborts background loops, releases the transport and transitions
// to Stopped. Idempotent (spec.md §4.9, §8 "idempotent stop").
func (r *PeerRuntime) Stop() error {
	r.mu.Lock()
	if r.phase == PhaseStopped || r.phase == PhaseStopping {
		r.mu.Unlock()
		return nil
	}
	r.phase = PhaseStopping
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.dispatcher.Stop()
	if r.discovery != nil {
		_ = r.discovery.Stop()
	}
	_ = r.transport.Close()
	r.wg.Wait()

	r.mu.Lock()
	r.phase = PhaseStopped
	r.mu.Unlock()
	return nil
}

// Phase returns the runtime's current lifecycle phase.
func (r *PeerRuntime) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func (r *PeerRuntime) requireActive() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseActive {
		return ErrInvalidState
	}
	return nil
}

// SubmitTask stores t as Pending and returns its id (spec.md §4.9
// submit_task).
func (r *PeerRuntime) SubmitTask(t task.Task) ([16]byte, error) {
	if err := r.requireActive(); err != nil {
		return [16]byte{}, err
	}
	return r.tasks.Submit(t), nil
}

// DispatchTask forces an immediate dispatch attempt (spec.md §4.9
// dispatch_task).
func (r *PeerRuntime) DispatchTask(id [16]byte) error {
	if err := r.requireActive(); err != nil {
		return err
	}
	return r.dispatcher.Dispatch(id)
}

// Status returns the current state of a task this runtime submitted.
func (r *PeerRuntime) Status(id [16]byte) (task.State, error) {
	return r.tasks.Status(id)
}

// CancelTask marks a submitted task Cancelled, releasing any in-flight
// slot its current assignee holds (spec.md §3, §5: "Submitters can cancel
// a task by id").
func (r *PeerRuntime) CancelTask(id [16]byte) error {
	if err := r.requireActive(); err != nil {
		return err
	}
	return r.dispatcher.CancelTask(id)
}

func (r *PeerRuntime) eventLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-r.transport.Incoming():
			if !ok {
				return
			}
			env, err := envelope.Unmarshal(data)
			if err != nil {
				logger.Warn("runtime: dropping malformed envelope", logger.Err(err))
				continue
			}
			if err := r.HandleEnvelope(ctx, env); err != nil {
				logger.Debug("runtime: envelope handling error", logger.Err(err))
			}
		}
	}
}

func (r *PeerRuntime) discoveryLoop(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case sighting, ok := <-r.discovery.Peers():
			if !ok {
				return
			}
			if err := r.transport.Dial(ctx, sighting.PeerID, sighting.Address); err != nil {
				logger.Debug("runtime: dial failed", logger.String("peer_id", sighting.PeerID), logger.Err(err))
			}
		}
	}
}

func (r *PeerRuntime) announceLoop(ctx context.Context) {
	defer r.wg.Done()

	warmup := r.cfg.Dispatch.AnnounceWarmup
	if warmup <= 0 {
		warmup = 2 * time.Second
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(warmup):
	}
	if err := r.AnnounceCapabilities(); err != nil {
		logger.Warn("runtime: initial capability announcement failed", logger.Err(err))
	}

	interval := r.cfg.Dispatch.AnnounceInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.AnnounceCapabilities(); err != nil {
				logger.Warn("runtime: periodic capability announcement failed", logger.Err(err))
			}
		}
	}
}

// capabilitiesBody mirrors spec.md §6's Capabilities body.
type capabilitiesBody struct {
	Types  []string `json:"types"`
	Models []string `json:"models"`
}

// AnnounceCapabilities broadcasts a signed Capabilities envelope
// describing this node's registered executor types and configured models
// (spec.md §4.9).
func (r *PeerRuntime) AnnounceCapabilities() error {
	body, err := json.Marshal(capabilitiesBody{
		Types:  r.executors.Types(),
		Models: r.executors.Models(),
	})
	if err != nil {
		return err
	}
	env := envelope.New(envelope.KindCapabilities, r.identity.PeerID(), envelope.Broadcast, "capabilities", body)
	if err := envelope.Sign(env, r.identity); err != nil {
		return err
	}
	metrics.CapabilityAnnouncements.Inc()
	return r.transport.Broadcast(envelope.Marshal(env))
}

// ackBody mirrors spec.md §6's Ack body.
type ackBody struct {
	TaskID [16]byte `json:"task_id"`
}

// taskResultWire mirrors the TaskResult body dispatch.Engine expects
// (spec.md §6); defined locally since an executing peer builds the result,
// while the dispatch package parses it on the originating peer.
type taskResultWire struct {
	TaskID     [16]byte        `json:"task_id"`
	Status     string          `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs uint64          `json:"duration_ms"`
}

// HandleEnvelope is the single entry point for inbound wire bytes (spec.md
// §4.9): verify signature/freshness/replay, check trust, then route by
// kind to the capability registry, the local executor (for a TaskRequest
// addressed to this node), the dispatch engine (for a TaskResult), or the
// task manager (for an Ack).
func (r *PeerRuntime) HandleEnvelope(ctx context.Context, env *envelope.Envelope) error {
	clockSkew, maxAge := r.cfg.Replay.ClockSkew, r.cfg.Replay.MaxAge
	if err := envelope.Verify(env, r.replayDet, clockSkew, maxAge); err != nil {
		logger.Debug("runtime: dropping envelope that failed verification",
			logger.String("sender", env.Sender), logger.Err(err))
		return err
	}

	if !r.trustSet.Contains(env.PublicKey[:]) {
		logger.Warn("runtime: dropping envelope from untrusted peer", logger.String("sender", env.Sender))
		return nil
	}
	r.capabilities.Touch(env.Sender)

	switch env.Kind {
	case envelope.KindCapabilities:
		return r.handleCapabilities(env)
	case envelope.KindTaskRequest:
		r.wg.Add(1)
		go r.handleTaskRequest(ctx, env)
		return nil
	case envelope.KindTaskResult:
		return r.dispatcher.HandleResult(env)
	case envelope.KindAck:
		return r.handleAck(env)
	default:
		return nil
	}
}

func (r *PeerRuntime) handleCapabilities(env *envelope.Envelope) error {
	var body capabilitiesBody
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		return err
	}
	r.capabilities.Upsert(env.Sender, env.PublicKey[:], body.Types, body.Models)
	return nil
}

// handleTaskRequest executes a task assigned to this node by a remote
// peer and replies with a signed TaskResult, acknowledging receipt first
// so the originator's TaskManager can observe Assigned -> Running
// (spec.md §3, §4.9).
func (r *PeerRuntime) handleTaskRequest(ctx context.Context, env *envelope.Envelope) {
	defer r.wg.Done()

	var t task.Task
	if err := json.Unmarshal(env.Payload, &t); err != nil {
		logger.Warn("runtime: malformed task request payload", logger.Err(err))
		return
	}

	r.sendAck(t.ID, env.Sender)

	start := time.Now()
	result, execErr := r.executors.Execute(ctx, t.Payload)
	duration := time.Since(start)

	body := taskResultWire{TaskID: t.ID, DurationMs: uint64(duration.Milliseconds())}
	if execErr != nil {
		body.Status = "err"
		body.Error = execErr.Error()
	} else {
		body.Status = "ok"
		body.Result = result
	}

	payload, err := json.Marshal(body)
	if err != nil {
		logger.Error("runtime: marshal task result failed", logger.Err(err))
		return
	}
	resultEnv := envelope.New(envelope.KindTaskResult, r.identity.PeerID(), env.Sender, "task.result", payload)
	if err := envelope.Sign(resultEnv, r.identity); err != nil {
		logger.Error("runtime: sign task result failed", logger.Err(err))
		return
	}
	if err := r.transport.Send(env.Sender, envelope.Marshal(resultEnv)); err != nil {
		logger.Warn("runtime: send task result failed",
			logger.String("peer_id", env.Sender), logger.Err(err))
	}
}

func (r *PeerRuntime) sendAck(taskID [16]byte, recipient string) {
	body, err := json.Marshal(ackBody{TaskID: taskID})
	if err != nil {
		return
	}
	env := envelope.New(envelope.KindAck, r.identity.PeerID(), recipient, "task.ack", body)
	if err := envelope.Sign(env, r.identity); err != nil {
		return
	}
	if err := r.transport.Send(recipient, envelope.Marshal(env)); err != nil {
		logger.Debug("runtime: send ack failed", logger.String("peer_id", recipient), logger.Err(err))
	}
}

// handleAck transitions a task from Assigned to Running once the
// assignee confirms receipt (spec.md §3). Acks from a sender that is not
// the task's current assignee, or for an unknown task, are dropped.
func (r *PeerRuntime) handleAck(env *envelope.Envelope) error {
	var body ackBody
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		return err
	}
	st, err := r.tasks.Status(body.TaskID)
	if err != nil || st.AssignedTo != env.Sender {
		return nil
	}
	return r.tasks.MarkRunning(body.TaskID)
}

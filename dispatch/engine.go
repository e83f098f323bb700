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

// Package dispatch implements C8: peer selection, signed TaskRequest
// dispatch, TaskResult handling and the retry/timeout sweep loop
// described in spec.md §4.8.
package dispatch

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/taskmesh-dev/taskmesh/capability"
	"github.com/taskmesh-dev/taskmesh/envelope"
	"github.com/taskmesh-dev/taskmesh/internal/logger"
	"github.com/taskmesh-dev/taskmesh/internal/metrics"
	"github.com/taskmesh-dev/taskmesh/task"
	"github.com/taskmesh-dev/taskmesh/trust"
)

// Error taxonomy for the dispatch engine (spec.md §4.8, §7).
var (
	ErrNoCapablePeer = errors.New("dispatch: no capable trusted peer available")
	ErrSendFailure   = errors.New("dispatch: transport send failed")
)

// Sender is the subset of transport.Transport the engine needs to deliver
// an envelope to a specific peer.
type Sender interface {
	Send(peerID string, data []byte) error
}

// Signer identifies this node's keypair for signing outbound envelopes.
type Signer interface {
	PeerID() string
	PublicKey() ed25519.PublicKey
	Sign(message []byte) []byte
}

// Config holds the dispatch engine's timing knobs (spec.md §6).
type Config struct {
	TaskTimeout   time.Duration // default 30s; may be overridden per task
	MaxRetries    int           // default 2
	SweepInterval time.Duration // default 100ms
}

// DefaultConfig returns spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{TaskTimeout: 30 * time.Second, MaxRetries: 2, SweepInterval: 100 * time.Millisecond}
}

// Engine is C8: it owns peer selection, dispatch and the retry/timeout
// sweep for every task a node's TaskManager is tracking.
type Engine struct {
	identity     Signer
	trust        *trust.Set
	capabilities *capability.Registry
	tasks        *task.Manager
	transport    Sender
	cfg          Config

	sf singleflight.Group

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewEngine wires an Engine from its component collaborators.
func NewEngine(identity Signer, trustSet *trust.Set, capabilities *capability.Registry, tasks *task.Manager, transport Sender, cfg Config) *Engine {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultConfig().TaskTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	return &Engine{
		identity:     identity,
		trust:        trustSet,
		capabilities: capabilities,
		tasks:        tasks,
		transport:    transport,
		cfg:          cfg,
		stopCh:       make(chan struct{}),
	}
}

// Dispatch runs the selection algorithm of spec.md §4.8 for a Pending
// task and, on success, sends a signed TaskRequest envelope and arms its
// deadline. On failure to find a candidate, the task is marked Failed
// with reason NoCapablePeer.
func (e *Engine) Dispatch(id [16]byte) error {
	st, err := e.tasks.Status(id)
	if err != nil {
		return err
	}
	if st.Status != task.StatusPending {
		return nil // already in flight or terminal; nothing to do
	}

	typeKey := capability.TaskTypeString(st.Task.Payload.TaskType)
	candidates := e.capabilities.FindPeers(typeKey, st.Task.RequiredModel)
	candidates = e.filterTrustedAndBlacklisted(candidates, st.Blacklist)

	if len(candidates) == 0 {
		metrics.DispatchAttempts.WithLabelValues("no_capable_peer").Inc()
		_ = e.tasks.Fail(id, "NoCapablePeer")
		return ErrNoCapablePeer
	}

	ranked := capability.RankCandidates(candidates)
	chosen := ranked[0]

	env, err := e.buildTaskRequest(st.Task, chosen.PeerID)
	if err != nil {
		return err
	}

	timeout := e.taskTimeout(st.Task)
	if err := e.transport.Send(chosen.PeerID, envelope.Marshal(env)); err != nil {
		metrics.DispatchAttempts.WithLabelValues("send_failure").Inc()
		logger.Warn("dispatch: send failed, scheduling reselection",
			logger.String("peer_id", chosen.PeerID), logger.Err(err))
		return e.scheduleImmediateRetry(id, chosen.PeerID)
	}

	if err := e.tasks.Assign(id, chosen.PeerID, time.Now().Add(timeout)); err != nil {
		return err
	}
	e.capabilities.IncrInFlight(chosen.PeerID, 1)
	metrics.DispatchAttempts.WithLabelValues("sent").Inc()
	return nil
}

// filterTrustedAndBlacklisted applies steps 1-2 of spec.md §4.8's
// selection algorithm: intersect with the trust set, then drop peers
// already tried for this task.
func (e *Engine) filterTrustedAndBlacklisted(candidates []capability.Candidate, blacklist map[string]bool) []capability.Candidate {
	out := make([]capability.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !e.trust.Contains(c.PublicKey) {
			continue
		}
		if blacklist[c.PeerID] {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (e *Engine) taskTimeout(t task.Task) time.Duration {
	if raw, ok := t.Payload.Parameters["timeout_ms"]; ok {
		var ms int64
		if _, err := fmt.Sscanf(raw, "%d", &ms); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return e.cfg.TaskTimeout
}

func (e *Engine) buildTaskRequest(t task.Task, recipient string) (*envelope.Envelope, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	env := envelope.New(envelope.KindTaskRequest, e.identity.PeerID(), recipient, "task.request", payload)
	if err := envelope.Sign(env, e.identity); err != nil {
		return nil, err
	}
	return env, nil
}

// taskResultBody mirrors spec.md §6's TaskResult body.
type taskResultBody struct {
	TaskID     [16]byte        `json:"task_id"`
	Status     string          `json:"status"` // "ok" | "err"
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs uint64          `json:"duration_ms"`
}

// HandleResult processes a verified TaskResult envelope. Envelopes for
// unknown or already-terminal tasks are dropped silently (spec.md §4.8,
// idempotent). The originating peer double-checks the envelope's sender
// matches the task's current assignee before accepting the result
// (supplemented from original_source's secure_task pattern, spec.md §7's
// authorization-failure handling).
func (e *Engine) HandleResult(env *envelope.Envelope) error {
	var body taskResultBody
	if err := json.Unmarshal(env.Payload, &body); err != nil {
		return err
	}

	st, err := e.tasks.Status(body.TaskID)
	if err != nil {
		return nil // unknown task id: drop silently
	}
	if st.Status.IsTerminal() {
		return nil // already terminal: drop silently
	}
	if st.AssignedTo != env.Sender {
		logger.Warn("dispatch: dropping TaskResult from unexpected sender",
			logger.String("expected", st.AssignedTo), logger.String("got", env.Sender))
		return nil
	}

	if body.Status == "ok" {
		e.capabilities.IncrInFlight(env.Sender, -1)
		return e.tasks.Complete(body.TaskID, body.Result)
	}
	return e.failOrRetry(body.TaskID, body.Error)
}

// failOrRetry implements the executor-failure branch of spec.md §4.8's
// failure semantics: the remote failure reason is stored verbatim once
// retries are exhausted, otherwise the task is redispatched.
func (e *Engine) failOrRetry(id [16]byte, reason string) error {
	if err := e.tasks.Fail(id, reason); err != nil {
		return err
	}
	if e.tasks.CanRetry(id) {
		return e.retry(id) // retry releases the assignee's in-flight slot
	}
	e.releaseInFlight(id)
	return nil
}

// releaseInFlight decrements the in-flight counter of id's current
// assignee, if any. Called whenever a task stops counting toward a peer's
// load without going through HandleResult's own decrement (which covers
// only ok results): on a failed result, retry reset, final timeout and
// cancellation (spec.md §4.8 step 3, §5 "in-flight
// tasks per peer tracked to inform selection ranking").
func (e *Engine) releaseInFlight(id [16]byte) {
	st, err := e.tasks.Status(id)
	if err != nil || st.AssignedTo == "" {
		return
	}
	e.capabilities.IncrInFlight(st.AssignedTo, -1)
}

// retry resets id to Pending and redispatches it. The reset (guarded by
// CanRetry) is collapsed through singleflight so concurrent callers (the
// sweeper and a late HandleResult, say) only reset once; the redispatch
// itself runs *after* Do returns rather than inside the callback, so a
// Dispatch that immediately fails to send and calls back into retry never
// re-enters Do for the same key while the outer call is still on the
// stack (it would otherwise deadlock waiting on its own in-flight call).
func (e *Engine) retry(id [16]byte) error {
	key := hex.EncodeToString(id[:])
	v, err, _ := e.sf.Do(key, func() (interface{}, error) {
		if !e.tasks.CanRetry(id) {
			return false, nil
		}
		e.releaseInFlight(id)
		if err := e.tasks.ResetForRetry(id); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	if reset, _ := v.(bool); reset {
		return e.Dispatch(id)
	}
	return nil
}

func (e *Engine) scheduleImmediateRetry(id [16]byte, failedPeer string) error {
	if err := e.tasks.BlacklistPeer(id, failedPeer); err != nil {
		return err
	}
	if err := e.tasks.Fail(id, "SendFailure"); err != nil {
		return err
	}
	if e.tasks.CanRetry(id) {
		return e.retry(id)
	}
	return nil
}

// CancelTask marks id Cancelled, releasing any in-flight slot held by its
// current assignee so a cancelled task's peer is not permanently
// overcounted in selection ranking (spec.md §3 "Submitters can cancel a
// task by id").
func (e *Engine) CancelTask(id [16]byte) error {
	if err := e.tasks.Cancel(id); err != nil {
		return err
	}
	e.releaseInFlight(id)
	return nil
}

// Sweep scans for timed-out tasks and redispatches or finalizes each,
// implementing spec.md §4.8's periodic timeout loop. Exposed for direct
// invocation in tests; StartSweeper drives it on a ticker in production.
func (e *Engine) Sweep(now time.Time) {
	expired := e.tasks.ExpireDue(now)
	for _, id := range expired {
		if e.tasks.CanRetry(id) {
			if err := e.retry(id); err != nil {
				logger.Warn("dispatch: retry after timeout failed", logger.Err(err))
			}
			continue
		}
		e.releaseInFlight(id)
		if err := e.tasks.FinalizeTimeout(id); err != nil {
			logger.Warn("dispatch: finalize timeout failed", logger.Err(err))
		}
	}
}

// StartSweeper runs Sweep every cfg.SweepInterval until ctx is cancelled
// or Stop is called (spec.md §4.8, §5: "sweeper runs every 100ms").
func (e *Engine) StartSweeper(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopCh:
				return
			case <-ticker.C:
				e.Sweep(time.Now())
			}
		}
	}()
}

// Stop halts the sweeper goroutine. Idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	close(e.stopCh)
	e.wg.Wait()
}

// internal/settlement/actor.go
package settlement

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Job states. A job is claimed exactly once, either by its actor or by the
// caller abandoning it.
const (
	jobPending int32 = iota
	jobStarted
	jobAbandoned
)

const drainPollInterval = 10 * time.Millisecond

type jobResult struct {
	res *TradeResult
	err error
}

type job struct {
	ctx   context.Context
	req   TradeRequest
	state atomic.Int32
	done  chan jobResult
}

// actor serializes trades for one token.
type actor struct {
	tokenID string
	mailbox chan *job
	// pending counts jobs handed to this actor and not yet finished.
	// Guarded by Engine.mu so the actor never exits with work outstanding.
	pending int
}

// submit hands req to the token's actor and waits for the outcome.
func (e *Engine) submit(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	a, err := e.acquire(req.TokenID)
	if err != nil {
		return nil, err
	}

	j := &job{ctx: ctx, req: req, done: make(chan jobResult, 1)}

	select {
	case a.mailbox <- j:
	case <-ctx.Done():
		e.release(a)
		return nil, ctx.Err()
	}

	select {
	case r := <-j.done:
		return r.res, r.err
	case <-ctx.Done():
		if j.state.CompareAndSwap(jobPending, jobAbandoned) {
			return nil, ctx.Err()
		}
		// Already picked up: the commit finishes regardless, report what happened.
		r := <-j.done
		return r.res, r.err
	}
}

// acquire returns the actor for tokenID, starting one if needed, and reserves
// a slot in its pending count.
func (e *Engine) acquire(tokenID string) (*actor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}

	a, ok := e.actors[tokenID]
	if !ok {
		a = &actor{
			tokenID: tokenID,
			mailbox: make(chan *job, e.cfg.MailboxSize),
		}
		e.actors[tokenID] = a
		e.wg.Add(1)
		go e.runActor(a)

		e.metrics.UpdateActors(len(e.actors))
		e.logger.Debug("Actor started", zap.String("token_id", tokenID))
	}
	a.pending++
	return a, nil
}

func (e *Engine) release(a *actor) {
	e.mu.Lock()
	a.pending--
	e.mu.Unlock()
}

// runActor processes the mailbox until the actor has been idle for
// ActorIdleTimeout with nothing pending, or the engine stops.
func (e *Engine) runActor(a *actor) {
	defer e.wg.Done()

	idle := time.NewTimer(e.cfg.ActorIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case j := <-a.mailbox:
			e.handle(a, j)
			idle.Reset(e.cfg.ActorIdleTimeout)

		case <-idle.C:
			if e.reap(a) {
				return
			}
			idle.Reset(e.cfg.ActorIdleTimeout)

		case <-e.stop:
			e.drain(a)
			return
		}
	}
}

// reap removes an idle actor. It fails if a submitter holds a pending slot.
func (e *Engine) reap(a *actor) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if a.pending > 0 {
		return false
	}
	delete(e.actors, a.tokenID)
	e.metrics.UpdateActors(len(e.actors))
	e.logger.Debug("Actor reaped", zap.String("token_id", a.tokenID))
	return true
}

// drain finishes every job already handed to the actor before it exits.
func (e *Engine) drain(a *actor) {
	for {
		e.mu.Lock()
		n := a.pending
		if n == 0 {
			delete(e.actors, a.tokenID)
			e.metrics.UpdateActors(len(e.actors))
		}
		e.mu.Unlock()
		if n == 0 {
			return
		}
		// A submitter may still give up before its send lands, so re-check pending.
		select {
		case j := <-a.mailbox:
			e.handle(a, j)
		case <-time.After(drainPollInterval):
		}
	}
}

// handle runs one job unless its caller already gave up on it.
func (e *Engine) handle(a *actor, j *job) {
	defer e.release(a)

	if !j.state.CompareAndSwap(jobPending, jobStarted) {
		return
	}

	// Once started the trade runs to completion detached from the caller.
	res, err := e.safeSettle(context.WithoutCancel(j.ctx), j.req)
	j.done <- jobResult{res: res, err: err}
}

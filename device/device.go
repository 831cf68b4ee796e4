// Package device models the three cooperative suspension points of a
// device task (select, wait, forward) as a channel-driven generator,
// grounded on original_source/tests/unit/fibonacci_device.cc's
// `co_await ttg::device::select/wait/forward` sequence. Go has no native
// coroutine suspend/resume, so the task body runs on its own goroutine and
// blocks on an unbuffered channel at each suspension point until Run's
// driver loop advances it — any mechanism offering three explicit
// suspension points serves, independent of language feature.
package device

import (
	"context"
	"fmt"

	"github.com/ttg-go/ttg"
)

// Stage identifies which of the three suspension points a request is for.
type Stage int

const (
	// StageSelect suspends until the given DataCopy buffers are resident
	// on the task's device.
	StageSelect Stage = iota
	// StageWait suspends until a previously submitted device command has
	// completed and results are back in host-visible memory.
	StageWait
	// StageForward marks the body's final act before completion; by the
	// time a body reaches Forward it has already made its output
	// deliveries through the ordinary ttg.Outputs handle.
	StageForward
)

type request struct {
	stage  Stage
	copies []*ttg.DataCopy
	resp   chan error
}

// Context is handed to a device task body and exposes the three
// suspension points. While a body is suspended on Select or Wait, the
// DataCopies it named are pinned: the body's own Move slot reference
// already prevents any other consumer from calling MarkMutable on them
// via DataCopy's ref-count discipline, so Context adds no extra
// bookkeeping beyond serializing the backend calls through Run's driver
// loop.
type Context struct {
	reqs chan request
}

func (c *Context) suspend(ctx context.Context, stage Stage, copies []*ttg.DataCopy) error {
	resp := make(chan error, 1)
	select {
	case c.reqs <- request{stage: stage, copies: copies, resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Select suspends the body until copies are resident on the device.
func (c *Context) Select(ctx context.Context, copies ...*ttg.DataCopy) error {
	return c.suspend(ctx, StageSelect, copies)
}

// Wait suspends the body until the outstanding device command completes.
func (c *Context) Wait(ctx context.Context) error {
	return c.suspend(ctx, StageWait, nil)
}

// Forward marks the body's completion, the third suspension point. A body
// calls Forward after it has made its output deliveries via Outputs, as
// its last action before returning.
func (c *Context) Forward(ctx context.Context) error {
	return c.suspend(ctx, StageForward, nil)
}

// Backend performs the two device-facing operations a task body suspends
// on. Simulator is the reference, hardware-free implementation; a real
// backend would move buffers to/from an accelerator and launch kernels.
type Backend interface {
	// Select brings copies onto the device, returning once resident.
	Select(ctx context.Context, copies []*ttg.DataCopy) error
	// Wait blocks until the most recently submitted device command has
	// completed and its results are visible on the host.
	Wait(ctx context.Context) error
}

// Simulator is a Backend with no real accelerator: Select and Wait are
// both no-ops, making device tasks testable without hardware — grounded
// on fibonacci_device.cc, which exercises exactly this select/wait/forward
// path against a trivially host-simulated device.
type Simulator struct{}

// Select implements Backend.
func (Simulator) Select(context.Context, []*ttg.DataCopy) error { return nil }

// Wait implements Backend.
func (Simulator) Wait(context.Context) error { return nil }

// Body is the signature of a device task body: like ttg.Body, but also
// given a *Context to suspend on.
type Body[K comparable] func(ctx context.Context, key K, in []ttg.Slot, out *ttg.Outputs[K], dev *Context) error

// Wrap adapts a device Body into an ordinary ttg.Body, so a device task
// can be registered with ttg.MakeTT exactly like a host task. Run drives
// the body to completion against backend, handling its Select/Wait/Forward
// suspension requests in order.
func Wrap[K comparable](backend Backend, body Body[K]) ttg.Body[K] {
	return func(ctx context.Context, key K, in []ttg.Slot, out *ttg.Outputs[K]) error {
		return Run(ctx, backend, func(ctx context.Context, dev *Context) error {
			return body(ctx, key, in, out, dev)
		})
	}
}

// Run drives a device task body on its own goroutine to completion,
// servicing Select/Wait/Forward requests against backend as they arrive.
func Run(ctx context.Context, backend Backend, body func(ctx context.Context, dev *Context) error) error {
	dev := &Context{reqs: make(chan request)}
	done := make(chan error, 1)
	go func() { done <- body(ctx, dev) }()

	forwarded := false
	for {
		select {
		case req := <-dev.reqs:
			switch req.stage {
			case StageSelect:
				req.resp <- backend.Select(ctx, req.copies)
			case StageWait:
				req.resp <- backend.Wait(ctx)
			case StageForward:
				forwarded = true
				req.resp <- nil
			default:
				req.resp <- fmt.Errorf("ttg/device: unknown suspension stage %d", req.stage)
			}
		case err := <-done:
			if err == nil && !forwarded {
				return fmt.Errorf("ttg/device: task completed without calling Forward")
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

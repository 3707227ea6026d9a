package fedkit

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Polling windows handed to Runtime.Poll. Advance waits spin tightly; the
// join and enablement waits are patient.
const (
	advancePollMin = 100 * time.Microsecond
	advancePollMax = 200 * time.Millisecond
	joinPollMin    = 100 * time.Millisecond
	joinPollMax    = 200 * time.Millisecond
)

// await polls the runtime until done reports true. The context is the only
// deadline: there is no implicit timeout, matching the protocol's original
// behavior, but a caller-supplied deadline or cancellation fails the wait
// closed instead of hanging.
func (f *Federate) await(ctx context.Context, min, max time.Duration, done func() bool) error {
	for !done() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := f.rt.Poll(min, max); err != nil {
			return err
		}
	}
	return nil
}

// EnableRegulationAndConstrained requests both time management capabilities
// and blocks until the runtime confirms each one.
func (f *Federate) EnableRegulationAndConstrained(ctx context.Context) error {
	if err := f.rt.EnableTimeRegulation(f.opts.Lookahead); err != nil {
		return errors.Wrap(err, "enable time regulation")
	}
	if err := f.await(ctx, joinPollMin, joinPollMax, func() bool { return f.regulationEnabled }); err != nil {
		return err
	}
	if err := f.rt.EnableTimeConstrained(); err != nil {
		return errors.Wrap(err, "enable time constrained")
	}
	return f.await(ctx, joinPollMin, joinPollMax, func() bool { return f.constrainedEnabled })
}

// DisableRegulationAndConstrained drops both capabilities; the runtime
// confirms synchronously.
func (f *Federate) DisableRegulationAndConstrained() error {
	if err := f.rt.DisableTimeConstrained(); err != nil {
		return errors.Wrap(err, "disable time constrained")
	}
	f.constrainedEnabled = false
	if err := f.rt.DisableTimeRegulation(); err != nil {
		return errors.Wrap(err, "disable time regulation")
	}
	f.regulationEnabled = false
	return nil
}

// advance is the one wait/grant primitive behind all advance variants:
// request the target, then poll until the grant clears the advancing flag
// or a federation shutdown preempts the wait. On grant, federateTime holds
// the granted (authoritative) value.
func (f *Federate) advance(ctx context.Context, target float64, nextMessage bool) error {
	f.mx.Lock()
	f.advancing = true
	f.mx.Unlock()
	f.stage = Advancing

	var err error
	if nextMessage {
		err = f.rt.NextMessageRequest(target)
	} else {
		err = f.rt.TimeAdvanceRequest(target)
	}
	if err != nil {
		f.mx.Lock()
		f.advancing = false
		f.mx.Unlock()
		f.stage = Idle
		return errors.Wrapf(ErrAdvance, "target %v: %v", target, err)
	}

	err = f.await(ctx, advancePollMin, advancePollMax, func() bool {
		return !f.advancing || f.shutdown
	})
	if f.stage == Advancing {
		f.stage = Idle
	}
	return err
}

// AdvanceBy requests an advance by the configured step size.
func (f *Federate) AdvanceBy(ctx context.Context) error {
	return f.advance(ctx, f.federateTime+f.opts.StepSize, false)
}

// AdvanceTo requests an advance to an absolute time.
func (f *Federate) AdvanceTo(ctx context.Context, t float64) error {
	return f.advance(ctx, t, false)
}

// AdvanceToOffset requests an advance to the given time plus the configured
// federate offset.
func (f *Federate) AdvanceToOffset(ctx context.Context, t float64) error {
	return f.advance(ctx, t+f.opts.TimeOffset, false)
}

// NextMessage asks for the next message at or before t; the granted time is
// the message's timestamp when one is pending, t otherwise.
func (f *Federate) NextMessage(ctx context.Context, t float64) error {
	return f.advance(ctx, t, true)
}

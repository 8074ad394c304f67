package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Adapter layers waiting on top of a Driver's immediate lookups. Element
// waits poll the page at a fixed interval until the deadline; callers pass
// the deadline through ctx or the timeout argument.
type Adapter struct {
	driver       Driver
	pollInterval time.Duration
}

// NewAdapter wraps a driver. pollInterval <= 0 defaults to 250ms.
func NewAdapter(driver Driver, pollInterval time.Duration) *Adapter {
	if pollInterval <= 0 {
		pollInterval = 250 * time.Millisecond
	}
	return &Adapter{driver: driver, pollInterval: pollInterval}
}

// Driver exposes the underlying driver for operations that need no waiting.
func (a *Adapter) Driver() Driver { return a.driver }

// FindElement waits up to timeout for a matching element. A zero timeout
// looks exactly once.
func (a *Adapter) FindElement(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	deadline := time.Now().Add(timeout)
	for {
		el, err := a.driver.Find(ctx, selector)
		if err == nil {
			return el, nil
		}
		if !errors.Is(err, ErrElementNotFound) {
			return nil, err
		}
		if timeout <= 0 || time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
		}
		if !a.pause(ctx) {
			return nil, ctx.Err()
		}
	}
}

// FindElements returns all current matches without waiting.
func (a *Adapter) FindElements(ctx context.Context, selector string) ([]Element, error) {
	return a.driver.FindAll(ctx, selector)
}

// WaitGone waits up to timeout for the selector to match nothing visible.
func (a *Adapter) WaitGone(ctx context.Context, selector string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		el, err := a.driver.Find(ctx, selector)
		if errors.Is(err, ErrElementNotFound) {
			return nil
		}
		if err == nil {
			if vis, verr := el.Visible(); verr == nil && !vis {
				return nil
			}
		} else {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("element %s still present after %s", selector, timeout)
		}
		if !a.pause(ctx) {
			return ctx.Err()
		}
	}
}

// ExtractValue pulls the requested attribute from the element. Empty
// values report ok=false so callers can distinguish missing from blank.
func (a *Adapter) ExtractValue(el Element, attribute string) (string, bool, error) {
	return el.Attribute(attribute)
}

func (a *Adapter) pause(ctx context.Context) bool {
	t := time.NewTimer(a.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

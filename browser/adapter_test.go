package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindElementImmediateHit(t *testing.T) {
	d := NewFakeDriver()
	d.Set("h1.title", &FakeElement{TextValue: "Widget"})
	a := NewAdapter(d, 10*time.Millisecond)

	el, err := a.FindElement(context.Background(), "h1.title", 0)
	require.NoError(t, err)
	txt, _ := el.Text()
	assert.Equal(t, "Widget", txt)
}

func TestFindElementPollsUntilAppearance(t *testing.T) {
	d := NewFakeDriver()
	a := NewAdapter(d, 5*time.Millisecond)

	calls := 0
	d.FindHook = func(string) {
		calls++
		if calls == 3 {
			d.Set("div.late", &FakeElement{TextValue: "here"})
		}
	}

	el, err := a.FindElement(context.Background(), "div.late", time.Second)
	require.NoError(t, err)
	require.NotNil(t, el)
	assert.GreaterOrEqual(t, calls, 3)
}

func TestFindElementTimesOut(t *testing.T) {
	d := NewFakeDriver()
	a := NewAdapter(d, 5*time.Millisecond)

	_, err := a.FindElement(context.Background(), "div.never", 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrElementNotFound)
}

func TestFindElementCancellable(t *testing.T) {
	d := NewFakeDriver()
	a := NewAdapter(d, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(15 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := a.FindElement(ctx, "div.never", time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWaitGone(t *testing.T) {
	d := NewFakeDriver()
	d.Set("div.spinner", &FakeElement{TextValue: "loading"})
	a := NewAdapter(d, 5*time.Millisecond)

	calls := 0
	d.FindHook = func(string) {
		calls++
		if calls == 3 {
			d.Remove("div.spinner")
		}
	}

	assert.NoError(t, a.WaitGone(context.Background(), "div.spinner", time.Second))
}

func TestExtractValueTextFallback(t *testing.T) {
	a := NewAdapter(NewFakeDriver(), 0)
	el := &FakeElement{TextValue: "  $19.99  ", Attributes: map[string]string{"href": "https://x.test/p/1"}}

	v, ok, err := a.ExtractValue(el, "text")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "$19.99", v)

	v, ok, _ = a.ExtractValue(el, "href")
	assert.True(t, ok)
	assert.Equal(t, "https://x.test/p/1", v)

	_, ok, _ = a.ExtractValue(el, "data-missing")
	assert.False(t, ok)
}

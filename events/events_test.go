package events

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b, err := NewBus(100, "", nil)
	require.NoError(t, err)
	return b
}

func TestV1EventsOmitVersionField(t *testing.T) {
	b := newTestBus(t)
	em := NewEmitter(b, "job-1")
	em.JobStarted(3, []string{"acme"})

	evts := b.Events("job-1")
	require.Len(t, evts, 1)

	raw, err := json.Marshal(evts[0])
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	_, hasVersion := m["version"]
	assert.False(t, hasVersion, "v1 events must not carry a version field")
	assert.Equal(t, "1.0", evts[0].SchemaVersion())
}

func TestV2StepEventShape(t *testing.T) {
	b := newTestBus(t)
	em := NewEmitter(b, "job-1")

	started := time.Now().UTC()
	completed := started.Add(1500 * time.Millisecond)
	em.StepCompleted(StepInfo{
		Site: "acme", SKU: "SKU-1", Index: 2, Action: "extract", Name: "grab fields",
		RetryCount: 1, MaxRetries: 3,
	}, started, completed,
		map[string]SelectorResult{"title": {Value: "h1.name", Found: true, Count: 1}},
		map[string]ExtractionResult{"title": {Value: "Widget", Status: "success", Confidence: 1.0}},
	)

	evts := b.Events("job-1")
	require.Len(t, evts, 1)
	e := evts[0]

	assert.Equal(t, TypeStepCompleted, e.Type)
	assert.Equal(t, "2.0", e.Version)
	assert.Equal(t, SeverityInfo, e.Severity)
	assert.NotEmpty(t, e.EventID)

	step := e.Data["step"].(map[string]any)
	assert.Equal(t, 2, step["index"])
	assert.Equal(t, "extract", step["action"])
	assert.Equal(t, "completed", step["status"])
	assert.Equal(t, 1, step["retry_count"])
	assert.Equal(t, 3, step["max_retries"])

	tm := e.Data["timing"].(map[string]any)
	assert.Equal(t, int64(1500), tm["duration_ms"])
	assert.InDelta(t, 1.5, tm["duration_seconds"], 0.001)
	assert.NotEmpty(t, tm["started_at"])
	assert.NotEmpty(t, tm["completed_at"])

	sels := e.Data["selectors"].(map[string]SelectorResult)
	assert.True(t, sels["title"].Found)
}

func TestStepFailedSeverityAndErrorPayload(t *testing.T) {
	b := newTestBus(t)
	em := NewEmitter(b, "job-1")

	now := time.Now().UTC()
	em.StepFailed(StepInfo{Site: "acme", Index: 0, Action: "navigate", MaxRetries: 3, RetryCount: 3},
		now, now.Add(time.Second), "net::ERR_CONNECTION_REFUSED", true)

	e := b.Events("")[0]
	assert.Equal(t, SeverityError, e.Severity)
	errData := e.Data["error"].(map[string]any)
	assert.Equal(t, "net::ERR_CONNECTION_REFUSED", errData["message"])
	assert.Equal(t, true, errData["retryable"])
}

func TestStepSkippedSeverityWarning(t *testing.T) {
	b := newTestBus(t)
	em := NewEmitter(b, "job-1")
	em.StepSkipped(StepInfo{Site: "acme", Index: 1, Action: "login"}, "session already authenticated")

	e := b.Events("")[0]
	assert.Equal(t, SeverityWarning, e.Severity)
	assert.Equal(t, "session already authenticated", e.Data["reason"])
	step := e.Data["step"].(map[string]any)
	assert.Equal(t, "skipped", step["status"])
}

func TestSelectorResolvedPayload(t *testing.T) {
	b := newTestBus(t)
	em := NewEmitter(b, "job-1")
	em.SelectorResolved("acme", "SKU-1", "price", SelectorResult{
		Value: "span.price", Found: false, Count: 0, Error: "element not found",
	})

	e := b.Events("")[0]
	assert.Equal(t, TypeSelectorResolved, e.Type)
	assert.Equal(t, SeverityWarning, e.Severity)
	sel := e.Data["selector"].(map[string]any)
	assert.Equal(t, "price", sel["name"])
	assert.Equal(t, false, sel["found"])
	assert.Equal(t, "element not found", sel["error"])
}

func TestBusDropsOldestWhenFull(t *testing.T) {
	b, err := NewBus(3, "", nil)
	require.NoError(t, err)
	em := NewEmitter(b, "job-1")

	for i := 0; i < 5; i++ {
		em.SKUStarted("SKU", "acme")
	}
	assert.Len(t, b.Events(""), 3)
}

func TestBusOrderingPreserved(t *testing.T) {
	b := newTestBus(t)
	em := NewEmitter(b, "job-1")

	now := time.Now().UTC()
	em.StepStarted(StepInfo{Site: "acme", Index: 0, Action: "navigate"})
	em.StepCompleted(StepInfo{Site: "acme", Index: 0, Action: "navigate"}, now, now, nil, nil)
	em.StepStarted(StepInfo{Site: "acme", Index: 1, Action: "extract"})

	evts := b.Events("job-1")
	require.Len(t, evts, 3)
	assert.Equal(t, TypeStepStarted, evts[0].Type)
	assert.Equal(t, TypeStepCompleted, evts[1].Type)
	assert.Equal(t, TypeStepStarted, evts[2].Type)
}

func TestBusSubscribeAndUnsubscribe(t *testing.T) {
	b := newTestBus(t)

	var got []Event
	off := b.Subscribe(func(e Event) { got = append(got, e) })

	em := NewEmitter(b, "job-1")
	em.SKUStarted("SKU-1", "acme")
	off()
	em.SKUStarted("SKU-2", "acme")

	require.Len(t, got, 1)
	assert.Equal(t, "SKU-1", got[0].Data["sku"])
}

func TestBusJSONLPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "stream.jsonl")
	b, err := NewBus(100, path, nil)
	require.NoError(t, err)

	em := NewEmitter(b, "job-1")
	em.JobStarted(1, []string{"acme"})
	em.SKUSuccess("SKU-1", "acme", 4)
	require.NoError(t, b.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestNilEmitterIsSafe(t *testing.T) {
	var em *Emitter
	em.JobStarted(1, nil)
	em.StepStarted(StepInfo{})
	em.StepSkipped(StepInfo{}, "x")
}

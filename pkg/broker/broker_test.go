// SPDX-License-Identifier: Apache-2.0
package broker

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/loomlab/loom/pkg/config"
	"github.com/loomlab/loom/pkg/core"
	"github.com/loomlab/loom/pkg/errors"
	"github.com/loomlab/loom/pkg/providers/native"
	"github.com/loomlab/loom/pkg/telemetry"
	loomtest "github.com/loomlab/loom/pkg/testing"
)

func newEcho(t *testing.T, version string) core.CapabilityProvider {
	t.Helper()
	p, err := native.NewJSON("tts.echo", version, func(_ context.Context, input map[string]any, _ map[string]string) (any, error) {
		text, _ := input["text"].(string)
		return map[string]string{"spoken": text}, nil
	})
	if err != nil {
		t.Fatalf("echo provider: %v", err)
	}
	return p
}

// gateProvider blocks Invoke until released, so tests can hold a call
// in flight across a replacing registration.
type gateProvider struct {
	desc    core.CapabilityDescriptor
	started chan struct{}
	release chan struct{}
	output  []byte
}

func newGateProvider(name string, output []byte) *gateProvider {
	return &gateProvider{
		desc:    core.CapabilityDescriptor{Name: name, Version: "1.0.0", Kind: core.ProviderNative},
		started: make(chan struct{}),
		release: make(chan struct{}),
		output:  output,
	}
}

func (g *gateProvider) Describe() core.CapabilityDescriptor { return g.desc }

func (g *gateProvider) Invoke(ctx context.Context, call core.ActionCall) (core.ActionResult, error) {
	close(g.started)
	select {
	case <-ctx.Done():
		return core.ActionResult{}, ctx.Err()
	case <-g.release:
		return core.OkResult(call.ID, g.output), nil
	}
}

func TestInvokeEcho(t *testing.T) {
	b := New()
	if err := b.Register(newEcho(t, "0.1.0")); err != nil {
		t.Fatalf("register: %v", err)
	}

	call := core.ActionCall{
		ID:            "call_001",
		Capability:    "tts.echo",
		Version:       "0.1.0",
		Payload:       []byte(`{"text":"hi"}`),
		TimeoutMS:     3000,
		CorrelationID: "session_1",
		QoS:           core.QoSRealtime,
	}
	res, err := b.Invoke(context.Background(), call)
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if res.Status != core.StatusOk {
		t.Fatalf("expected ok, got %s (%+v)", res.Status, res.Error)
	}
	if res.ID != "call_001" {
		t.Errorf("expected id echo, got %q", res.ID)
	}
	if res.Error != nil {
		t.Errorf("ok result must not carry an error")
	}
	var decoded map[string]string
	if err := json.Unmarshal(res.Output, &decoded); err != nil {
		t.Fatalf("output not JSON: %v", err)
	}
	if decoded["spoken"] != "hi" {
		t.Errorf("expected spoken=hi, got %v", decoded)
	}
}

func TestInvokeUnknownCapability(t *testing.T) {
	b := New()
	p := loomtest.NewScriptedProvider("tts.echo", "0.1.0")
	if err := b.Register(p); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := b.Invoke(context.Background(), core.ActionCall{ID: "c1", Capability: "ghost.tool"})
	if err == nil {
		t.Fatalf("expected routing error for unregistered capability")
	}
	var le *errors.LoomError
	if !stderrors.As(err, &le) || le.Code != errors.CodeNotFound {
		t.Errorf("expected NOT_FOUND LoomError, got %v", err)
	}
	if p.CallCount() != 0 {
		t.Errorf("no provider may execute on a routing error")
	}
}

func TestInvokeTimeout(t *testing.T) {
	b := New()
	p := loomtest.NewScriptedProvider("slow.tool", "1.0.0").AddHang()
	if err := b.Register(p); err != nil {
		t.Fatalf("register: %v", err)
	}

	start := time.Now()
	res, err := b.Invoke(context.Background(), core.ActionCall{
		ID:         "c_timeout",
		Capability: "slow.tool",
		TimeoutMS:  100,
	})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("timeout must be a result, not an error: %v", err)
	}
	if res.Status != core.StatusTimeout {
		t.Fatalf("expected timeout status, got %s", res.Status)
	}
	if res.Error == nil || res.Error.Code != "TIMEOUT" {
		t.Errorf("expected TIMEOUT code, got %+v", res.Error)
	}
	if res.ID != "c_timeout" {
		t.Errorf("expected id echo on timeout, got %q", res.ID)
	}
	if len(res.Output) != 0 {
		t.Errorf("timeout result must carry no output")
	}
	if elapsed < 100*time.Millisecond {
		t.Errorf("timeout fired early: %v", elapsed)
	}
	if elapsed > 250*time.Millisecond {
		t.Errorf("timeout overshoot too large: %v", elapsed)
	}
}

func TestInvokeProviderFailure(t *testing.T) {
	b := New()
	p := loomtest.NewScriptedProvider("flaky.tool", "1.0.0").
		AddError(stderrors.New("downstream exploded"))
	if err := b.Register(p); err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := b.Invoke(context.Background(), core.ActionCall{ID: "c_err", Capability: "flaky.tool", TimeoutMS: 1000})
	if err != nil {
		t.Fatalf("provider failure must be a result, not an error: %v", err)
	}
	if res.Status != core.StatusError {
		t.Fatalf("expected error status, got %s", res.Status)
	}
	if res.Error == nil || res.Error.Code != "CAPABILITY_ERROR" {
		t.Errorf("expected CAPABILITY_ERROR, got %+v", res.Error)
	}
	if res.ID != "c_err" {
		t.Errorf("expected id echo, got %q", res.ID)
	}
	if res.Error.Details["recoverable"] != "false" {
		t.Errorf("plain errors wrap as unrecoverable, got %+v", res.Error.Details)
	}
}

func TestInvokeProviderFailureCarriesRecoverableFlag(t *testing.T) {
	b := New()
	p := loomtest.NewScriptedProvider("flaky.tool", "1.0.0").
		AddError(errors.New(errors.CodeCapabilityError, "backend briefly unavailable", nil).
			WithRecoverable(true))
	if err := b.Register(p); err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := b.Invoke(context.Background(), core.ActionCall{ID: "c_rec", Capability: "flaky.tool", TimeoutMS: 1000})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Error == nil || res.Error.Code != "CAPABILITY_ERROR" {
		t.Fatalf("expected CAPABILITY_ERROR, got %+v", res.Error)
	}
	if res.Error.Details["recoverable"] != "true" {
		t.Errorf("expected recoverable flag to surface, got %+v", res.Error.Details)
	}
}

func TestInvokeProviderPanic(t *testing.T) {
	b := New()
	p, err := native.New("panicky.tool", "1.0.0", func(_ context.Context, _ core.ActionCall) (core.ActionResult, error) {
		panic("boom")
	})
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	if err := b.Register(p); err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := b.Invoke(context.Background(), core.ActionCall{ID: "c_panic", Capability: "panicky.tool", TimeoutMS: 1000})
	if err != nil {
		t.Fatalf("panic must be contained as a result: %v", err)
	}
	if res.Status != core.StatusError {
		t.Fatalf("expected error status, got %s", res.Status)
	}
	if res.Error == nil || res.Error.Code != "CAPABILITY_ERROR" {
		t.Errorf("expected CAPABILITY_ERROR, got %+v", res.Error)
	}
}

func TestInvokeProviderReportedErrorPassesThrough(t *testing.T) {
	b := New()
	p := loomtest.NewScriptedProvider("strict.tool", "1.0.0").
		AddScriptedResponse(loomtest.ScriptedResponse{
			Result: core.ErrorResult("", "BAD_PAYLOAD", "expected JSON {\"text\":\"...\"}"),
		})
	if err := b.Register(p); err != nil {
		t.Fatalf("register: %v", err)
	}

	res, err := b.Invoke(context.Background(), core.ActionCall{ID: "c_bad", Capability: "strict.tool", TimeoutMS: 1000})
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if res.Error == nil || res.Error.Code != "BAD_PAYLOAD" {
		t.Errorf("provider-chosen codes must pass through, got %+v", res.Error)
	}
	if res.ID != "c_bad" {
		t.Errorf("expected id normalization to call id, got %q", res.ID)
	}
}

func TestEffectiveTimeoutDefault(t *testing.T) {
	b := New()
	if got := b.effectiveTimeout(core.ActionCall{TimeoutMS: 0}); got != core.DefaultTimeout {
		t.Errorf("expected default timeout for 0, got %v", got)
	}
	if got := b.effectiveTimeout(core.ActionCall{TimeoutMS: -5}); got != core.DefaultTimeout {
		t.Errorf("expected default timeout for negative, got %v", got)
	}
	if got := b.effectiveTimeout(core.ActionCall{TimeoutMS: 250}); got != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", got)
	}

	custom := New(WithDefaultTimeout(5 * time.Second))
	if got := custom.effectiveTimeout(core.ActionCall{}); got != 5*time.Second {
		t.Errorf("expected configured default, got %v", got)
	}
}

func TestReplacementRoutesNewCalls(t *testing.T) {
	b := New()
	if err := b.Register(loomtest.NewScriptedProvider("tts.echo", "0.1.0").
		AddResult([]byte(`{"voice":"first"}`))); err != nil {
		t.Fatalf("register first: %v", err)
	}
	if err := b.Register(loomtest.NewScriptedProvider("tts.echo", "0.2.0").
		AddResult([]byte(`{"voice":"second"}`))); err != nil {
		t.Fatalf("register second: %v", err)
	}

	res, err := b.Invoke(context.Background(), core.ActionCall{ID: "c1", Capability: "tts.echo", TimeoutMS: 1000})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if string(res.Output) != `{"voice":"second"}` {
		t.Errorf("new calls must observe only the replacement, got %s", res.Output)
	}

	descs := b.List()
	if len(descs) != 1 || descs[0].Version != "0.2.0" {
		t.Errorf("expected one descriptor for the replacement, got %+v", descs)
	}
}

func TestReplacementKeepsInFlightCallOnOldProvider(t *testing.T) {
	b := New()
	p1 := newGateProvider("tts.echo", []byte(`{"voice":"first"}`))
	if err := b.Register(p1); err != nil {
		t.Fatalf("register p1: %v", err)
	}

	type invokeResult struct {
		res core.ActionResult
		err error
	}
	inFlight := make(chan invokeResult, 1)
	go func() {
		res, err := b.Invoke(context.Background(), core.ActionCall{ID: "c_old", Capability: "tts.echo", TimeoutMS: 2000})
		inFlight <- invokeResult{res, err}
	}()

	// Wait until the call has resolved p1 and is blocked inside it.
	select {
	case <-p1.started:
	case <-time.After(time.Second):
		t.Fatalf("in-flight call never reached p1")
	}

	p2 := loomtest.NewScriptedProvider("tts.echo", "2.0.0").
		AddResult([]byte(`{"voice":"second"}`))
	if err := b.Register(p2); err != nil {
		t.Fatalf("register p2: %v", err)
	}

	close(p1.release)
	first := <-inFlight
	if first.err != nil {
		t.Fatalf("in-flight call failed: %v", first.err)
	}
	if string(first.res.Output) != `{"voice":"first"}` {
		t.Errorf("in-flight call must complete on the old provider, got %s", first.res.Output)
	}

	res, err := b.Invoke(context.Background(), core.ActionCall{ID: "c_new", Capability: "tts.echo", TimeoutMS: 1000})
	if err != nil {
		t.Fatalf("post-replacement invoke: %v", err)
	}
	if string(res.Output) != `{"voice":"second"}` {
		t.Errorf("post-replacement calls must reach the new provider, got %s", res.Output)
	}
}

func TestInvokeRecordsDispatchMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	m, err := telemetry.NewDispatchMetrics()
	if err != nil {
		t.Fatalf("NewDispatchMetrics: %v", err)
	}

	b := New(WithMetrics(m))
	if err := b.Register(newEcho(t, "0.1.0")); err != nil {
		t.Fatalf("register echo: %v", err)
	}
	if err := b.Register(loomtest.NewScriptedProvider("slow.tool", "1.0.0").AddHang()); err != nil {
		t.Fatalf("register slow: %v", err)
	}

	ctx := context.Background()
	if _, err := b.Invoke(ctx, core.ActionCall{ID: "m1", Capability: "tts.echo", Payload: []byte(`{"text":"hi"}`), TimeoutMS: 1000}); err != nil {
		t.Fatalf("invoke echo: %v", err)
	}
	res, err := b.Invoke(ctx, core.ActionCall{ID: "m2", Capability: "slow.tool", TimeoutMS: 50})
	if err != nil {
		t.Fatalf("invoke slow: %v", err)
	}
	if res.Status != core.StatusTimeout {
		t.Fatalf("expected timeout for slow call, got %s", res.Status)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	calls := int64(0)
	timeouts := int64(0)
	durations := uint64(0)
	registered := int64(-1)
	statusAttrSeen := false
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			switch metric.Name {
			case "loom.broker.calls":
				sum, ok := metric.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatalf("calls metric has unexpected type %T", metric.Data)
				}
				for _, dp := range sum.DataPoints {
					calls += dp.Value
					if _, ok := dp.Attributes.Value(attribute.Key(telemetry.AttrCallStatus)); ok {
						statusAttrSeen = true
					}
				}
			case "loom.broker.timeouts":
				sum, ok := metric.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatalf("timeouts metric has unexpected type %T", metric.Data)
				}
				for _, dp := range sum.DataPoints {
					timeouts += dp.Value
				}
			case "loom.broker.duration_ms":
				hist, ok := metric.Data.(metricdata.Histogram[float64])
				if !ok {
					t.Fatalf("duration metric has unexpected type %T", metric.Data)
				}
				for _, dp := range hist.DataPoints {
					durations += dp.Count
				}
			case "loom.broker.capabilities":
				gauge, ok := metric.Data.(metricdata.Gauge[int64])
				if !ok {
					t.Fatalf("capabilities metric has unexpected type %T", metric.Data)
				}
				for _, dp := range gauge.DataPoints {
					registered = dp.Value
				}
			}
		}
	}

	if calls != 2 {
		t.Errorf("expected 2 recorded calls, got %d", calls)
	}
	if !statusAttrSeen {
		t.Errorf("expected call datapoints to carry a status attribute")
	}
	if timeouts != 1 {
		t.Errorf("expected 1 recorded timeout, got %d", timeouts)
	}
	if durations != 2 {
		t.Errorf("expected 2 duration samples, got %d", durations)
	}
	if registered != 2 {
		t.Errorf("expected capabilities gauge at 2, got %d", registered)
	}
}

func TestBrokerConfiguredFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.yaml")
	content := "log:\n  level: debug\n  format: json\nbroker:\n  default_timeout_ms: 100\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	b := New(
		WithDefaultTimeout(cfg.Broker.DefaultTimeout()),
		WithLogger(telemetry.NewLogger(io.Discard, cfg.Log.Level, cfg.Log.Format)),
	)
	if err := b.Register(loomtest.NewScriptedProvider("slow.tool", "1.0.0").AddHang()); err != nil {
		t.Fatalf("register: %v", err)
	}

	// No per-call timeout: the configured 100ms default applies.
	start := time.Now()
	res, err := b.Invoke(context.Background(), core.ActionCall{ID: "c_cfg", Capability: "slow.tool"})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Status != core.StatusTimeout {
		t.Fatalf("expected timeout under configured default, got %s", res.Status)
	}
	if elapsed < 100*time.Millisecond || elapsed > 250*time.Millisecond {
		t.Errorf("configured default not applied, elapsed %v", elapsed)
	}
}

func TestConcurrentDispatch(t *testing.T) {
	b := New()
	for i := 0; i < 4; i++ {
		name := fmt.Sprintf("cap.%d", i)
		p, err := native.NewJSON(name, "1.0.0", func(_ context.Context, input map[string]any, _ map[string]string) (any, error) {
			return input, nil
		})
		if err != nil {
			t.Fatalf("provider %s: %v", name, err)
		}
		if err := b.Register(p); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			call := core.ActionCall{
				ID:         fmt.Sprintf("call_%d", i),
				Capability: fmt.Sprintf("cap.%d", i%4),
				Payload:    []byte(fmt.Sprintf(`{"n":%d}`, i)),
				TimeoutMS:  1000,
			}
			res, err := b.Invoke(context.Background(), call)
			if err != nil {
				t.Errorf("invoke %d: %v", i, err)
				return
			}
			if res.Status != core.StatusOk {
				t.Errorf("invoke %d: status %s", i, res.Status)
			}
			if res.ID != call.ID {
				t.Errorf("invoke %d: id mismatch %q", i, res.ID)
			}
		}(i)
	}
	wg.Wait()
}

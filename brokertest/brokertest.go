// Package brokertest stress tests the configured publishers with synthetic
// violation transitions.
package brokertest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strings"
	"time"

	"floorview/config"
	"floorview/kafka"
	"floorview/mqtt"
	"floorview/telemetry"
	"floorview/valkey"
)

// Namespace keeps stress traffic apart from the live topics and keys.
const Namespace = "floorview-test-stress"

// TestConfig holds configuration for the broker stress test.
type TestConfig struct {
	// Duration is how long to run each test
	Duration time.Duration
	// NumRegisters is the number of simulated registers per device
	NumRegisters int
	// NumDevices is the number of simulated devices
	NumDevices int
}

// DefaultTestConfig returns sensible defaults for stress testing.
func DefaultTestConfig() TestConfig {
	return TestConfig{
		Duration:     10 * time.Second,
		NumRegisters: 100,
		NumDevices:   50,
	}
}

// TestResult holds the results from a broker stress test.
type TestResult struct {
	BrokerType    string
	BrokerName    string
	Address       string
	Duration      time.Duration
	MessagesSent  int64
	MessagesAcked int64
	Errors        int64
	Throughput    float64 // messages per second
	AvgLatency    time.Duration
	P50Latency    time.Duration
	P95Latency    time.Duration
	P99Latency    time.Duration
	MaxLatency    time.Duration
	Success       bool
	Error         error
}

// Runner executes broker stress tests.
type Runner struct {
	cfg     *config.Config
	testCfg TestConfig
	out     io.Writer
	results []TestResult
}

// NewRunner creates a stress test runner that reports to out.
func NewRunner(cfg *config.Config, testCfg TestConfig, out io.Writer) *Runner {
	return &Runner{cfg: cfg, testCfg: testCfg, out: out}
}

// Run executes stress tests for all enabled publishers.
func (r *Runner) Run() []TestResult {
	r.printHeader()

	for i := range r.cfg.Kafka {
		if r.cfg.Kafka[i].Enabled {
			r.results = append(r.results, r.testKafka(kafka.FromConfig(r.cfg.Kafka[i])))
		}
	}
	for i := range r.cfg.MQTT {
		if r.cfg.MQTT[i].Enabled {
			r.results = append(r.results, r.testMQTT(r.cfg.MQTT[i]))
		}
	}
	for i := range r.cfg.Valkey {
		if r.cfg.Valkey[i].Enabled {
			r.results = append(r.results, r.testValkey(r.cfg.Valkey[i]))
		}
	}

	r.printReport()
	return r.results
}

// generator produces violation transitions. Each call flips the state of a
// random register so every message is a change.
type generator struct {
	devices   int
	registers int
	state     map[string]bool
	rnd       *rand.Rand
}

func newGenerator(tc TestConfig) *generator {
	devices, registers := tc.NumDevices, tc.NumRegisters
	if devices <= 0 {
		devices = 1
	}
	if registers <= 0 {
		registers = 1
	}
	return &generator{
		devices:   devices,
		registers: registers,
		state:     make(map[string]bool),
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *generator) next() (string, telemetry.Violation) {
	device := fmt.Sprintf("device-%d", g.rnd.Intn(g.devices))
	reg := fmt.Sprintf("reg-%d", g.rnd.Intn(g.registers))
	key := device + "/" + reg
	entered := !g.state[key]
	g.state[key] = entered

	value := g.rnd.Float64() * 100
	return device, telemetry.Violation{
		RegisterID: reg,
		Name:       reg,
		Value:      value,
		Display:    fmt.Sprintf("%.2f", value),
		Entered:    entered,
		Timestamp:  time.Now(),
	}
}

func (r *Runner) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, format, args...)
}

func (r *Runner) printHeader() {
	r.printf("\n")
	r.printf("╔══════════════════════════════════════════════════════════════════╗\n")
	r.printf("║                    BROKER STRESS TEST                            ║\n")
	r.printf("╚══════════════════════════════════════════════════════════════════╝\n\n")
	r.printf("  Test Parameters:\n")
	r.printf("    Duration:          %v\n", r.testCfg.Duration)
	r.printf("    Simulated devices: %d\n", r.testCfg.NumDevices)
	r.printf("    Registers each:    %d\n", r.testCfg.NumRegisters)
	r.printf("    Namespace:         %s\n\n", Namespace)
}

func (r *Runner) printTarget(kind, name, address, where string) {
	r.printf("─────────────────────────────────────────────────────────────────────\n")
	r.printf("  Testing: %s/%s\n", kind, name)
	r.printf("  Address: %s\n", address)
	r.printf("  Target:  %s\n", where)
	r.printf("─────────────────────────────────────────────────────────────────────\n")
}

func (r *Runner) finish(result TestResult) TestResult {
	if result.Success {
		r.printf("DONE\n\n")
	} else {
		r.printf("FAILED\n\n")
	}
	return result
}

// testKafka runs the stress test through the batched manager, as the
// console does.
func (r *Runner) testKafka(cfg kafka.Config) TestResult {
	result := TestResult{
		BrokerType: "Kafka",
		BrokerName: cfg.Name,
		Address:    strings.Join(cfg.Brokers, ","),
	}

	mgr := kafka.NewManager(Namespace)
	cfg.PublishChanges = true
	cfg.AutoCreateTopics = true
	mgr.AddCluster(&cfg)
	r.printTarget("Kafka", cfg.Name, result.Address, mgr.GetProducer(cfg.Name).ViolationTopic())

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err := mgr.Connect(ctx, cfg.Name)
	cancel()
	if err != nil {
		result.Error = fmt.Errorf("connect failed: %w", err)
		r.printf("  Status: FAILED - %v\n\n", result.Error)
		return result
	}
	defer mgr.StopAll()

	r.printf("  Running... ")

	gen := newGenerator(r.testCfg)
	var sent int64
	start := time.Now()
	deadline := start.Add(r.testCfg.Duration)
	for time.Now().Before(deadline) {
		mgr.PublishViolation(gen.next())
		sent++
	}

	// Allow time for batches to flush
	time.Sleep(100 * time.Millisecond)

	result.Duration = time.Since(start)
	result.MessagesSent = sent
	if p := mgr.GetProducer(cfg.Name); p != nil {
		result.MessagesAcked, result.Errors, _ = p.GetStats()
	}
	result.Throughput = float64(sent) / result.Duration.Seconds()
	result.Success = sent > 0 && result.Errors == 0
	return r.finish(result)
}

// testMQTT queues transitions on a dedicated publisher. Publishing is
// asynchronous, so throughput is the queue rate.
func (r *Runner) testMQTT(cfg config.MQTTConfig) TestResult {
	result := TestResult{
		BrokerType: "MQTT",
		BrokerName: cfg.Name,
		Address:    fmt.Sprintf("%s:%d", cfg.Broker, cfg.Port),
	}

	cfg.ClientID = fmt.Sprintf("floorview-stress-%d", time.Now().UnixNano())
	pub := mqtt.NewPublisher(&cfg, Namespace)
	r.printTarget("MQTT", cfg.Name, result.Address, Namespace+"/+/violations/+")

	if err := pub.Start(); err != nil {
		result.Error = fmt.Errorf("connect failed: %w", err)
		r.printf("  Status: FAILED - %v\n\n", result.Error)
		return result
	}
	defer pub.Stop()

	r.printf("  Running... ")

	gen := newGenerator(r.testCfg)
	var sent, errors int64
	start := time.Now()
	deadline := start.Add(r.testCfg.Duration)
	for time.Now().Before(deadline) {
		device, v := gen.next()
		if pub.PublishViolation(device, v, true) {
			sent++
		} else {
			errors++
		}
	}

	result.Duration = time.Since(start)
	result.MessagesSent = sent
	result.MessagesAcked = sent
	result.Errors = errors
	result.Throughput = float64(sent) / result.Duration.Seconds()
	result.Success = errors == 0 && sent > 0
	return r.finish(result)
}

// testValkey writes transitions synchronously and records the latency of
// each one.
func (r *Runner) testValkey(cfg config.ValkeyConfig) TestResult {
	result := TestResult{
		BrokerType: "Valkey",
		BrokerName: cfg.Name,
		Address:    cfg.Address,
	}

	cfg.PublishChanges = true
	mgr := valkey.NewManager(Namespace)
	pub := mgr.Add(&cfg)
	r.printTarget("Valkey", cfg.Name, result.Address, Namespace+":*")

	if err := pub.Start(); err != nil {
		result.Error = fmt.Errorf("connect failed: %w", err)
		r.printf("  Status: FAILED - %v\n\n", result.Error)
		return result
	}
	defer mgr.StopAll()

	r.printf("  Running... ")

	gen := newGenerator(r.testCfg)
	var sent, errors int64
	latencies := make([]time.Duration, 0, 10000)
	start := time.Now()
	deadline := start.Add(r.testCfg.Duration)
	for time.Now().Before(deadline) {
		device, v := gen.next()
		t0 := time.Now()
		if err := pub.PublishViolation(device, v); err != nil {
			errors++
			continue
		}
		latencies = append(latencies, time.Since(t0))
		sent++
	}

	result.Duration = time.Since(start)
	result.MessagesSent = sent
	result.MessagesAcked = sent
	result.Errors = errors
	result.Throughput = float64(sent) / result.Duration.Seconds()
	errorRate := float64(errors) / float64(sent+errors)
	result.Success = sent > 0 && errorRate < 0.01
	if len(latencies) > 0 {
		result.AvgLatency, result.P50Latency, result.P95Latency, result.P99Latency, result.MaxLatency = calculateLatencyStats(latencies)
	}
	return r.finish(result)
}

// calculateLatencyStats computes avg, p50, p95, p99, and max latencies.
func calculateLatencyStats(latencies []time.Duration) (avg, p50, p95, p99, max time.Duration) {
	if len(latencies) == 0 {
		return
	}

	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, l := range sorted {
		total += l
	}
	avg = total / time.Duration(len(sorted))

	p50 = sorted[len(sorted)*50/100]
	p95 = sorted[len(sorted)*95/100]
	p99 = sorted[len(sorted)*99/100]
	max = sorted[len(sorted)-1]
	return
}

// printReport prints a formatted summary report.
func (r *Runner) printReport() {
	r.printf("\n")
	r.printf("╔══════════════════════════════════════════════════════════════════╗\n")
	r.printf("║                         TEST RESULTS                             ║\n")
	r.printf("╚══════════════════════════════════════════════════════════════════╝\n\n")

	if len(r.results) == 0 {
		r.printf("  No enabled publishers found in configuration.\n\n")
		r.printf("  Enable at least one of kafka[], mqtt[] or valkey[] in the config.\n\n")
		return
	}

	r.printf("  ┌─────────┬────────────────┬────────────────┬──────────────┬────────┐\n")
	r.printf("  │ Type    │ Name           │ Throughput     │ Messages     │ Status │\n")
	r.printf("  ├─────────┼────────────────┼────────────────┼──────────────┼────────┤\n")

	passed, failed := 0, 0
	for _, result := range r.results {
		status := "✓ PASS"
		if !result.Success {
			status = "✗ FAIL"
			failed++
		} else {
			passed++
		}

		name := result.BrokerName
		if len(name) > 14 {
			name = name[:14]
		}
		r.printf("  │ %-7s │ %-14s │ %14s │ %12d │ %s │\n",
			result.BrokerType, name, fmt.Sprintf("%.0f msg/s", result.Throughput), result.MessagesSent, status)
	}
	r.printf("  └─────────┴────────────────┴────────────────┴──────────────┴────────┘\n\n")

	for _, result := range r.results {
		if result.Error != nil {
			continue
		}
		r.printf("  %s/%s:\n", result.BrokerType, result.BrokerName)
		r.printf("    Address:    %s\n", result.Address)
		r.printf("    Duration:   %v\n", result.Duration.Round(time.Millisecond))
		r.printf("    Messages:   %d sent, %d acked, %d errors\n", result.MessagesSent, result.MessagesAcked, result.Errors)
		r.printf("    Throughput: %.1f msg/s\n", result.Throughput)
		if result.AvgLatency > 0 {
			r.printf("    Latency:    avg %v, p50 %v, p95 %v, p99 %v, max %v\n",
				result.AvgLatency.Round(time.Microsecond),
				result.P50Latency.Round(time.Microsecond),
				result.P95Latency.Round(time.Microsecond),
				result.P99Latency.Round(time.Microsecond),
				result.MaxLatency.Round(time.Microsecond))
		}
		r.printf("\n")
	}

	r.printf("─────────────────────────────────────────────────────────────────────\n")
	r.printf("  Summary: %d passed, %d failed\n", passed, failed)
	if failed > 0 {
		r.printf("\n  FAILED TESTS:\n")
		for _, result := range r.results {
			if result.Success {
				continue
			}
			errMsg := "no messages sent"
			if result.Error != nil {
				errMsg = result.Error.Error()
			} else if result.Errors > 0 {
				errMsg = fmt.Sprintf("%d publish errors", result.Errors)
			}
			r.printf("    - %s/%s: %s\n", result.BrokerType, result.BrokerName, errMsg)
		}
	}
	r.printf("\n")
}

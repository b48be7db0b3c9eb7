// Package devicetest provides a conformance suite shared by every device implementation.
package devicetest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/SaraRegibo/cgse/internal/device"
)

// ConformanceResult represents the result of a conformance check.
type ConformanceResult struct {
	TestName string
	Passed   bool
	Error    string
	Duration time.Duration
}

// ConformanceReport collects the results for one implementation.
type ConformanceReport struct {
	DeviceName    string
	TotalTests    int
	PassedTests   int
	FailedTests   int
	Results       []ConformanceResult
	OverallPassed bool
	Duration      time.Duration
}

// Expectations tunes the suite to the implementation under test.
type Expectations struct {
	Simulator bool
	// Checks runs additional operations against a connected device.
	Checks map[string]func(ctx context.Context, dev device.Interface) error
}

// RunConformance runs the connection life cycle checks against fresh devices
// produced by newDevice.
func RunConformance(t *testing.T, newDevice func() device.Interface, exp Expectations) {
	t.Helper()
	startTime := time.Now()

	report := &ConformanceReport{
		DeviceName:    "unknown",
		Results:       []ConformanceResult{},
		OverallPassed: true,
	}
	if d := newDevice(); d != nil {
		report.DeviceName = d.ID()
	}

	runConnectTests(newDevice, report)
	runReconnectTests(newDevice, report)
	runSimulatorFlagTests(newDevice, exp, report)
	runExtraChecks(newDevice, exp, report)

	report.Duration = time.Since(startTime)
	printConformanceReport(t, report)

	if !report.OverallPassed {
		t.Fatalf("Device conformance failed: %d/%d checks passed", report.PassedTests, report.TotalTests)
	}
}

func runConnectTests(newDevice func() device.Interface, report *ConformanceReport) {
	dev := newDevice()
	ctx := context.Background()

	report.check("Connect", func() error {
		if err := dev.Connect(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		if !dev.IsConnected(ctx) {
			return fmt.Errorf("not connected after Connect")
		}
		return nil
	})

	report.check("Disconnect", func() error {
		if err := dev.Disconnect(); err != nil {
			return fmt.Errorf("disconnect: %w", err)
		}
		if dev.IsConnected(ctx) {
			return fmt.Errorf("still connected after Disconnect")
		}
		return nil
	})
}

func runReconnectTests(newDevice func() device.Interface, report *ConformanceReport) {
	dev := newDevice()
	ctx := context.Background()

	report.check("Reconnect_FromClosed", func() error {
		if err := dev.Reconnect(ctx); err != nil {
			return fmt.Errorf("reconnect: %w", err)
		}
		if !dev.IsConnected(ctx) {
			return fmt.Errorf("not connected after Reconnect")
		}
		return nil
	})

	report.check("Reconnect_FromOpen", func() error {
		if err := dev.Reconnect(ctx); err != nil {
			return fmt.Errorf("reconnect: %w", err)
		}
		if !dev.IsConnected(ctx) {
			return fmt.Errorf("not connected after second Reconnect")
		}
		return dev.Disconnect()
	})
}

func runSimulatorFlagTests(newDevice func() device.Interface, exp Expectations, report *ConformanceReport) {
	dev := newDevice()
	ctx := context.Background()

	report.check("IsSimulator_Stable", func() error {
		before := dev.IsSimulator()
		if before != exp.Simulator {
			return fmt.Errorf("IsSimulator() = %v, expected %v", before, exp.Simulator)
		}
		if err := dev.Connect(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer dev.Disconnect()
		if dev.IsSimulator() != before {
			return fmt.Errorf("IsSimulator changed after Connect")
		}
		return nil
	})
}

func runExtraChecks(newDevice func() device.Interface, exp Expectations, report *ConformanceReport) {
	for name, check := range exp.Checks {
		dev := newDevice()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

		report.check(name, func() error {
			if err := dev.Connect(ctx); err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer dev.Disconnect()
			return check(ctx, dev)
		})
		cancel()
	}
}

func (r *ConformanceReport) check(name string, fn func() error) {
	start := time.Now()
	err := fn()
	result := ConformanceResult{TestName: name, Passed: err == nil, Duration: time.Since(start)}
	if err != nil {
		result.Error = err.Error()
	}
	r.addResult(result)
}

func (r *ConformanceReport) addResult(result ConformanceResult) {
	r.TotalTests++
	if result.Passed {
		r.PassedTests++
	} else {
		r.FailedTests++
		r.OverallPassed = false
	}
	r.Results = append(r.Results, result)
}

func printConformanceReport(t *testing.T, report *ConformanceReport) {
	t.Helper()
	t.Logf("%s", strings.Repeat("=", 80))
	t.Logf("DEVICE CONFORMANCE REPORT: %s", report.DeviceName)
	t.Logf("Passed: %d/%d  Overall: %s  Duration: %v",
		report.PassedTests, report.TotalTests,
		map[bool]string{true: "PASS", false: "FAIL"}[report.OverallPassed],
		report.Duration)
	t.Logf("%s", strings.Repeat("-", 80))

	for _, result := range report.Results {
		status := "PASS"
		if !result.Passed {
			status = "FAIL"
		}
		t.Logf("%-30s %-6s %-12s %s", result.TestName, status, result.Duration.String(), result.Error)
	}
}

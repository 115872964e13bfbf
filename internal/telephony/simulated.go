package telephony

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// SimulatedLauncher accepts every plausible number without touching a real
// provider. It stands in for the signaling integration: accepted calls are
// driven to terminal states by the lifecycle advancer's timers instead of
// provider events.
//
// Keep this adapter free of business logic; it only validates the dial
// target the way a provider edge would.
type SimulatedLauncher struct{}

func NewSimulatedLauncher() *SimulatedLauncher { return &SimulatedLauncher{} }

func (l *SimulatedLauncher) Name() string { return "simulated" }

func (l *SimulatedLauncher) HealthCheck(ctx context.Context) error { return nil }

func (l *SimulatedLauncher) Launch(ctx context.Context, req LaunchRequest) (LaunchResult, error) {
	if !plausibleNumber(req.To) {
		return LaunchResult{ImmediateFailure: true, FailureReason: "invalid_number"}, nil
	}
	return LaunchResult{ProviderCallID: "sim-" + uuid.NewString()}, nil
}

// plausibleNumber is a provider-edge sanity check, not full E.164 validation.
func plausibleNumber(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= 7
}

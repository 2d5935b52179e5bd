package trust

import (
	"math"
	"testing"

	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
)

func TestSignalWeight(t *testing.T) {
	tests := []struct {
		name string
		sig  conversation.Signals
		want float64
	}{
		{"short", conversation.Signals{WordCount: 8}, 0.02},
		{"medium", conversation.Signals{WordCount: 30}, 0.03},
		{"long", conversation.Signals{WordCount: 80}, 0.05},
		{"insight", conversation.Signals{WordCount: 8, InsightExpressed: true}, 0.05},
		{"insight and confirm", conversation.Signals{WordCount: 30, InsightExpressed: true, ConfirmsReflection: true}, 0.08},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SignalWeight(tt.sig)
			if math.Abs(got-tt.want) > 0.0001 {
				t.Errorf("SignalWeight() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestUpdateEngagement(t *testing.T) {
	tests := []struct {
		name    string
		current float64
		sig     conversation.Signals
		want    float64
	}{
		{"engaged high clarity", 0.5, conversation.Signals{WordCount: 30, Clarity: conversation.LevelHigh}, 0.53},
		{"engaged low clarity", 0.5, conversation.Signals{WordCount: 30, Clarity: conversation.LevelLow}, 0.515},
		{"deflection counts double", 0.5, conversation.Signals{WordCount: 30, Clarity: conversation.LevelHigh, Deflection: true}, 0.44},
		{"terse reply is disengaged", 0.5, conversation.Signals{WordCount: 2, Clarity: conversation.LevelHigh}, 0.46},
		{"clamped at 1.0", 0.99, conversation.Signals{WordCount: 80, Clarity: conversation.LevelHigh}, 1.0},
		{"clamped at 0.0", 0.01, conversation.Signals{WordCount: 80, Clarity: conversation.LevelHigh, HostilePushback: true}, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UpdateEngagement(tt.current, tt.sig)
			if math.Abs(got-tt.want) > 0.001 {
				t.Errorf("UpdateEngagement(%f) = %f, want %f", tt.current, got, tt.want)
			}
		})
	}
}

func TestHostileDrop(t *testing.T) {
	tests := []struct {
		current float64
		want    float64
	}{
		{0.8, 0.5},
		{0.3, 0.0},
		{0.1, 0.0},
	}
	for _, tt := range tests {
		got := HostileDrop(tt.current)
		if math.Abs(got-tt.want) > 0.001 {
			t.Errorf("HostileDrop(%f) = %f, want %f", tt.current, got, tt.want)
		}
	}
}

func TestClarityModifier(t *testing.T) {
	tests := []struct {
		level conversation.Level
		want  float64
	}{
		{conversation.LevelHigh, 1.0},
		{conversation.LevelMedium, 0.8},
		{conversation.LevelLow, 0.5},
		{"", 1.0},
	}
	for _, tt := range tests {
		if got := ClarityModifier(tt.level); got != tt.want {
			t.Errorf("ClarityModifier(%q) = %f, want %f", tt.level, got, tt.want)
		}
	}
}

package coordinator

import "testing"

func TestDecide(t *testing.T) {
	tests := []struct {
		name string
		in   check
		want Outcome
	}{
		{"record", check{playing: true}, OutcomeRecord},
		{"shutting down wins", check{shuttingDown: true, superseded: true, looped: true}, OutcomeCancelled},
		{"race before loop", check{superseded: true, looped: true, playing: true}, OutcomeRace},
		{"loop before pause", check{looped: true, playing: false}, OutcomeLoop},
		{"end of playlist", check{playing: false}, OutcomeShutdown},
		{"self pause", check{playing: false, selfPaused: true}, OutcomeIdlePause},
		{"pause before ad", check{playing: false, ad: true}, OutcomeShutdown},
		{"ad", check{playing: true, ad: true}, OutcomeAd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := decide(tt.in); got != tt.want {
				t.Errorf("decide(%+v) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

package call

import "testing"

func TestIsTransferRequest(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		want bool
	}{
		{"I'll connect you with our manager now. Please hold the line.", true},
		{"Sure, let me CONNECT YOU WITH OUR MANAGER.", true},
		{"Our manager is off today.", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsTransferRequest(tt.text); got != tt.want {
			t.Errorf("IsTransferRequest(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestIsGoodbye(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		want bool
	}{
		{"Thank you for calling Tutti Da Gio. Goodbye! Have a great day!", true},
		{"GOODBYE! Enjoy your meal!", true},
		{"Would you like anything else?", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsGoodbye(tt.text); got != tt.want {
			t.Errorf("IsGoodbye(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

package client

import "testing"

func TestMatchGame(t *testing.T) {
	tests := []struct {
		name    string
		running []string
		want    GameDetection
	}{
		{
			name:    "known windows game",
			running: []string{"explorer.exe", "cs2.exe", "steam.exe"},
			want:    GameDetection{Known: true, Game: "Counter-Strike 2", Executable: "cs2.exe"},
		},
		{
			name:    "known linux game",
			running: []string{"systemd", "dota2"},
			want:    GameDetection{Known: true, Game: "Dota 2", Executable: "dota2"},
		},
		{
			name:    "no known game",
			running: []string{"explorer.exe", "chrome.exe"},
			want:    GameDetection{},
		},
		{
			name:    "empty process list",
			running: nil,
			want:    GameDetection{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchGame(tt.running); got != tt.want {
				t.Errorf("matchGame = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDetectRunningGameNeverPanics(t *testing.T) {
	// Whatever the host is running, detection must degrade to not-known
	// rather than fail.
	_ = DetectRunningGame()
}

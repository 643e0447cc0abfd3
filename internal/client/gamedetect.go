package client

import (
	"os/exec"
	"runtime"
	"strings"
)

// GameDetection is the result of scanning running processes for a known
// game, used to fill in presence status text.
type GameDetection struct {
	Known      bool
	Game       string
	Executable string
}

// gameCatalog maps process names to game titles.
var gameCatalog = []struct {
	process string
	title   string
}{
	{"haloinfinite.exe", "Halo Infinite"},
	{"mcc-win64-shipping.exe", "Halo: The Master Chief Collection"},
	{"cs2.exe", "Counter-Strike 2"},
	{"valorant-win64-shipping.exe", "VALORANT"},
	{"fortniteclient-win64-shipping.exe", "Fortnite"},
	{"r5apex.exe", "Apex Legends"},
	{"overwatch.exe", "Overwatch 2"},
	{"cod.exe", "Call of Duty"},
	{"eldenring.exe", "Elden Ring"},
	{"eldenring", "Elden Ring"},
	{"dota2.exe", "Dota 2"},
	{"dota2", "Dota 2"},
	{"league of legends.exe", "League of Legends"},
	{"rocketleague.exe", "Rocket League"},
	{"gta5.exe", "Grand Theft Auto V"},
	{"minecraft.exe", "Minecraft"},
	{"rustclient.exe", "Rust"},
	{"pubg-win64-shipping.exe", "PUBG: Battlegrounds"},
	{"rainbowsix.exe", "Rainbow Six Siege"},
	{"rainbowsix_vulkan.exe", "Rainbow Six Siege"},
	{"destiny2.exe", "Destiny 2"},
	{"wow.exe", "World of Warcraft"},
	{"ffxiv_dx11.exe", "Final Fantasy XIV"},
	{"osu!.exe", "osu!"},
}

// DetectRunningGame scans the process table for a known game. Any
// failure to list processes yields a not-known result, never an error.
func DetectRunningGame() GameDetection {
	return matchGame(processNames())
}

func matchGame(running []string) GameDetection {
	if len(running) == 0 {
		return GameDetection{}
	}
	index := make(map[string]bool, len(running))
	for _, name := range running {
		index[name] = true
	}
	for _, entry := range gameCatalog {
		if index[entry.process] {
			return GameDetection{Known: true, Game: entry.title, Executable: entry.process}
		}
	}
	return GameDetection{}
}

// processNames lists lowercased running process names.
func processNames() []string {
	if runtime.GOOS == "windows" {
		out, err := exec.Command("tasklist", "/fo", "csv", "/nh").Output()
		if err != nil {
			return nil
		}
		var names []string
		for _, line := range strings.Split(string(out), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			// First CSV field is the quoted image name.
			field := line
			if rest, ok := strings.CutPrefix(line, `"`); ok {
				if i := strings.Index(rest, `",`); i >= 0 {
					field = rest[:i]
				} else {
					field = strings.TrimSuffix(rest, `"`)
				}
			}
			names = append(names, strings.ToLower(field))
		}
		return names
	}

	out, err := exec.Command("ps", "-eo", "comm=").Output()
	if err != nil {
		return nil
	}
	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, strings.ToLower(line))
		}
	}
	return names
}

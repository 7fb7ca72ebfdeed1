package types

import (
	"fmt"
	"strings"
)

// ResolutionProfile is one rung of the resolution ladder
type ResolutionProfile struct {
	Name    string `json:"name"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Bitrate int    `json:"bitrate"` // kbps
}

// BitrateArg renders the bitrate the way ffmpeg expects it, e.g. "2500k".
func (p ResolutionProfile) BitrateArg() string {
	return fmt.Sprintf("%dk", p.Bitrate)
}

// BufferArg is twice the target bitrate, used as the rate-control buffer size.
func (p ResolutionProfile) BufferArg() string {
	return fmt.Sprintf("%dk", p.Bitrate*2)
}

var defaultLadder = []ResolutionProfile{
	{Name: "240p", Width: 426, Height: 240, Bitrate: 500},
	{Name: "360p", Width: 640, Height: 360, Bitrate: 800},
	{Name: "480p", Width: 854, Height: 480, Bitrate: 1200},
	{Name: "720p", Width: 1280, Height: 720, Bitrate: 2500},
	{Name: "1080p", Width: 1920, Height: 1080, Bitrate: 5000},
	{Name: "2K", Width: 2560, Height: 1440, Bitrate: 15000},
	{Name: "4K", Width: 3840, Height: 2160, Bitrate: 40000},
}

// DefaultLadder returns a copy of the static ladder, ascending by width.
func DefaultLadder() []ResolutionProfile {
	ladder := make([]ResolutionProfile, len(defaultLadder))
	copy(ladder, defaultLadder)
	return ladder
}

// LadderByName returns the default rungs whose names appear in names, in
// ladder order. An empty list selects the whole ladder.
func LadderByName(names []string) ([]ResolutionProfile, error) {
	if len(names) == 0 {
		return DefaultLadder(), nil
	}

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[strings.ToLower(strings.TrimSpace(n))] = true
	}

	var ladder []ResolutionProfile
	for _, p := range defaultLadder {
		if wanted[strings.ToLower(p.Name)] {
			ladder = append(ladder, p)
			delete(wanted, strings.ToLower(p.Name))
		}
	}
	for n := range wanted {
		return nil, fmt.Errorf("unknown resolution %q", n)
	}
	return ladder, nil
}

// Package abr selects the rungs of the resolution ladder that a source can
// feed without upscaling.
//
// Example usage:
//
//	sel := abr.NewSelector(types.DefaultLadder(), logger)
//	profiles, err := sel.Select(meta.Width)
package abr

import (
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"
	tErrors "github.com/mantonx/vodpack/internal/modules/transcodingmodule/errors"
	"github.com/mantonx/vodpack/internal/modules/transcodingmodule/types"
)

// Selector filters a fixed ladder by source width
type Selector struct {
	ladder []types.ResolutionProfile
	logger hclog.Logger
}

// NewSelector creates a selector over ladder. The ladder is copied and sorted
// ascending by width; an empty ladder means the default one.
func NewSelector(ladder []types.ResolutionProfile, logger hclog.Logger) *Selector {
	if len(ladder) == 0 {
		ladder = types.DefaultLadder()
	}
	sorted := make([]types.ResolutionProfile, len(ladder))
	copy(sorted, ladder)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Width < sorted[j].Width })

	return &Selector{
		ladder: sorted,
		logger: logger.Named("abr"),
	}
}

// Select returns every profile with Width <= width, ascending by width.
// A source narrower than the smallest rung fails with
// NoApplicableResolutionError; there is no upscaling.
func (s *Selector) Select(width int) ([]types.ResolutionProfile, error) {
	var selected []types.ResolutionProfile
	for _, p := range s.ladder {
		if width >= p.Width {
			selected = append(selected, p)
		}
	}

	if len(selected) == 0 {
		s.logger.Warn("source narrower than smallest rung", "width", width, "smallest", s.ladder[0].Width)
		return nil, tErrors.NoApplicableResolutionError(width)
	}

	s.logger.Debug("selected renditions", "width", width, "count", len(selected))
	return selected, nil
}

// EstimateStorageMB estimates the packaged size of the selected renditions
// plus audioTracks AAC tracks at 128 kbps.
func EstimateStorageMB(profiles []types.ResolutionProfile, audioTracks int, duration time.Duration) float64 {
	totalKbps := 128 * audioTracks
	for _, p := range profiles {
		totalKbps += p.Bitrate
	}
	return float64(totalKbps) * duration.Seconds() / (8 * 1024)
}

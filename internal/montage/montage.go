package montage

import (
	"fmt"
	"log/slog"
	"strings"

	"tistim/internal/model"
)

// ZeroSumTolerance bounds the per-channel current imbalance allowed by
// the builder.
const ZeroSumTolerance = 1e-10

// Roles names the electrodes assigned to each stimulation role. A role
// may hold several electrodes; the channel current is split evenly over
// the ones that resolve against the electrode index.
type Roles struct {
	E1Plus  []string
	E1Minus []string
	E2Plus  []string
	E2Minus []string
}

// StimPatterns are the per-electrode injected currents (mA) for the two
// channels. Each vector sums to zero within ZeroSumTolerance.
type StimPatterns struct {
	Stim1 []float64
	Stim2 []float64
}

// BuildStimPatterns builds current-balanced stimulation vectors from
// named roles. Unknown electrode names are silently ignored with a
// diagnostic warning; the current is split over the resolved electrodes
// only, so each channel stays balanced regardless of role-group size.
// A channel whose positive or negative side resolves to nothing is
// skipped entirely rather than left unbalanced.
func BuildStimPatterns(ix *model.ElectrodeIndex, roles Roles, channel1MA, channel2MA float64, logger *slog.Logger) (StimPatterns, error) {
	if ix == nil {
		return StimPatterns{}, fmt.Errorf("%w: electrode index is required", model.ErrConfiguration)
	}
	if channel1MA < 0 || channel2MA < 0 {
		return StimPatterns{}, fmt.Errorf("%w: channel currents must be >= 0: got=%g/%g", model.ErrConfiguration, channel1MA, channel2MA)
	}
	if logger == nil {
		logger = slog.Default()
	}

	patterns := StimPatterns{
		Stim1: make([]float64, ix.Len()),
		Stim2: make([]float64, ix.Len()),
	}
	applyChannel(patterns.Stim1, ix, roles.E1Plus, roles.E1Minus, channel1MA, "1", logger)
	applyChannel(patterns.Stim2, ix, roles.E2Plus, roles.E2Minus, channel2MA, "2", logger)
	return patterns, nil
}

func applyChannel(stim []float64, ix *model.ElectrodeIndex, plus, minus []string, currentMA float64, channel string, logger *slog.Logger) {
	plusRows := resolveRows(ix, plus, channel, logger)
	minusRows := resolveRows(ix, minus, channel, logger)
	if len(plusRows) == 0 || len(minusRows) == 0 {
		if currentMA != 0 {
			logger.Warn("channel has an unresolvable role side, skipping",
				"channel", channel,
				"plus_resolved", len(plusRows),
				"minus_resolved", len(minusRows))
		}
		return
	}

	perPlus := currentMA / float64(len(plusRows))
	perMinus := currentMA / float64(len(minusRows))
	for _, row := range plusRows {
		stim[row] += perPlus
	}
	for _, row := range minusRows {
		stim[row] -= perMinus
	}
}

func resolveRows(ix *model.ElectrodeIndex, names []string, channel string, logger *slog.Logger) []int {
	rows := make([]int, 0, len(names))
	for _, name := range names {
		row, ok := ix.Row(name)
		if !ok {
			logger.Warn("unknown electrode name ignored", "channel", channel, "electrode", name)
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// PatternsForMontage builds the stimulation vectors for a fully resolved
// montage (index-based, no name lookups). The montage must already be
// distinct and in range.
func PatternsForMontage(nElectrodes int, m model.Montage) StimPatterns {
	patterns := StimPatterns{
		Stim1: make([]float64, nElectrodes),
		Stim2: make([]float64, nElectrodes),
	}
	patterns.Stim1[m.E1Plus] = m.Channel1
	patterns.Stim1[m.E1Minus] = -m.Channel1
	patterns.Stim2[m.E2Plus] = m.Channel2
	patterns.Stim2[m.E2Minus] = -m.Channel2
	return patterns
}

// Validate enforces the montage invariants: four distinct, in-range
// electrode indices and non-negative channel currents.
func Validate(m model.Montage, nElectrodes int) error {
	if !m.InRange(nElectrodes) {
		return fmt.Errorf("%w: montage index out of range [0,%d): %v", model.ErrConfiguration, nElectrodes, m.Indices())
	}
	if !m.Distinct() {
		return fmt.Errorf("%w: montage requires 4 distinct electrodes: %v", model.ErrConfiguration, m.Indices())
	}
	if m.Channel1 < 0 || m.Channel2 < 0 {
		return fmt.Errorf("%w: channel currents must be >= 0: got=%g/%g", model.ErrConfiguration, m.Channel1, m.Channel2)
	}
	return nil
}

// CanonicalName is the stable identifier for a montage:
// E1p-E1m_E2p-E2m_<ch1>-<ch2>mA. Search results are keyed by it.
func CanonicalName(e1p, e1m, e2p, e2m string, channel1MA, channel2MA float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s-%s_%s-%s_%.2f-%.2fmA", e1p, e1m, e2p, e2m, channel1MA, channel2MA)
	return b.String()
}

// NameForMontage renders the canonical name from leadfield rows.
func NameForMontage(ix *model.ElectrodeIndex, m model.Montage) string {
	name := func(row int) string {
		if n, ok := ix.Name(row); ok {
			return n
		}
		return fmt.Sprintf("#%d", row)
	}
	return CanonicalName(name(m.E1Plus), name(m.E1Minus), name(m.E2Plus), name(m.E2Minus), m.Channel1, m.Channel2)
}

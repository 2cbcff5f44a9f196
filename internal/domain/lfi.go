package domain

import "math"

// EventPhase tags the per-pixel drought state machine.
type EventPhase uint8

const (
	// PhaseSurplus: flow at or above threshold, no event open.
	PhaseSurplus EventPhase = iota
	// PhaseInDeficit: flow below threshold, deficit accumulating.
	PhaseInDeficit
	// PhasePendingPool: flow has recovered, but the event is held open for
	// up to the pooling window in case a new deficit begins.
	PhasePendingPool
)

// LFIParams are the run parameters of the drought event engine.
type LFIParams struct {
	// PoolingSteps is the maximum number of consecutive above-threshold
	// steps bridged into a still-open event. A gap of more steps closes it.
	PoolingSteps int
	// MinVolume is the materiality threshold: an event whose total deficit
	// volume stays below it is discarded entirely, as if the pixel never
	// left surplus.
	MinVolume float64
	// Decay is the multiplicative per-step factor applied to the
	// closed-event accumulator. 1 (or 0, the zero value) disables decay.
	Decay float64
}

// DecayPerStep converts an e-folding horizon in years into the per-step
// decay factor for the given calendar resolution.
func DecayPerStep(years float64, timestepsPerYear int) float64 {
	if years <= 0 {
		return 1
	}
	return math.Exp(-1 / (years * float64(timestepsPerYear)))
}

// Event is one closed, qualifying drought event.
type Event struct {
	// Volume is the total deficit below threshold, pooled gaps included.
	Volume float64
	// Duration counts every step from the event's first deficit step
	// through its last, bridged surplus steps included.
	Duration int
	// Interval is the number of surplus steps between the previous
	// qualifying event and this one.
	Interval int
}

// PixelState is the evolving drought bookkeeping of a single pixel. It is
// mutated exactly once per timestep, never rewound, and is gob-serializable
// so long runs can checkpoint and resume.
type PixelState struct {
	Phase     EventPhase
	Volume    float64 // open event deficit volume
	Duration  int     // open event duration, pooled gaps included
	Gap       int     // consecutive surplus steps while pending
	Interval  int     // surplus steps preceding the open event
	SinceLast int     // surplus steps since the last qualifying event
	Accum     float64 // decayed accumulation of closed-event severities
}

// Tracker advances PixelStates through the Surplus → InDeficit →
// PendingPool machine. Lambda is the pixel's long-run mean number of
// qualifying events per year; severities are divided by it so pixels with
// naturally frequent minor deficits are not over-penalized.
type Tracker struct {
	Params LFIParams
	Lambda float64
}

// Step consumes one observation in chronological order. It returns the
// pixel's index value after the step and the event closed at this step, if
// any.
//
// A no-data threshold disables the pixel outright: the state is untouched
// and the index is no-data. A no-data observation holds the state (no
// transition, no decay) and resumes cleanly when data returns.
func (tr *Tracker) Step(s *PixelState, value, threshold float64) (float64, *Event) {
	if IsNoData(threshold) {
		return math.NaN(), nil
	}
	if IsNoData(value) {
		return tr.index(s), nil
	}

	if d := tr.Params.Decay; d > 0 && d < 1 {
		s.Accum *= d
	}

	below := value < threshold
	deficit := threshold - value
	var closed *Event

	switch s.Phase {
	case PhaseSurplus:
		if below {
			s.Phase = PhaseInDeficit
			s.Volume = deficit
			s.Duration = 1
			s.Interval = s.SinceLast
		} else {
			s.SinceLast++
		}
	case PhaseInDeficit:
		if below {
			s.Volume += deficit
			s.Duration++
		} else {
			s.Phase = PhasePendingPool
			s.Gap = 1
			if s.Gap > tr.Params.PoolingSteps {
				closed = tr.close(s)
			}
		}
	case PhasePendingPool:
		if below {
			// Merge: the gap steps fold into the still-open event.
			s.Duration += s.Gap + 1
			s.Volume += deficit
			s.Gap = 0
			s.Phase = PhaseInDeficit
		} else {
			s.Gap++
			if s.Gap > tr.Params.PoolingSteps {
				closed = tr.close(s)
			}
		}
	}
	return tr.index(s), closed
}

// Flush closes any open event, qualifying or not, and returns it if it
// qualifies. Used at the end of a bounded scan (e.g. computing lambda over
// the history window); a live scoring run leaves open events in the
// checkpoint instead.
func (tr *Tracker) Flush(s *PixelState) *Event {
	if s.Phase == PhaseSurplus {
		return nil
	}
	return tr.close(s)
}

func (tr *Tracker) close(s *PixelState) *Event {
	var ev *Event
	if s.Volume >= tr.Params.MinVolume {
		ev = &Event{Volume: s.Volume, Duration: s.Duration, Interval: s.Interval}
		if tr.Lambda > 0 {
			s.Accum += s.Volume / tr.Lambda
		}
		s.SinceLast = s.Gap
	} else {
		// Immaterial event: erase it. The surplus counter absorbs the whole
		// episode so the pixel looks like it never left surplus.
		s.SinceLast = s.Interval + s.Duration + s.Gap
	}
	s.Phase = PhaseSurplus
	s.Volume, s.Duration, s.Gap, s.Interval = 0, 0, 0, 0
	return ev
}

// index is the pixel's current LFI value: the decayed accumulation of closed
// events plus the open event's running severity. An open event below the
// materiality threshold contributes nothing, so immaterial dips are
// invisible even while tentatively tracked. Undefined lambda (no qualifying
// historical events) makes the index no-data.
func (tr *Tracker) index(s *PixelState) float64 {
	if !(tr.Lambda > 0) {
		return math.NaN()
	}
	idx := s.Accum
	if s.Volume >= tr.Params.MinVolume {
		idx += s.Volume / tr.Lambda
	}
	return idx
}

// CountEvents scans a complete series against per-step thresholds and
// returns the number of qualifying events, pooling and materiality rules
// applied. An event still open at the end of the series counts if it
// qualifies.
func CountEvents(series, thresholds []float64, params LFIParams) int {
	params.Decay = 1
	tr := Tracker{Params: params, Lambda: 1}
	var s PixelState
	n := 0
	for i := range series {
		if _, ev := tr.Step(&s, series[i], thresholds[i]); ev != nil {
			n++
		}
	}
	if ev := tr.Flush(&s); ev != nil {
		n++
	}
	return n
}

package schedule

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPlan rejects plans that cannot yield a single slot (zero
// credentials or zero requests per day). Callers must refuse to schedule and
// surface a configuration warning rather than silently no-op.
var ErrInvalidPlan = errors.New("schedule: slot plan yields no slots")

const (
	minutesPerDay = 24 * 60

	// devTestLead is how far after SlotPlan.Now the first dev/test slot fires.
	devTestLead = 10 * time.Second

	defaultTestInterval = time.Minute
)

// BuildSlots spreads the plan's rate budget across the daily window.
//
// Production mode emits CredentialCount*RequestsPerDay slots: the first at the
// window start, the last at the window end, the rest linearly interpolated and
// floored to whole minutes. Credential indexes cycle 0..CredentialCount-1 in
// generation order. A window whose end is at or before its start crosses
// midnight.
//
// Dev/test mode ignores the window and emits the same number of recurring
// slots, the first devTestLead after plan.Now, spaced plan.TestInterval apart.
func BuildSlots(p SlotPlan) ([]Slot, error) {
	if p.CredentialCount < 1 || p.RequestsPerDay < 1 {
		return nil, fmt.Errorf("%w: credentials=%d requests/day=%d",
			ErrInvalidPlan, p.CredentialCount, p.RequestsPerDay)
	}
	if p.Mode == ModeDevTest {
		return buildDevSlots(p), nil
	}
	return buildWindowSlots(p)
}

func buildWindowSlots(p SlotPlan) ([]Slot, error) {
	startH, startM, err := parseHHMM(p.Window.Start)
	if err != nil {
		return nil, fmt.Errorf("schedule: window start: %w", err)
	}
	endH, endM, err := parseHHMM(p.Window.End)
	if err != nil {
		return nil, fmt.Errorf("schedule: window end: %w", err)
	}

	startMin := startH*60 + startM
	endMin := endH*60 + endM
	if endMin <= startMin {
		// Window crosses midnight.
		endMin += minutesPerDay
	}
	span := endMin - startMin

	total := p.Total()
	slots := make([]Slot, 0, total)
	for i := 0; i < total; i++ {
		var m int
		switch {
		case i == 0:
			m = startMin
		case i == total-1:
			m = endMin
		default:
			// Floor interpolation keeps slots on whole minutes.
			m = startMin + i*span/(total-1)
		}
		if m >= minutesPerDay {
			m -= minutesPerDay
		}
		slots = append(slots, Slot{
			Hour:            m / 60,
			Minute:          m % 60,
			CredentialIndex: i % p.CredentialCount,
		})
	}
	return slots, nil
}

func buildDevSlots(p SlotPlan) []Slot {
	interval := p.TestInterval
	if interval <= 0 {
		interval = defaultTestInterval
	}
	total := p.Total()
	first := p.Now.UTC().Add(devTestLead)

	slots := make([]Slot, 0, total)
	for i := 0; i < total; i++ {
		at := first.Add(time.Duration(i) * interval)
		slots = append(slots, Slot{
			Hour:            at.Hour(),
			Minute:          at.Minute(),
			Second:          at.Second(),
			CredentialIndex: i % p.CredentialCount,
			Recurring:       true,
			Interval:        interval,
		})
	}
	return slots
}

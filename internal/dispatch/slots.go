package dispatch

import "github.com/Ss-maker786/x-auto-post/internal/domain"

// CurrentSlot finds the slot whose window contains hour. The table is
// evaluated in order, so the first matching window wins when windows
// overlap.
func CurrentSlot(slots []domain.Slot, hour int) (domain.Slot, bool) {
	for _, s := range slots {
		if hour >= s.Start && hour <= s.End {
			return s, true
		}
	}
	return domain.Slot{}, false
}

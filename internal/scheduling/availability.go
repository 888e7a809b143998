package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"
)

type interval struct {
	start time.Time
	end   time.Time
}

func (iv interval) overlaps(other interval) bool {
	return iv.start.Before(other.end) && other.start.Before(iv.end)
}

// mergeWindows sorts the intervals and merges any that overlap or
// touch, so overlapping availability rows for the same day collapse
// into one block before slot partitioning.
func mergeWindows(ivs []interval) []interval {
	if len(ivs) <= 1 {
		return ivs
	}

	sort.Slice(ivs, func(i, j int) bool {
		return ivs[i].start.Before(ivs[j].start)
	})

	merged := []interval{ivs[0]}
	for _, iv := range ivs[1:] {
		last := &merged[len(merged)-1]
		if !iv.start.After(last.end) {
			if iv.end.After(last.end) {
				last.end = iv.end
			}
			continue
		}
		merged = append(merged, iv)
	}

	return merged
}

// Weekday maps time.Weekday onto the schema's 0=Monday .. 6=Sunday
// convention.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// SlotIterator walks a doctor's candidate slots one day at a time,
// querying windows and blocking appointments lazily per day. Reset
// rewinds it to the start of the range; with no intervening state
// change a second pass yields identical slots.
type SlotIterator struct {
	repo    Repository
	doctor  *Doctor
	from    time.Time // midnight of the first day
	to      time.Time // midnight of the last day
	day     time.Time
	pending []Slot
	err     error
	exhaust bool
}

func newSlotIterator(repo Repository, doctor *Doctor, from, to time.Time) *SlotIterator {
	it := &SlotIterator{
		repo:   repo,
		doctor: doctor,
		from:   startOfDay(from),
		to:     startOfDay(to.In(from.Location())),
	}
	it.Reset()
	return it
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Reset rewinds the iterator to the first day of the range.
func (it *SlotIterator) Reset() {
	it.day = it.from
	it.pending = nil
	it.err = nil
	it.exhaust = false
}

// Next returns the next slot in chronological order. It reports false
// when the range is exhausted or an error occurred; check Err after.
func (it *SlotIterator) Next(ctx context.Context) (Slot, bool) {
	for len(it.pending) == 0 {
		if it.exhaust || it.err != nil {
			return Slot{}, false
		}
		if it.day.After(it.to) {
			it.exhaust = true
			return Slot{}, false
		}
		it.pending, it.err = it.resolveDay(ctx, it.day)
		it.day = it.day.AddDate(0, 0, 1)
		if it.err != nil {
			return Slot{}, false
		}
	}

	slot := it.pending[0]
	it.pending = it.pending[1:]
	return slot, true
}

// Err returns the first storage error encountered, if any.
func (it *SlotIterator) Err() error {
	return it.err
}

// Collect drains the iterator. Free filters to free slots only.
func (it *SlotIterator) Collect(ctx context.Context, freeOnly bool) ([]Slot, error) {
	var slots []Slot
	for {
		slot, ok := it.Next(ctx)
		if !ok {
			break
		}
		if freeOnly && !slot.Free {
			continue
		}
		slots = append(slots, slot)
	}
	return slots, it.Err()
}

func (it *SlotIterator) resolveDay(ctx context.Context, day time.Time) ([]Slot, error) {
	windows, err := it.repo.ListWindowsForDay(ctx, it.doctor.ID, Weekday(day))
	if err != nil {
		return nil, fmt.Errorf("list windows: %w", err)
	}

	var ivs []interval
	for _, w := range windows {
		if !w.IsAvailable {
			continue
		}
		ivs = append(ivs, interval{
			start: day.Add(time.Duration(w.StartMinute) * time.Minute),
			end:   day.Add(time.Duration(w.EndMinute) * time.Minute),
		})
	}
	if len(ivs) == 0 {
		return nil, nil
	}
	merged := mergeWindows(ivs)

	dayEnd := day.AddDate(0, 0, 1)
	busy, err := it.repo.ListBlockingByDoctor(ctx, it.doctor.ID, day, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("list blocking appointments: %w", err)
	}

	step := time.Duration(it.doctor.ConsultationDuration) * time.Minute

	var slots []Slot
	for _, win := range merged {
		for cur := win.start; !cur.Add(step).After(win.end); cur = cur.Add(step) {
			slot := Slot{
				DoctorID: it.doctor.ID,
				Start:    cur,
				End:      cur.Add(step),
				Free:     true,
			}
			for _, appt := range busy {
				if (interval{slot.Start, slot.End}).overlaps(interval{appt.StartTime, appt.EndTime()}) {
					slot.Free = false
					break
				}
			}
			slots = append(slots, slot)
		}
	}

	return slots, nil
}

// fitsAvailability reports whether [start, start+duration) lies fully
// inside one of the doctor's merged availability windows for that day.
func fitsAvailability(windows []AvailabilityWindow, start time.Time, duration time.Duration) bool {
	day := startOfDay(start)
	end := start.Add(duration)

	var ivs []interval
	for _, w := range windows {
		if !w.IsAvailable {
			continue
		}
		ivs = append(ivs, interval{
			start: day.Add(time.Duration(w.StartMinute) * time.Minute),
			end:   day.Add(time.Duration(w.EndMinute) * time.Minute),
		})
	}

	for _, iv := range mergeWindows(ivs) {
		if !start.Before(iv.start) && !end.After(iv.end) {
			return true
		}
	}
	return false
}

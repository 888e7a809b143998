package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// ConflictCheck is the result of probing a proposed interval against
// the committed appointment set.
type ConflictCheck struct {
	Conflict       bool
	AppointmentIDs []int64
}

// CheckConflict re-reads the authoritative store and reports every
// blocking appointment that overlaps [start, start+duration) for the
// same doctor or any of the same resources. Intervals are half-open:
// an appointment ending exactly at start does not conflict.
func (s *Service) CheckConflict(ctx context.Context, doctorID int64, resourceIDs []int64, start time.Time, duration time.Duration) (ConflictCheck, error) {
	end := start.Add(duration)

	byDoctor, err := s.repo.ListBlockingByDoctor(ctx, doctorID, start, end)
	if err != nil {
		return ConflictCheck{}, fmt.Errorf("blocking by doctor: %w", err)
	}

	seen := make(map[int64]struct{}, len(byDoctor))
	var ids []int64
	for _, appt := range byDoctor {
		if _, dup := seen[appt.ID]; dup {
			continue
		}
		seen[appt.ID] = struct{}{}
		ids = append(ids, appt.ID)
	}

	if len(resourceIDs) > 0 {
		byResource, err := s.repo.ListBlockingByResources(ctx, resourceIDs, start, end)
		if err != nil {
			return ConflictCheck{}, fmt.Errorf("blocking by resources: %w", err)
		}
		for _, appt := range byResource {
			if _, dup := seen[appt.ID]; dup {
				continue
			}
			seen[appt.ID] = struct{}{}
			ids = append(ids, appt.ID)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ConflictCheck{Conflict: len(ids) > 0, AppointmentIDs: ids}, nil
}

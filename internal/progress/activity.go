package progress

// RecordActivity bumps the session count for day, creating the entry at 1.
// The map is modified in place and returned; a nil map is allocated.
func RecordActivity(history map[Day]int, day Day) map[Day]int {
	if history == nil {
		history = map[Day]int{}
	}
	history[day]++
	return history
}

// MergeActivity folds incoming into local keeping the larger count per day,
// so a merge never lowers a day that was already recorded.
func MergeActivity(local, incoming map[Day]int) map[Day]int {
	if local == nil {
		local = map[Day]int{}
	}
	for day, count := range incoming {
		if day.IsZero() || count <= 0 {
			continue
		}
		if count > local[day] {
			local[day] = count
		}
	}
	return local
}

// TotalActivity sums the per-day counts.
func TotalActivity(history map[Day]int) int {
	total := 0
	for _, count := range history {
		total += count
	}
	return total
}

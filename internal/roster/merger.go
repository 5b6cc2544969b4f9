package roster

// MergeResult is the outcome of merging a batch into a roster.
type MergeResult struct {
	Merged     []StudentRecord
	Added      int
	Duplicates int
}

// Merge appends the batch records whose email is neither in existing nor in
// known to a copy of existing. Records already in the roster are left as is.
func Merge(existing []StudentRecord, known map[string]struct{}, batch []StudentRecord) MergeResult {
	seen := make(map[string]struct{}, len(existing)+len(known)+len(batch))
	for email := range known {
		seen[email] = struct{}{}
	}
	merged := make([]StudentRecord, 0, len(existing)+len(batch))
	for _, r := range existing {
		seen[r.Email] = struct{}{}
		merged = append(merged, r)
	}

	result := MergeResult{}
	for _, r := range batch {
		if _, dup := seen[r.Email]; dup {
			result.Duplicates++
			continue
		}
		seen[r.Email] = struct{}{}
		merged = append(merged, r.clone())
		result.Added++
	}
	result.Merged = merged
	return result
}

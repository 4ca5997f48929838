package race

// MergeFaults merges incoming faults into local and reports whether anything
// changed. The merge is idempotent: applying the same incoming list twice
// yields the same result as applying it once, and never duplicates version
// history entries.
//
// Conflict rule: a fault with the same id replaces the local copy only when
// its CurrentVersion is strictly higher. Equal or lower versions keep the
// local copy, so a device's own unsynced edits are never clobbered by a
// stale pull.
func MergeFaults(local []Fault, incoming []Fault) ([]Fault, bool) {
	byID := make(map[string]int, len(local))
	for i, f := range local {
		byID[f.ID] = i
	}

	merged := make([]Fault, len(local))
	copy(merged, local)

	changed := false
	for _, in := range incoming {
		if in.ID == "" {
			continue
		}
		i, ok := byID[in.ID]
		if !ok {
			byID[in.ID] = len(merged)
			merged = append(merged, in)
			changed = true
			continue
		}
		if in.CurrentVersion > merged[i].CurrentVersion {
			// Keep the local soft-delete mark through a replace so an
			// in-flight delete stays visually distinguishable.
			in.MarkedForDeletion = in.MarkedForDeletion || merged[i].MarkedForDeletion
			merged[i] = in
			changed = true
		}
	}

	return merged, changed
}

// PurgeFaults removes every fault whose id appears in deletedIDs.
func PurgeFaults(faults []Fault, deletedIDs []string) ([]Fault, bool) {
	if len(deletedIDs) == 0 {
		return faults, false
	}
	deleted := make(map[string]struct{}, len(deletedIDs))
	for _, id := range deletedIDs {
		deleted[id] = struct{}{}
	}

	kept := faults[:0:0]
	for _, f := range faults {
		if _, gone := deleted[f.ID]; !gone {
			kept = append(kept, f)
		}
	}
	return kept, len(kept) != len(faults)
}

// AppendVersion appends a history snapshot and bumps CurrentVersion.
func (f *Fault) AppendVersion(changeType, editedBy, editedByDeviceID string, at int64) {
	f.CurrentVersion++
	snapshot := *f
	snapshot.VersionHistory = nil
	f.VersionHistory = append(f.VersionHistory, FaultVersion{
		Version:          f.CurrentVersion,
		Timestamp:        at,
		EditedBy:         editedBy,
		EditedByDeviceID: editedByDeviceID,
		ChangeType:       changeType,
		Data:             snapshot,
	})
}

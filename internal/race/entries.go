package race

// effectiveRun treats a missing run on older entries as run 1.
func effectiveRun(run int) int {
	if run == 0 {
		return 1
	}
	return run
}

// IsDuplicateEntry reports whether candidate describes the same physical
// event as one of the existing entries: identical bib, point and run.
// An empty bib never matches, even against another empty bib.
func IsDuplicateEntry(candidate Entry, existing []Entry) bool {
	if candidate.Bib == "" {
		return false
	}
	for _, e := range existing {
		if e.Bib == candidate.Bib &&
			e.Point == candidate.Point &&
			effectiveRun(e.Run) == effectiveRun(candidate.Run) {
			return true
		}
	}
	return false
}

// NormalizeBib zero-pads a bib to three digits. Bibs already three or more
// characters long pass through unchanged.
func NormalizeBib(bib string) string {
	if bib == "" {
		return bib
	}
	for len(bib) < 3 {
		bib = "0" + bib
	}
	return bib
}

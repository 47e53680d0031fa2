package attendance

// Merge unions the records of the previous cycles with the new ones.
// Records are deduplicated by key, the earlier one wins. Untagged prior records of
// transferred students are tagged with the student's previous group first.
// Merging the same records again does not change the result.
func Merge(prior, fresh []ValidatedRecord, transfers map[string]TransferInference) []ValidatedRecord {
	acc := NewAccumulator()
	for _, r := range prior {
		if r.ValidatedAgainst == "" {
			if ti, ok := transfers[r.StudentID]; ok {
				r.ValidatedAgainst = ti.PreviousGroup
			}
		}
		acc.Add(r)
	}
	for _, r := range fresh {
		acc.Add(r)
	}
	return acc.Records()
}

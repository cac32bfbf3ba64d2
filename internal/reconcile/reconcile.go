// Package reconcile diffs two generations of chunk records by content hash.
package reconcile

import "github.com/hyperjump/ragsync/internal/models"

// Reconcile computes what must be added to and removed from the index to move it
// from previous to current. Identity is the content hash, so a chunk that only changed
// source is neither added nor deleted. Both lists keep first occurrences in input order
// and contain each hash at most once.
func Reconcile(previous, current []models.ChunkRecord) models.ReconciliationResult {
	if len(previous) == 0 {
		return models.ReconciliationResult{ToAdd: distinct(current)}
	}

	prevHashes := hashSet(previous)
	currHashes := hashSet(current)

	var result models.ReconciliationResult
	seen := make(map[string]struct{}, len(current))
	for _, rec := range current {
		if _, dup := seen[rec.Hash]; dup {
			continue
		}
		seen[rec.Hash] = struct{}{}
		if _, ok := prevHashes[rec.Hash]; ok {
			result.Unchanged++
			continue
		}
		result.ToAdd = append(result.ToAdd, rec)
	}

	seen = make(map[string]struct{}, len(previous))
	for _, rec := range previous {
		if _, dup := seen[rec.Hash]; dup {
			continue
		}
		seen[rec.Hash] = struct{}{}
		if _, ok := currHashes[rec.Hash]; !ok {
			result.ToDelete = append(result.ToDelete, rec)
		}
	}
	return result
}

// Distinct returns records with duplicate hashes removed, keeping the first occurrence.
func Distinct(records []models.ChunkRecord) []models.ChunkRecord {
	return distinct(records)
}

func distinct(records []models.ChunkRecord) []models.ChunkRecord {
	if len(records) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(records))
	out := make([]models.ChunkRecord, 0, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.Hash]; dup {
			continue
		}
		seen[rec.Hash] = struct{}{}
		out = append(out, rec)
	}
	return out
}

func hashSet(records []models.ChunkRecord) map[string]struct{} {
	set := make(map[string]struct{}, len(records))
	for _, rec := range records {
		set[rec.Hash] = struct{}{}
	}
	return set
}

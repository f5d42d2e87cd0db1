package nn

import (
	flatbush "github.com/bmharper/flatbush-go"
)

// SuppressNonMaxima removes every box that has an IoU of at least minIoU with
// a more confident box of the same class.
// The result is sorted by descending confidence.
func SuppressNonMaxima(input BoxSet, minIoU float32) BoxSet {
	if len(input) == 0 {
		return BoxSet{}
	}
	sorted := input.Clone()
	sorted.SortByConfidence()

	// Create spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(sorted))
	for _, b := range sorted {
		fb.Add(b.Bounds())
	}
	fb.Finish()

	deleted := make([]bool, len(sorted))
	kept := make([]bool, len(sorted))
	retain := make(BoxSet, 0, len(sorted))
	near := []int{}
	for i, b := range sorted {
		if deleted[i] {
			continue
		}
		kept[i] = true
		retain = append(retain, b)
		x1, y1, x2, y2 := b.Bounds()
		near = fb.SearchFast(x1, y1, x2, y2, near)
		for _, j := range near {
			// Boxes earlier in the order have already been decided
			if kept[j] || deleted[j] {
				continue
			}
			if sorted[j].Class != b.Class {
				continue
			}
			if b.Match(sorted[j]) >= minIoU {
				deleted[j] = true
			}
		}
	}
	return retain
}

// Package selector picks an even temporal spread of frames for encoding.
// Selection is pure: it never touches the database or the filesystem.
package selector

import (
	"sort"

	"github.com/camlapse/camlapse/internal/model"
)

// Select groups frames into hour buckets and takes up to framesPerHour from
// each, evenly spaced by index. Within a bucket of m frames and a target of
// k = min(framesPerHour, m), the chosen indices are floor(i*m/k) for
// i in [0, k): the first frame of a bucket is always chosen and the spacing
// rounds down. Output preserves capture order across buckets.
func Select(frames []model.Frame, framesPerHour int) []model.Frame {
	if framesPerHour < 1 || len(frames) == 0 {
		return nil
	}

	buckets := make(map[string][]model.Frame)
	var keys []string
	for _, f := range frames {
		key := f.CapturedAt.Format("2006010215")
		if _, ok := buckets[key]; !ok {
			keys = append(keys, key)
		}
		buckets[key] = append(buckets[key], f)
	}
	sort.Strings(keys)

	var selected []model.Frame
	for _, key := range keys {
		bucket := buckets[key]
		m := len(bucket)
		k := framesPerHour
		if m < k {
			k = m
		}
		step := float64(m) / float64(k)
		for i := 0; i < k; i++ {
			selected = append(selected, bucket[int(float64(i)*step)])
		}
	}
	return selected
}

package replay

import "time"

// Segment is the span between two START markers.
type Segment struct {
	Index    int
	Tx, Rx   int
	Duration time.Duration
	Records  []Record
}

// Segments splits records at START markers. Records before the first START
// form segment 0.
func Segments(records []Record) []Segment {
	var out []Segment
	cur := Segment{}
	flush := func() {
		if len(cur.Records) > 0 {
			cur.Index = len(out)
			out = append(out, cur)
		}
		cur = Segment{}
	}
	for _, r := range records {
		if r.IsStart() {
			flush()
			continue
		}
		cur.Records = append(cur.Records, r)
		if r.Dir == "tx" {
			cur.Tx++
		} else {
			cur.Rx++
		}
		if r.At > cur.Duration {
			cur.Duration = r.At
		}
	}
	flush()
	return out
}

package world

import "time"

// minScale replaces non-positive virtual-time scales so the age math
// never divides by zero or runs backwards.
const minScale = 0.1

// Age is a virtual-time age breakdown plus the anchors it was computed
// from. It is derived fresh on every call, never stored or counted.
type Age struct {
	Years   int `json:"years"`
	Days    int `json:"days"`
	Hours   int `json:"hours"`
	Minutes int `json:"minutes"`

	SinceReal  time.Time `json:"since_real"`
	NowReal    time.Time `json:"now_real"`
	NowVirtual time.Time `json:"now_virtual"`
	Scale      float64   `json:"scale"`
}

// ComputeAge is the pure virtual-age function: virtual elapsed time is
// (now - birth) * scale, decomposed into years/days/hours/minutes. A
// birth after now counts as zero elapsed; scale <= 0 falls back to
// [minScale].
func ComputeAge(birth, now time.Time, scale float64) Age {
	if scale <= 0 {
		scale = minScale
	}

	real := now.Sub(birth)
	if real < 0 {
		real = 0
	}
	virtSeconds := int64(real.Seconds() * scale)

	days := virtSeconds / 86400
	rem := virtSeconds % 86400

	return Age{
		Years:      int(days / 365),
		Days:       int(days % 365),
		Hours:      int(rem / 3600),
		Minutes:    int(rem % 3600 / 60),
		SinceReal:  birth,
		NowReal:    now,
		NowVirtual: birth.Add(time.Duration(virtSeconds) * time.Second),
		Scale:      scale,
	}
}

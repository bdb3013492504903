package viewport

// ResolveSpread returns the slots visible together for page.
//
// In TwoUp mode pages pair on even/odd boundaries, shifted by one when
// padStart is set so that page 0 sits beside a leading Blank. Slots are
// ordered left to right as painted: left,right for LTR and right,left for RTL.
func ResolveSpread(page int, mode Mode, dir Direction, padStart bool, pageCount int) Spread {
	if pageCount <= 0 {
		return nil
	}
	page = clampInt(page, 0, pageCount-1)
	if mode != TwoUp {
		return Spread{Slot(page)}
	}

	shift := 0
	if padStart {
		shift = 1
	}
	v := page + shift
	base := v - v%2
	left, right := base-shift, base+1-shift

	keep := func(i int) (Slot, bool) {
		if i >= 0 && i < pageCount {
			return Slot(i), true
		}
		if i == -1 && padStart {
			return Blank, true
		}
		return 0, false
	}

	order := [2]int{left, right}
	if dir == RTL {
		order = [2]int{right, left}
	}
	out := make(Spread, 0, 2)
	for _, i := range order {
		if s, ok := keep(i); ok {
			out = append(out, s)
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

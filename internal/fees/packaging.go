package fees

// Package is the recommended packaging for a shipment.
type Package struct {
	Carrier Method `json:"carrier"`
	Size    string `json:"size"`
	Count   int    `json:"count"`
	// Manual marks a package staff must quote by hand (LBC Medium Box).
	Manual bool `json:"manual,omitempty"`
}

type tier struct {
	size     string
	capacity int
	rates    map[Region]int64
}

// J&T pouches, ascending. Rates in centavos.
var jntPouches = []tier{
	{"SMALL_POUCH", 4, map[Region]int64{RegionMetroManila: 8500, RegionLuzon: 9500, RegionVisayas: 10500, RegionMindanao: 11500}},
	{"MEDIUM_POUCH", 8, map[Region]int64{RegionMetroManila: 12000, RegionLuzon: 13500, RegionVisayas: 15000, RegionMindanao: 16500}},
	{"LARGE_POUCH", 16, map[Region]int64{RegionMetroManila: 18000, RegionLuzon: 20000, RegionVisayas: 22000, RegionMindanao: 24000}},
	{"BOX", 32, map[Region]int64{RegionMetroManila: 26000, RegionLuzon: 29000, RegionVisayas: 32000, RegionMindanao: 35000}},
}

// LBC tiers, ascending. Anything larger is a manual Medium Box.
var lbcTiers = []tier{
	{"N_SAKTO", 4, map[Region]int64{RegionMetroManila: 11500, RegionLuzon: 13500, RegionVisayas: 15500, RegionMindanao: 16500}},
	{"MINI_BOX", 8, map[Region]int64{RegionMetroManila: 15000, RegionLuzon: 18500, RegionVisayas: 21000, RegionMindanao: 22500}},
	{"SMALL_BOX", 16, map[Region]int64{RegionMetroManila: 21000, RegionLuzon: 26000, RegionVisayas: 29500, RegionMindanao: 31500}},
}

const lbcManualSize = "MEDIUM_BOX"

// Load aggregates piece counts per ship class.
type Load map[ShipClass]int

func LoadOf(lines []Line) Load {
	l := Load{}
	for _, ln := range lines {
		if ln.Qty > 0 {
			l[ln.ShipClass] += ln.Qty
		}
	}
	return l
}

func (l Load) units() int {
	n := 0
	for c, qty := range l {
		n += c.units() * qty
	}
	return n
}

// RecommendPouch picks the smallest J&T pouch that holds the load. Loads larger
// than one box are split across several boxes.
func RecommendPouch(l Load) Package {
	u := l.units()
	if u == 0 {
		return Package{Carrier: MethodJNT, Size: jntPouches[0].size}
	}
	for _, t := range jntPouches {
		if u <= t.capacity {
			return Package{Carrier: MethodJNT, Size: t.size, Count: 1}
		}
	}
	box := jntPouches[len(jntPouches)-1]
	return Package{Carrier: MethodJNT, Size: box.size, Count: (u + box.capacity - 1) / box.capacity}
}

// RecommendLBC walks the LBC tiers; ok is false when nothing fits.
func RecommendLBC(l Load) (pkg Package, ok bool) {
	u := l.units()
	for _, t := range lbcTiers {
		if u <= t.capacity {
			n := 1
			if u == 0 {
				n = 0
			}
			return Package{Carrier: MethodLBC, Size: t.size, Count: n}, true
		}
	}
	return Package{Carrier: MethodLBC, Size: lbcManualSize, Count: 1, Manual: true}, false
}

func rate(tiers []tier, size string, r Region) int64 {
	for _, t := range tiers {
		if t.size == size {
			return t.rates[r]
		}
	}
	return 0
}

package fees

type Method string

const (
	MethodJNT      Method = "JNT"
	MethodLBC      Method = "LBC"
	MethodLalamove Method = "LALAMOVE"
	MethodPickup   Method = "PICKUP"
)

func (m Method) Valid() bool {
	switch m {
	case MethodJNT, MethodLBC, MethodLalamove, MethodPickup:
		return true
	}
	return false
}

type Region string

const (
	RegionMetroManila Region = "METRO_MANILA"
	RegionLuzon       Region = "LUZON"
	RegionVisayas     Region = "VISAYAS"
	RegionMindanao    Region = "MINDANAO"
)

func (r Region) Valid() bool {
	switch r {
	case RegionMetroManila, RegionLuzon, RegionVisayas, RegionMindanao:
		return true
	}
	return false
}

// ShipClass tags a variant with how it packs.
type ShipClass string

const (
	ClassMiniGT  ShipClass = "MINI_GT"
	ClassKaido   ShipClass = "KAIDO"
	ClassBlister ShipClass = "BLISTER"
	ClassDiorama ShipClass = "DIORAMA"
)

// LalamoveOnly reports whether the class can only travel by Lalamove.
func (c ShipClass) LalamoveOnly() bool { return c == ClassDiorama }

// units is the packing load of one piece; pouch and box capacities use the same scale.
func (c ShipClass) units() int {
	switch c {
	case ClassKaido:
		return 4
	case ClassBlister:
		return 3
	case ClassDiorama:
		return 8
	default:
		return 2
	}
}

// Line is one priced cart line as the calculator sees it. Amounts are centavos.
type Line struct {
	VariantID string
	Qty       int
	UnitPrice int64
	ShipClass ShipClass
}

type Options struct {
	// COP is LBC cash-on-pickup: the courier fee is paid at the branch.
	COP bool

	PriorityRequested bool
	PriorityAvailable bool

	InsuranceSelected bool
	// InsuranceFee overrides the suggested amount when set.
	InsuranceFee *int64
}

// FeeLine is a receipt row. Muted rows are shown but not charged online.
type FeeLine struct {
	Code   string `json:"code"`
	Label  string `json:"label"`
	Amount int64  `json:"amount"`
	Muted  bool   `json:"muted,omitempty"`
}

const (
	LineShipping  = "SHIPPING"
	LineCOP       = "COP"
	LineLalamove  = "LALAMOVE"
	LinePriority  = "PRIORITY"
	LineInsurance = "INSURANCE"
	LineRush      = "RUSH"
)

type Breakdown struct {
	Subtotal     int64 `json:"subtotal"`
	ShippingFee  int64 `json:"shipping_fee"`
	COPFee       int64 `json:"cop_fee"`
	LalamoveFee  int64 `json:"lalamove_fee"`
	PriorityFee  int64 `json:"priority_fee"`
	InsuranceFee int64 `json:"insurance_fee"`
	Total        int64 `json:"total"`

	SuggestedInsurance int64     `json:"suggested_insurance"`
	Package            *Package  `json:"package,omitempty"`
	Warnings           []string  `json:"warnings,omitempty"`
	Lines              []FeeLine `json:"lines"`
}

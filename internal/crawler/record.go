package crawler

// Record is the normalized representation of one listing. Optional
// attributes are pointers and stay nil when the payload lacks them.
type Record struct {
	ID      int64  `json:"id"`
	URL     string `json:"url"`
	Session string `json:"session,omitempty"`

	TransactionType *string  `json:"transaction_type,omitempty"`
	Price           *float64 `json:"price,omitempty"`

	Type            *string `json:"type,omitempty"`
	Subtype         *string `json:"subtype,omitempty"`
	BedroomCount    *int    `json:"bedroom_count,omitempty"`
	BathroomCount   *int    `json:"bathroom_count,omitempty"`
	ShowerRoomCount *int    `json:"showerroom_count,omitempty"`

	Region       *string `json:"region,omitempty"`
	Province     *string `json:"province,omitempty"`
	District     *string `json:"district,omitempty"`
	Locality     *string `json:"locality,omitempty"`
	PostalCode   *string `json:"postal_code,omitempty"`
	StreetName   *string `json:"street_name,omitempty"`
	StreetNumber *string `json:"street_number,omitempty"`

	Facades          *int    `json:"facades,omitempty"`
	Condition        *string `json:"condition,omitempty"`
	ConstructionYear *int    `json:"construction_year,omitempty"`

	LivingSurface  *float64 `json:"living_surface,omitempty"`
	GardenSurface  *float64 `json:"garden_surface,omitempty"`
	TerraceSurface *float64 `json:"terrace_surface,omitempty"`

	Attic        *bool `json:"attic,omitempty"`
	Basement     *bool `json:"basement,omitempty"`
	SwimmingPool *bool `json:"swimming_pool,omitempty"`
	Fireplace    *bool `json:"fireplace,omitempty"`
	FitnessRoom  *bool `json:"fitness_room,omitempty"`
	TennisCourt  *bool `json:"tennis_court,omitempty"`
	Sauna        *bool `json:"sauna,omitempty"`
	Jacuzzi      *bool `json:"jacuzzi,omitempty"`
	Hammam       *bool `json:"hammam,omitempty"`
}

var recordColumns = []string{
	"id", "url", "session",
	"transaction_type", "price",
	"type", "subtype", "bedroom_count", "bathroom_count", "showerroom_count",
	"region", "province", "district", "locality", "postal_code", "street_name", "street_number",
	"facades", "condition", "construction_year",
	"living_surface", "garden_surface", "terrace_surface",
	"attic", "basement", "swimming_pool", "fireplace", "fitness_room",
	"tennis_court", "sauna", "jacuzzi", "hammam",
}

// Columns returns the table columns in the order Values produces them
func Columns() []string {
	out := make([]string, len(recordColumns))
	copy(out, recordColumns)
	return out
}

// Values returns one cell per column. Unset optionals are nil.
func (r *Record) Values() []any {
	return []any{
		r.ID, r.URL, r.Session,
		deref(r.TransactionType), deref(r.Price),
		deref(r.Type), deref(r.Subtype), deref(r.BedroomCount), deref(r.BathroomCount), deref(r.ShowerRoomCount),
		deref(r.Region), deref(r.Province), deref(r.District), deref(r.Locality),
		deref(r.PostalCode), deref(r.StreetName), deref(r.StreetNumber),
		deref(r.Facades), deref(r.Condition), deref(r.ConstructionYear),
		deref(r.LivingSurface), deref(r.GardenSurface), deref(r.TerraceSurface),
		deref(r.Attic), deref(r.Basement), deref(r.SwimmingPool), deref(r.Fireplace), deref(r.FitnessRoom),
		deref(r.TennisCourt), deref(r.Sauna), deref(r.Jacuzzi), deref(r.Hammam),
	}
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// ListingReference is a discovered listing URL
type ListingReference struct {
	URL string
}

package crawler

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"sjsage522/immoworker/pkg/errors"

	"github.com/PuerkitoBio/goquery"
)

var (
	payloadStart = regexp.MustCompile(`^\s*window\.classified\s*=\s*`)
	payloadEnd   = regexp.MustCompile(`;\s*$`)
)

// Property types describing multi-unit developments rather than one listing
const (
	HouseGroup     = "HOUSE_GROUP"
	ApartmentGroup = "APARTMENT_GROUP"
)

// Extraction is the outcome of a successful extraction: either a Record or
// an intentional exclusion of a group listing.
type Extraction struct {
	Record       *Record
	Excluded     bool
	PropertyType string
}

type classifiedPayload struct {
	ID          *int64              `json:"id"`
	Transaction *transactionPayload `json:"transaction"`
	Property    *propertyPayload    `json:"property"`
}

type transactionPayload struct {
	Type *string `json:"type"`
	Sale *struct {
		Price *float64 `json:"price"`
	} `json:"sale"`
}

type propertyPayload struct {
	Type            *string          `json:"type"`
	Subtype         *string          `json:"subtype"`
	BedroomCount    *int             `json:"bedroomCount"`
	BathroomCount   *int             `json:"bathroomCount"`
	ShowerRoomCount *int             `json:"showerRoomCount"`
	Location        *locationPayload `json:"location"`
	Building        *buildingPayload `json:"building"`

	NetHabitableSurface *float64 `json:"netHabitableSurface"`
	GardenSurface       *float64 `json:"gardenSurface"`
	TerraceSurface      *float64 `json:"terraceSurface"`

	HasAttic        *bool `json:"hasAttic"`
	HasBasement     *bool `json:"hasBasement"`
	HasSwimmingPool *bool `json:"hasSwimmingPool"`
	FireplaceExists *bool `json:"fireplaceExists"`
	HasFitnessRoom  *bool `json:"hasFitnessRoom"`
	HasTennisCourt  *bool `json:"hasTennisCourt"`
	HasSauna        *bool `json:"hasSauna"`
	HasJacuzzi      *bool `json:"hasJacuzzi"`
	HasHammam       *bool `json:"hasHammam"`
}

type locationPayload struct {
	Region     *string `json:"region"`
	Province   *string `json:"province"`
	District   *string `json:"district"`
	Locality   *string `json:"locality"`
	PostalCode *string `json:"postalCode"`
	Street     *string `json:"street"`
	Number     *string `json:"number"`
}

type buildingPayload struct {
	FacadeCount      *int    `json:"facadeCount"`
	Condition        *string `json:"condition"`
	ConstructionYear *int    `json:"constructionYear"`
}

// Extract locates the classified payload in a listing page and normalizes it.
// It depends only on its arguments: the same bytes always give the same result.
func Extract(url string, html []byte) (Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Extraction{}, errors.NewMalformedPayload(url, "HTML parsing error", err)
	}

	raw, ok := findPayload(doc)
	if !ok {
		return Extraction{}, errors.NewPayloadNotFound(url)
	}

	var p classifiedPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Extraction{}, errors.NewMalformedPayload(url, "failed to decode classified payload", err)
	}

	propertyType := ""
	if p.Property != nil && p.Property.Type != nil {
		propertyType = *p.Property.Type
	}
	if propertyType == HouseGroup || propertyType == ApartmentGroup {
		return Extraction{Excluded: true, PropertyType: propertyType}, nil
	}

	if p.ID == nil {
		return Extraction{}, errors.NewMalformedPayload(url, "classified payload has no id", nil)
	}

	return Extraction{Record: p.toRecord(url), PropertyType: propertyType}, nil
}

// findPayload returns the payload text of the first script assigning window.classified
func findPayload(doc *goquery.Document) (string, bool) {
	var raw string
	found := false
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		loc := payloadStart.FindStringIndex(text)
		if loc == nil {
			return true
		}
		raw = payloadEnd.ReplaceAllString(text[loc[1]:], "")
		found = true
		return false
	})
	return strings.TrimSpace(raw), found
}

func (p *classifiedPayload) toRecord(url string) *Record {
	r := &Record{ID: *p.ID, URL: url}

	if t := p.Transaction; t != nil {
		r.TransactionType = t.Type
		if t.Sale != nil {
			r.Price = t.Sale.Price
		}
	}

	prop := p.Property
	if prop == nil {
		return r
	}

	r.Type = prop.Type
	r.Subtype = prop.Subtype
	r.BedroomCount = prop.BedroomCount
	r.BathroomCount = prop.BathroomCount
	r.ShowerRoomCount = prop.ShowerRoomCount

	if loc := prop.Location; loc != nil {
		r.Region = loc.Region
		r.Province = loc.Province
		r.District = loc.District
		r.Locality = loc.Locality
		r.PostalCode = loc.PostalCode
		r.StreetName = loc.Street
		r.StreetNumber = loc.Number
	}

	if b := prop.Building; b != nil {
		r.Facades = b.FacadeCount
		r.Condition = b.Condition
		r.ConstructionYear = b.ConstructionYear
	}

	r.LivingSurface = prop.NetHabitableSurface
	r.GardenSurface = prop.GardenSurface
	r.TerraceSurface = prop.TerraceSurface

	r.Attic = prop.HasAttic
	r.Basement = prop.HasBasement
	r.SwimmingPool = prop.HasSwimmingPool
	r.Fireplace = prop.FireplaceExists
	r.FitnessRoom = prop.HasFitnessRoom
	r.TennisCourt = prop.HasTennisCourt
	r.Sauna = prop.HasSauna
	r.Jacuzzi = prop.HasJacuzzi
	r.Hammam = prop.HasHammam

	return r
}

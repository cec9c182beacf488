package scoring

import (
	"strings"
)

// Issue categories accepted on submission
const (
	CategoryRoadRepair      = "Road Repair"
	CategoryStreetlight     = "Streetlight Outage"
	CategoryWasteManagement = "Waste Management"
	CategoryWaterLeakage    = "Water Leakage"
	CategoryPublicNuisance  = "Public Nuisance"
	CategoryDrainage        = "Drainage"
	CategoryFlood           = "Flood"
	CategoryOther           = "Other"
)

// Categories is the closed set, in display order
var Categories = []string{
	CategoryRoadRepair,
	CategoryStreetlight,
	CategoryWasteManagement,
	CategoryWaterLeakage,
	CategoryPublicNuisance,
	CategoryDrainage,
	CategoryFlood,
	CategoryOther,
}

// DefaultSeverityTable is the base urgency per category
var DefaultSeverityTable = map[string]int{
	CategoryFlood:           40,
	CategoryWaterLeakage:    25,
	CategoryRoadRepair:      20,
	CategoryDrainage:        20,
	CategoryWasteManagement: 20,
	CategoryStreetlight:     15,
	CategoryPublicNuisance:  10,
	CategoryOther:           10,
}

// inference keywords, checked in order; first hit wins
var categoryKeywords = []struct {
	category string
	words    []string
}{
	{CategoryFlood, []string{"flood", "waterlogg", "inundat"}},
	{CategoryWaterLeakage, []string{"leak", "pipe burst", "water supply", "tap"}},
	{CategoryDrainage, []string{"drain", "sewage", "sewer", "manhole"}},
	{CategoryRoadRepair, []string{"pothole", "road", "footpath", "pavement"}},
	{CategoryWasteManagement, []string{"garbage", "waste", "trash", "litter", "dump"}},
	{CategoryStreetlight, []string{"streetlight", "street light", "lamp", "electric"}},
	{CategoryPublicNuisance, []string{"noise", "nuisance", "stray", "encroach"}},
}

// NormalizeCategory maps raw input onto the closed category set.
// Unknown values fall back to keyword inference over title and description, then Other.
func NormalizeCategory(raw, title, description string) string {
	trimmed := strings.TrimSpace(raw)
	for _, c := range Categories {
		if strings.EqualFold(trimmed, c) {
			return c
		}
	}
	return InferCategory(trimmed + " " + title + " " + description)
}

// InferCategory guesses a category from free text
func InferCategory(text string) string {
	text = strings.ToLower(text)
	for _, ck := range categoryKeywords {
		for _, w := range ck.words {
			if strings.Contains(text, w) {
				return ck.category
			}
		}
	}
	return CategoryOther
}

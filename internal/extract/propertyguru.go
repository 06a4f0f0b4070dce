package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Candidate path lists for the PropertyGuru payload shape. Order encodes
// observed variations: the overview block first, then listingData fallbacks.
var (
	pgURLPaths   = []string{"listingData.url"}
	pgTitlePaths = []string{"listingData.localizedTitle", "listingData.title"}

	pgPropertyTypePaths = []string{
		"propertyOverviewData.propertyInfo.propertyType",
		"listingData.propertyType",
		"listingData.property.typeText",
		"listingData.property.type",
	}
	pgAddressPaths = []string{
		"propertyOverviewData.propertyInfo.fullAddress",
		"listingData.displayAddress",
		"listingData.address",
		"listingData.property.addressText",
	}
	pgStatePaths = []string{
		"propertyOverviewData.propertyInfo.stateName",
		"listingData.property.stateName",
		"listingData.stateName",
	}
	pgDistrictPaths = []string{
		"propertyOverviewData.propertyInfo.districtName",
		"listingData.property.districtName",
		"listingData.districtName",
		"listingData.districtText",
	}
	pgSubareaPaths = []string{
		"propertyOverviewData.propertyInfo.areaName",
		"listingData.property.areaName",
		"listingData.areaName",
		"listingData.areaText",
	}
	pgListerNamePaths = []string{
		"contactAgentData.contactAgentCard.agentInfoProps.agent.name",
		"listingData.agent.name",
	}
	pgListerURLPaths = []string{
		"contactAgentData.contactAgentCard.agentInfoProps.agent.profileUrl",
		"listingData.agent.profileUrl",
		"listingData.agent.url",
	}
	pgPhonePaths = []string{
		"contactAgentData.contactAgentCard.agentInfoProps.agent.mobile",
		"listingData.agent.contactNumbers.0.number",
		"listingData.agent.contactNumbers.0.displayNumber",
		"listingData.agent.phoneNumber",
		"listingData.agent.mobile",
		"listingData.agent.contactNumber",
	}
	pgAgencyNamePaths = []string{
		"contactAgentData.contactAgentCard.agency.name",
		"listingData.agent.agency.name",
		"listingData.agent.agencyName",
	}
	pgAgencyRegPaths = []string{
		"contactAgentData.contactAgentCard.agency.registrationNumber",
		"contactAgentData.contactAgentCard.agency.licenseNo",
		"listingData.agent.agency.registrationNumber",
		"listingData.agent.agency.registrationNo",
		"listingData.agent.agency.regNo",
	}
	pgRenPaths = []string{
		"listingData.agent.licenseNumber",
		"listingData.agent.renNo",
		"listingData.agent.registrationNo",
		"listingData.agent.ren",
		"contactAgentData.contactAgentCard.agentInfoProps.agent.licenseNumber",
	}
	pgRoomsPaths = []string{
		"propertyOverviewData.propertyInfo.bedrooms",
		"listingData.property.bedrooms",
		"listingData.bedrooms",
	}
	pgToiletsPaths = []string{
		"propertyOverviewData.propertyInfo.bathrooms",
		"listingData.property.bathrooms",
		"listingData.bathrooms",
	}
	pgPsfPaths = []string{
		"propertyOverviewData.propertyInfo.price.perSqft",
		"propertyOverviewData.propertyInfo.pricePerSqft",
		"listingData.floorAreaPsf",
	}
	pgFloorAreaPaths = []string{
		"propertyOverviewData.propertyInfo.builtUp.size",
		"propertyOverviewData.propertyInfo.builtUpSqft",
		"listingData.floorArea",
		"listingData.property.builtUpArea",
	}
	pgLandAreaPaths = []string{
		"propertyOverviewData.propertyInfo.landArea.size",
		"propertyOverviewData.propertyInfo.landAreaSqft",
		"listingData.landArea",
		"listingData.property.landArea",
	}
	pgTenurePaths = []string{
		"propertyOverviewData.propertyInfo.tenure",
		"listingData.property.tenure",
		"listingData.tenure",
	}
	pgPropertyTitlePaths = []string{
		"propertyOverviewData.propertyInfo.titleType",
		"listingData.property.titleType",
		"listingData.property.title",
	}
	pgBumiPaths = []string{
		"propertyOverviewData.propertyInfo.bumiLot",
		"listingData.property.bumiLot",
	}
	pgTotalUnitsPaths = []string{
		"propertyOverviewData.propertyInfo.totalUnits",
		"listingData.property.totalUnits",
	}
	pgCompletionYearPaths = []string{
		"propertyOverviewData.propertyInfo.completedYear",
		"propertyOverviewData.propertyInfo.completionYear",
		"listingData.property.completedYear",
		"listingData.property.yearBuilt",
	}
	pgDeveloperPaths = []string{
		"propertyOverviewData.propertyInfo.developer",
		"listingData.property.developer",
	}
)

// PropertyGuru returns the detail-page schema for the primary site.
func PropertyGuru() *Schema {
	s := &Schema{
		Site:   "propertyguru",
		Domain: "https://www.propertyguru.com.my",
	}
	s.Fields = []FieldSpec{
		{Name: "title", Paths: pgTitlePaths},
		{Name: "property_type", Paths: pgPropertyTypePaths},
		{Name: "address", Paths: pgAddressPaths},
		{Name: "state", Paths: pgStatePaths},
		{Name: "subregion", Paths: pgDistrictPaths},
		{Name: "subarea", Paths: pgSubareaPaths},
		{Name: "lister", Paths: pgListerNamePaths},
		{Name: "phone_number", Paths: pgPhonePaths},
		{Name: "agency", Paths: pgAgencyNamePaths},
		{Name: "agency_registration_number", Paths: pgAgencyRegPaths},
		{Name: "ren", Paths: pgRenPaths},
		{Name: "rooms", Paths: pgRoomsPaths},
		{Name: "toilets", Paths: pgToiletsPaths},
		{Name: "price_per_square_feet", Paths: pgPsfPaths, Normalize: DigitsOnly},
		{Name: "build_up", Paths: pgFloorAreaPaths, Normalize: DigitsOnly},
		{Name: "land_area", Paths: pgLandAreaPaths, Normalize: DigitsOnly},
		{Name: "tenure", Paths: pgTenurePaths, Normalize: MapTenure},
		{Name: "property_title", Paths: pgPropertyTitlePaths},
		{Name: "bumi_lot", Paths: pgBumiPaths},
		{Name: "total_units", Paths: pgTotalUnitsPaths},
		{Name: "completion_year", Paths: pgCompletionYearPaths, Normalize: DigitsOnly},
		{Name: "developer", Paths: pgDeveloperPaths},
	}
	s.Finalize = func(rec Record, root map[string]interface{}) {
		rec["url"] = s.makeAbs(Str(PickFirst(root, pgURLPaths)))
		rec["lister_url"] = s.makeAbs(Str(PickFirst(root, pgListerURLPaths)))

		if rec["title"] == "" {
			rec["title"] = Str(Lookup(root, "listingData.property.typeText"))
		}

		if rec["state"] == "" {
			rec["state"] = FindStateInAddress(rec["address"])
		}

		// Location: subarea, district, state when the address confirms
		// district+state; else whatever parts exist; else the bare address.
		subarea, district, state := rec["subarea"], rec["subregion"], rec["state"]
		if rec["address"] != "" && state != "" && district != "" {
			prefix := ""
			if subarea != "" {
				prefix = subarea + ", "
			}
			rec["location"] = prefix + district + ", " + state
		} else {
			var parts []string
			for _, p := range []string{subarea, district, state} {
				if p != "" {
					parts = append(parts, p)
				}
			}
			if len(parts) > 0 {
				rec["location"] = strings.Join(parts, ", ")
			} else {
				rec["location"] = rec["address"]
			}
		}

		// Price prefers numeric fields; pretty text is a last resort.
		priceRaw := PickFirst(root, []string{"listingData.price", "propertyOverviewData.propertyInfo.price.amount"})
		if priceRaw == nil {
			priceRaw = PickFirst(root, []string{"listingData.priceValue"})
		}
		if priceRaw == nil {
			priceRaw = PickFirst(root, []string{"listingData.pricePretty", "listingData.price"})
		}
		rec["price"] = ParseMoney(priceRaw)

		furnishing, _ := extractFurnishing(root)
		rec["furnishing"] = furnishing

		listingID := Str(Lookup(root, "listingData.id"))
		if listingID == "" {
			listingID = Str(Lookup(root, "listingData.listingId"))
		}
		rec["ad_id"] = listingID

		fillFromDetails(root, rec)

		rec["amenities"] = buildAmenities(root)
		rec["facilities"] = buildFacilities(root)
	}
	return s
}

// buildAmenities joins the overview amenity rows, area values rendered
// "value unit", everything else "unit value".
func buildAmenities(root map[string]interface{}) string {
	am, _ := Lookup(root, "propertyOverviewData.propertyInfo.amenities").([]interface{})
	var out []string
	for _, item := range am {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		unit := strings.TrimSpace(Str(m["unit"]))
		value := strings.TrimSpace(Str(m["value"]))
		if unit == "" || value == "" {
			continue
		}
		switch strings.ToLower(unit) {
		case "sqft", "sf":
			out = append(out, value+" "+unit)
		default:
			out = append(out, unit+" "+value)
		}
	}
	return strings.Join(out, "; ")
}

func buildFacilities(root map[string]interface{}) string {
	items, _ := Lookup(root, "facilitiesData.data").([]interface{})
	var out []string
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if t := strings.TrimSpace(Str(m["text"])); t != "" {
			out = append(out, t)
		}
	}
	return strings.Join(out, ", ")
}

// ListRow is one listing surfaced by a search-result page.
type ListRow struct {
	Intent     string
	Segment    string
	URL        string
	Title      string
	ListedUnix int64
	AgentName  string
	AgentID    string
	AdID       string
	Page       int
	ScrapeUnix int64
}

// ExtractListRows walks a search-result payload's listingsData and returns
// one row per listing. A payload without the subtree yields an error; a
// present-but-empty list yields zero rows.
func ExtractListRows(text, intent, segment string, page int) ([]ListRow, error) {
	var doc interface{}
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("payload is not valid JSON: %w", err)
	}
	listings, ok := Lookup(doc, "props.pageProps.pageData.data.listingsData").([]interface{})
	if !ok {
		return nil, ErrMissingRoot
	}

	rows := make([]ListRow, 0, len(listings))
	for _, item := range listings {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		ld, _ := m["listingData"].(map[string]interface{})
		if ld == nil {
			ld = map[string]interface{}{}
		}

		title := Str(ld["localizedTitle"])
		if title == "" {
			title = Str(Lookup(ld, "property.typeText"))
		}

		var listedUnix int64
		posted, _ := ld["postedOn"].(map[string]interface{})
		if posted == nil {
			posted, _ = m["postedOn"].(map[string]interface{})
		}
		if posted != nil {
			if u, ok := posted["unix"].(float64); ok {
				listedUnix = int64(u)
			}
		}

		adID := Str(ld["id"])
		if adID == "" {
			adID = Str(ld["listingId"])
		}
		if adID == "" {
			adID = Str(m["id"])
		}

		rows = append(rows, ListRow{
			Intent:     intent,
			Segment:    segment,
			URL:        Str(ld["url"]),
			Title:      title,
			ListedUnix: listedUnix,
			AgentName:  Str(Lookup(ld, "agent.name")),
			AgentID:    Str(Lookup(ld, "agent.id")),
			AdID:       adID,
			Page:       page,
		})
	}
	return rows, nil
}

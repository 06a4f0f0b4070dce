package extract

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// The sister site shares the payload shape but names fields differently and
// leans on the React-Flight attributes block. Same engine, different schema.

var (
	ipURLPaths = []string{"listingData.shareLink", "listingData.url"}

	ipAddressPaths = []string{
		"propertyOverviewData.propertyInfo.fullAddress",
		"listingData.address",
	}
	ipAgencyNamePaths = []string{
		"contactAgentData.contactAgentCard.agency.name",
		"listingData.agent.agency.name",
	}
	ipAgencyIDPaths = []string{
		"enquiryModalData.agency.id",
		"contactAgentData.contactAgentCard.agency.id",
		"contactAgentData.contactAgentStickyBar.agency.id",
		"organisation.organisationId",
		"organisations.0.id",
	}
	ipListerURLPaths = []string{
		"contactAgentData.contactAgentCard.agentInfoProps.agent.profileUrl",
		"contactAgentData.contactAgentStickyBar.agentInfoProps.agent.profileUrl",
		"listingData.agent.profileUrl",
		"contactAgentData.contactAgentCard.agentInfoProps.agent.website",
		"contactAgentData.contactAgentStickyBar.agentInfoProps.agent.website",
		"listingData.agent.website",
		"listers.0.website",
		"lister.website",
	}
	ipPsfPaths = []string{
		"listingDetail.attributes.pricePerSizeUnitBuiltUp",
		"listingDetail.attributes.minimumPricePerSizeUnitBuiltUp",
		"listingDetail.attributes.maximumPricePerSizeUnitBuiltUp",
		"listingData.floorAreaPsf",
		"listingData.builtUpPsf",
	}
	ipPricePaths = []string{
		"listingData.price",
		"propertyOverviewData.propertyInfo.price.amount",
		"listingData.priceValue",
	}

	ipPhoneAgentBases = []string{
		"contactAgentData.contactAgentCard.agentInfoProps.agent",
		"contactAgentData.contactAgentStickyBar.agentInfoProps.agent",
		"listingData.agent",
	}

	reLicense    = regexp.MustCompile(`(?i)(REN|PEA|REA)\s*[:\-]?\s*(\d{3,7})`)
	reTenureWord = regexp.MustCompile(`(?i)\b(Freehold|Leasehold)(?:\s*tenure)?\b`)
	reMetaNoise  = regexp.MustCompile(`(?i)psf|floor|built`)
	reSqmHint    = regexp.MustCompile(`(?i)m²|sqm|meter`)
	reFurnPhrase = regexp.MustCompile(`(?i)\b(fully\s*furnished|part(?:ly|ially)\s*furnished|unfurnished|bare\s*unit)\b`)
	reFully      = regexp.MustCompile(`(?i)fully\s*furnished`)
	rePartly     = regexp.MustCompile(`(?i)part(?:ly|ially)\s*furnished`)
	reBareUnit   = regexp.MustCompile(`(?i)bare\s*unit`)
	reAmenNoise  = regexp.MustCompile(`(?i)\b(psf|floor|built|tenure|title)\b`)
)

// IProperty returns the detail-page schema for the sister site.
func IProperty() *Schema {
	s := &Schema{
		Site:   "iproperty",
		Domain: "https://www.iproperty.com.my",
	}
	s.Fields = []FieldSpec{
		{Name: "agency_name", Paths: ipAgencyNamePaths},
		{Name: "agency_id", Paths: ipAgencyIDPaths},
	}
	s.Finalize = func(rec Record, root map[string]interface{}) {
		rec["url"] = s.makeAbs(Str(PickFirst(root, ipURLPaths)))
		rec["lister_url"] = s.makeAbs(Str(PickFirst(root, ipListerURLPaths)))
		rec["address"] = NormalizeAddress(Str(PickFirst(root, ipAddressPaths)))

		meta := metatableValues(root)

		rec["tenure"] = ipTenure(meta)

		bedRaw := Str(Lookup(root, "listingDetail.attributes.bedroom"))
		bathRaw := Str(Lookup(root, "listingDetail.attributes.bathroom"))
		rec["bedroom_raw"], rec["bathroom_raw"] = bedRaw, bathRaw
		if n, ok := ParseBedBathToken(bedRaw); ok {
			rec["bedroom"] = fmt.Sprintf("%d", n)
		} else {
			rec["bedroom"] = ""
		}
		if n, ok := ParseBedBathToken(bathRaw); ok {
			rec["bathroom"] = fmt.Sprintf("%d", n)
		} else {
			rec["bathroom"] = ""
		}

		if n := MaxCarPark(meta); n > 0 {
			rec["car_park"] = fmt.Sprintf("%d", n)
		} else {
			rec["car_park"] = ""
		}

		rec["lister_phone"] = ipBestPhone(root)

		furnRaw := Str(Lookup(root, "listingDetail.attributes.furnishing"))
		rec["furnishing_raw"] = furnRaw
		rec["furnishing"] = ipFurnishing(furnRaw, meta)

		rec["license"] = ipLicense(root)
		rec["amenities"] = ipAmenities(root)

		builtRaw := Str(Lookup(root, "listingDetail.attributes.builtUp"))
		unit := Str(Lookup(root, "listingDetail.attributes.sizeUnit"))
		if unit == "" && builtRaw != "" {
			if reSqmHint.MatchString(builtRaw) {
				unit = "sqm"
			} else {
				unit = "sq ft"
			}
		}
		builtVal, hasBuilt := ParseNum(builtRaw)
		if hasBuilt {
			rec["built_up"] = trimFloat(builtVal) + " " + unit
		} else {
			rec["built_up"] = ""
		}

		rec["built_up_psf"] = ipPsf(root, rec, builtVal, hasBuilt, unit)
	}
	return s
}

// ipPsf prefers the payload's own psf figures; otherwise derives one from
// price and built-up area for sale listings, only inside sane bounds so junk
// areas or prices never produce a fabricated number.
func ipPsf(root map[string]interface{}, rec Record, builtVal float64, hasBuilt bool, unit string) string {
	if v := PickFirst(root, ipPsfPaths); v != nil {
		if n, ok := ParseNum(v); ok {
			return fmt.Sprintf("%.2f", n)
		}
	}
	if ipIsRent(root) || !hasBuilt {
		return ""
	}
	price, ok := ParseNum(PickFirst(root, ipPricePaths))
	if !ok || price == 0 {
		return ""
	}
	areaSqft := AreaToSqft(builtVal, unit)
	if areaSqft < 400 || areaSqft > 20000 || price < 10000 || price > 50000000 {
		return ""
	}
	return fmt.Sprintf("%.2f", math.Round(price/areaSqft*100)/100)
}

func ipIsRent(root map[string]interface{}) bool {
	for _, p := range []string{"listingData.listingType", "listingData.purpose", "listingData.transactionType"} {
		if strings.Contains(strings.ToLower(Str(Lookup(root, p))), "rent") {
			return true
		}
	}
	return false
}

func ipTenure(meta []string) string {
	for _, v := range meta {
		if reMetaNoise.MatchString(v) {
			continue
		}
		if m := reTenureWord.FindStringSubmatch(v); m != nil {
			return titleCase(m[1])
		}
	}
	return ""
}

func ipFurnishing(raw string, meta []string) string {
	if raw == "" {
		for _, v := range meta {
			if reMetaNoise.MatchString(v) || strings.Contains(strings.ToLower(v), "title") {
				continue
			}
			if m := reFurnPhrase.FindString(v); m != "" {
				raw = m
				break
			}
		}
	}
	switch {
	case reFully.MatchString(raw):
		return "Fully Furnished"
	case rePartly.MatchString(raw):
		return "Partially Furnished"
	case reBareUnit.MatchString(raw):
		return "Bare unit"
	case strings.Contains(strings.ToLower(raw), "unfurnished"):
		return "Unfurnished"
	}
	return ""
}

// ipBestPhone ranks phone candidates: mobile-labeled first, then numbers in
// international form, then by digit count.
func ipBestPhone(root map[string]interface{}) string {
	type cand struct {
		raw    string
		mobile bool
	}
	var cands []cand
	for _, base := range ipPhoneAgentBases {
		agent, _ := Lookup(root, base).(map[string]interface{})
		if agent == nil {
			continue
		}
		for _, k := range []string{"mobile", "agentMobile", "phone", "phonePretty"} {
			if v := strings.TrimSpace(Str(agent[k])); v != "" {
				cands = append(cands, cand{raw: v, mobile: strings.Contains(strings.ToLower(k), "mobile")})
			}
		}
	}
	if len(cands) == 0 {
		return ""
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.mobile != b.mobile {
			return a.mobile
		}
		ap := strings.HasPrefix(a.raw, "+")
		bp := strings.HasPrefix(b.raw, "+")
		if ap != bp {
			return ap
		}
		return len(DigitsOnly(a.raw)) > len(DigitsOnly(b.raw))
	})
	return cands[0].raw
}

func ipLicense(root map[string]interface{}) string {
	for _, base := range ipPhoneAgentBases {
		agent, _ := Lookup(root, base).(map[string]interface{})
		if agent == nil {
			continue
		}
		for _, k := range []string{"license", "licenseNumber", "renNo", "ren", "registrationNo"} {
			v := strings.TrimSpace(Str(agent[k]))
			if v == "" {
				continue
			}
			if m := reLicense.FindStringSubmatch(v); m != nil {
				return strings.ToUpper(m[1]) + " " + m[2]
			}
		}
	}
	return ""
}

// ipAmenities merges amenitiesData and facilitiesData texts, deduplicated
// case-insensitively, noise rows dropped, capped at 50 entries.
func ipAmenities(root map[string]interface{}) string {
	var raw []string
	for _, p := range []string{"amenitiesData", "facilitiesData.data", "facilitiesData"} {
		arr, _ := Lookup(root, p).([]interface{})
		for _, it := range arr {
			switch v := it.(type) {
			case string:
				raw = append(raw, v)
			case map[string]interface{}:
				if t := firstString(v, "text", "value", "valueText", "name", "label"); t != "" {
					raw = append(raw, t)
				}
			}
		}
	}
	seen := make(map[string]bool)
	var out []string
	for _, x := range raw {
		t := strings.TrimSpace(wsRe.ReplaceAllString(x, " "))
		if t == "" || reAmenNoise.MatchString(t) {
			continue
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
		if len(out) >= 50 {
			break
		}
	}
	return strings.Join(out, "; ")
}

func trimFloat(f float64) string {
	if f == math.Trunc(f) {
		return fmt.Sprintf("%d", int64(f))
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", f), "0"), ".")
}

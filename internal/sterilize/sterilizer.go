// Package sterilize renders structured itinerary data into operator-safe
// text for model training. Exact prices never survive rendering: narrative
// output carries only a widened budget band and markdown output carries
// only a price tier, with a redaction pass catching anything the source
// text smuggled in.
package sterilize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"itinerary_pipeline/internal/domain"
)

const priceRedactionText = "(Contact us for current pricing)"

var priceRedactions = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\$\s?\d[\d,]*(?:\.\d{1,2})?(?:\s*USD)?(?:\s*(?:per\s+night,?\s+per\s+person|per\s+person|per\s+night|per\s+day|pppn|pp\b))?`),
	regexp.MustCompile(`(?i)\b\d[\d,]*(?:\.\d{1,2})?\s*(?:USD|dollars)\b(?:\s*per\s+person)?`),
}

// RedactPrices replaces any concrete price mention with a neutral
// contact-us phrase.
func RedactPrices(s string) string {
	for _, re := range priceRedactions {
		s = re.ReplaceAllString(s, priceRedactionText)
	}
	return s
}

// PriceTier buckets a per-person USD price into a coarse label.
func PriceTier(price float64) string {
	switch {
	case price < 2000:
		return "Budget"
	case price < 3500:
		return "Mid-range"
	case price < 5000:
		return "Premium"
	default:
		return "Luxury"
	}
}

// Narrative renders a plain-text account of the itinerary. Per-day costs
// are folded into a single ±15% budget band; every string lifted from the
// source page passes through RedactPrices first. The band itself is ours
// and is exempt.
func Narrative(data domain.TrainingData) string {
	var out []string

	title := data.TourIdentity.TourTitle
	if title == "" {
		title = "Untitled Tour"
	}
	out = append(out, fmt.Sprintf("Tour: %s\n", RedactPrices(title)))

	days := data.ItineraryStructure.Days

	activityDays := 0
	for _, day := range days {
		switch day.DayType {
		case "", "activity", "summit", "hiking":
			activityDays++
		}
	}
	totalDays := len(days)

	var durationInfo []string
	if activityDays > 0 {
		durationInfo = append(durationInfo, fmt.Sprintf("%d days of activities", activityDays))
	}
	if totalDays > 0 {
		durationInfo = append(durationInfo, fmt.Sprintf("%d days total program", totalDays))
	}
	if len(durationInfo) > 0 {
		out = append(out, "Duration: "+strings.Join(durationInfo, " | ")+"\n")
	}

	var totalCost float64
	hasPricing := false

	for _, day := range days {
		dayTitle := day.Title
		if dayTitle == "" {
			dayTitle = "No Title"
		}
		out = append(out, fmt.Sprintf("Day %d: %s", day.Day, RedactPrices(dayTitle)))

		if day.DayType != "" && day.DayType != "activity" {
			out = append(out, "  Type: "+titleWords(day.DayType))
		}

		if activities := nonEmpty(day.Activities); len(activities) > 0 {
			out = append(out, "  Activities: "+RedactPrices(strings.Join(activities, ", ")))
		}

		if day.Transport != "" {
			out = append(out, "  Transport: "+RedactPrices(day.Transport))
		}

		if day.AccommodationName != "" {
			display := RedactPrices(day.AccommodationName)
			if accType := titleWords(day.AccommodationType); accType != "" {
				display += " (" + accType + ")"
			}
			out = append(out, "  Accommodation: "+display)
		}

		if meals := nonEmpty(day.Meals); len(meals) > 0 {
			out = append(out, "  Meals: "+strings.Join(meals, ", "))
		}

		if day.Cost != nil {
			totalCost += *day.Cost
			hasPricing = true
		}

		out = append(out, "")
	}

	if hasPricing {
		lower := int(totalCost * 0.85)
		upper := int(totalCost * 1.15)
		out = append(out, fmt.Sprintf("\nEstimated Budget Range: $%s - $%s per person",
			formatThousands(lower), formatThousands(upper)))
		out = append(out, "Note: Prices are approximate and can vary based on group size, season, and availability.")
	}

	if inclusions := nonEmpty(data.Inclusions); len(inclusions) > 0 {
		out = append(out, "\nIncluded:\n- "+RedactPrices(strings.Join(inclusions, "\n- ")))
	}
	if exclusions := nonEmpty(data.Exclusions); len(exclusions) > 0 {
		out = append(out, "\nNot Included:\n- "+RedactPrices(strings.Join(exclusions, "\n- ")))
	}

	return strings.Join(out, "\n")
}

// Markdown renders the full markdown document used as the training
// response. Displayed prices degrade to a tier label only; the whole
// document is redacted on the way out.
func Markdown(data domain.TrainingData) string {
	var lines []string

	title := data.TourIdentity.TourTitle
	if title == "" {
		title = "Tour Itinerary"
	}
	lines = append(lines, "# "+title, "")

	if data.Duration.TotalProgramDays > 0 || data.Duration.ActivityDays > 0 {
		totalDays := data.Duration.TotalProgramDays
		if totalDays == 0 {
			totalDays = data.Duration.ActivityDays
		}
		activityDays := data.Duration.ActivityDays
		if activityDays == 0 {
			activityDays = totalDays
		}
		lines = append(lines, fmt.Sprintf("**Duration:** %d days of activities in a %d-day program", activityDays, totalDays), "")
	}

	if overview := data.ItineraryStructure.Overview; overview != "" {
		lines = append(lines, "**Overview:** "+overview, "")
	}
	if route := data.ItineraryStructure.RouteName; route != "" {
		lines = append(lines, "**Route:** "+route, "")
	}

	if days := data.ItineraryStructure.Days; len(days) > 0 {
		lines = append(lines, "## Day-by-Day Itinerary", "")

		for _, day := range days {
			dayTitle := day.Title
			if dayTitle == "" {
				dayTitle = fmt.Sprintf("Day %d", day.Day)
			}
			lines = append(lines, fmt.Sprintf("### Day %d: %s", day.Day, dayTitle))

			if day.Location != "" {
				lines = append(lines, "**Location:** "+day.Location)
			}
			if day.AltitudeMeters != nil && *day.AltitudeMeters != 0 {
				lines = append(lines, "**Altitude:** "+formatFloat(*day.AltitudeMeters)+"m")
			}
			if day.DistanceKm != nil && *day.DistanceKm != 0 {
				lines = append(lines, "**Distance:** "+formatFloat(*day.DistanceKm)+"km")
			}
			if day.HikingHours != nil && *day.HikingHours != 0 {
				lines = append(lines, "**Hiking Time:** "+formatFloat(*day.HikingHours)+" hours")
			}
			if activities := nonEmpty(day.Activities); len(activities) > 0 {
				lines = append(lines, "**Activities:** "+strings.Join(activities, ", "))
			}
			if day.AccommodationName != "" {
				desc := day.AccommodationName
				if day.AccommodationType != "" && day.AccommodationType != "null" {
					desc += " (" + day.AccommodationType + ")"
				}
				lines = append(lines, "**Accommodation:** "+desc)
			}
			if meals := nonEmpty(day.Meals); len(meals) > 0 {
				lines = append(lines, "**Meals:** "+strings.Join(meals, ", "))
			}

			lines = append(lines, "")
		}
	}

	if inclusions := nonEmpty(data.Inclusions); len(inclusions) > 0 {
		lines = append(lines, "## What's Included", "")
		for _, item := range inclusions {
			lines = append(lines, "- "+item)
		}
		lines = append(lines, "")
	}
	if exclusions := nonEmpty(data.Exclusions); len(exclusions) > 0 {
		lines = append(lines, "## What's Not Included", "")
		for _, item := range exclusions {
			lines = append(lines, "- "+item)
		}
		lines = append(lines, "")
	}

	if data.Pricing.PriceDisplayed && data.Pricing.PricePerPersonUSD != nil && *data.Pricing.PricePerPersonUSD != 0 {
		lines = append(lines, "**Price Range:** "+PriceTier(*data.Pricing.PricePerPersonUSD))
		if notes := data.Pricing.PriceNotes; notes != "" {
			lines = append(lines, "**Pricing Notes:** "+notes)
		}
		lines = append(lines, "")
	}

	reasoning := []struct {
		label string
		value string
	}{
		{"Route Selection", data.OperatorReasoning.RouteSelection},
		{"Duration Reasoning", data.OperatorReasoning.DurationReasoning},
		{"Difficulty Assessment", data.OperatorReasoning.DifficultyAssessment},
		{"Value Proposition", data.OperatorReasoning.ValueProposition},
	}
	hasReasoning := false
	for _, r := range reasoning {
		if r.value != "" {
			hasReasoning = true
			break
		}
	}
	if hasReasoning {
		lines = append(lines, "## Why This Itinerary Works", "")
		for _, r := range reasoning {
			if r.value != "" {
				lines = append(lines, fmt.Sprintf("**%s:** %s", r.label, r.value))
			}
		}
		lines = append(lines, "")
	}

	return RedactPrices(strings.TrimSpace(strings.Join(lines, "\n")))
}

// ForTraining builds the sterilized instruction/response pair for one
// approved itinerary. The instruction is the first derived question,
// falling back to the legacy generated instruction.
func ForTraining(data domain.TrainingData) domain.TrainingRecord {
	instruction := data.GeneratedInstruction
	if len(data.DerivedUserQuestions) > 0 {
		instruction = data.DerivedUserQuestions[0]
	}

	return domain.TrainingRecord{
		Instruction: instruction,
		Response:    Markdown(data),
		Metadata: domain.TrainingMetadata{
			SourceType:   data.SourceType,
			OperatorName: data.OperatorName,
			Country:      data.Country,
			Destination:  data.Destination,
			TourCategory: data.TourIdentity.TourCategory,
			DurationDays: data.Duration.ActivityDays,
			DataQuality:  data.DataQualityTags,
		},
	}
}

func nonEmpty(items []string) []string {
	out := items[:0:0]
	for _, item := range items {
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func titleWords(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

func formatThousands(n int) string {
	s := strconv.Itoa(n)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

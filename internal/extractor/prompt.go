package extractor

// extractionPrompt instructs the model to emit the training schema.
// Placeholders are {source_url}, {operator_name} and {raw_text}.
const extractionPrompt = `You are an expert travel data analyst creating AI training data. Extract structured tour data from this raw itinerary.

SOURCE URL: {source_url}
OPERATOR NAME: {operator_name}

RAW ITINERARY TEXT:
{raw_text}

---

Extract and return a JSON object with this EXACT structure:

{
    "source_type": "operator_website",
    "operator_name": "{operator_name}",
    "country": "Tanzania or Kenya or relevant country",
    "destination": "Main destination (e.g., Zanzibar, Serengeti, Kilimanjaro)",
    "url": "{source_url}",
    "content_type": "published_itinerary",

    "tour_identity": {
        "tour_title": "Exact tour title from the page",
        "tour_category": "safari|beach|trekking|city_tour|honeymoon|adventure|cultural|combined",
        "location_focus": "Main area or route (e.g., Northern Circuit, Stone Town, Lemosho Route)"
    },

    "duration": {
        "total_program_days": 9,
        "activity_days": 7,
        "activity_nights": 6,
        "logistics_days": 2,
        "duration_notes": "7 days trekking plus arrival and departure days"
    },

    "itinerary_structure": {
        "overview": "Brief 1-2 sentence summary of the tour",
        "route_name": "Route name if applicable (e.g., Lemosho Route, Northern Circuit)",
        "days": [
            {
                "day": 1,
                "day_type": "arrival|activity|summit|departure|rest",
                "title": "Day title (e.g., Arrival in Arusha)",
                "location": "Location name",
                "altitude_meters": null,
                "distance_km": null,
                "hiking_hours": null,
                "activities": ["Activity 1", "Activity 2", "Activity 3"],
                "accommodation_name": "Hotel/Lodge/Camp name or null",
                "accommodation_type": "hotel|lodge|tented_camp|camping|null",
                "meals": ["Breakfast", "Lunch", "Dinner"]
            }
        ]
    },

    "inclusions": ["Park fees", "Accommodation", "Meals as specified", "Professional guide", "Transport"],
    "exclusions": ["International flights", "Visa fees", "Travel insurance", "Tips and gratuities"],

    "pricing": {
        "price_displayed": true,
        "price_per_person_usd": 3500,
        "currency": "USD",
        "price_includes_flights": false,
        "group_size_affects_price": true,
        "season_affects_price": true,
        "price_notes": "Price varies by group size and season"
    },

    "user_flexibility": {
        "dates_flexible": true,
        "accommodation_preferences_accepted": true,
        "can_request_modifications": true
    },

    "operator_constraints": {
        "route_fixed": false,
        "safety_critical_elements": ["Acclimatization schedule", "Guide ratio"],
        "minimum_group_size": 1,
        "maximum_group_size": null
    },

    "operator_reasoning": {
        "route_selection": "Why this route was chosen (e.g., Lemosho chosen for better acclimatization and scenic variety)",
        "duration_reasoning": "Why this duration (e.g., 7 trek days increases summit success rate to 90%)",
        "difficulty_assessment": "Who this is suitable for (e.g., Suitable for average fitness with prior preparation)",
        "value_proposition": "Why this itinerary is good value (e.g., Includes pre/post accommodation unlike budget options)"
    },

    "derived_user_questions": [
        "Question that logically leads to THIS specific itinerary",
        "Question about preferences that match this route/tour",
        "Question with constraints that this itinerary satisfies"
    ],

    "user_intent": {
        "primary_goal": "climb_kilimanjaro|safari|beach_holiday|cultural_tour|honeymoon|adventure",
        "fitness_level": "unknown|beginner|average|athletic|professional",
        "time_available": "about X days or flexible",
        "preferences": ["scenic", "good acclimatization", "wildlife", "relaxation"],
        "constraints": ["budget", "time", "fitness", "none specified"]
    },

    "data_quality_tags": {
        "structured": true,
        "marketing_language": "low|medium|high",
        "operational_detail_level": "low|medium|high",
        "source_reliability": "high"
    }
}

CRITICAL RULES:

1. DURATION: Count ALL days including arrival/departure. Label each day with day_type.
   - If title says "7 Days" but there are 9 actual days, set activity_days=7, total_program_days=9

2. DERIVED QUESTIONS must logically lead to THIS itinerary:
   - BAD: "I'm interested in a trek in Tanzania, can you tell me more?"
   - GOOD: "I want to climb Kilimanjaro and prefer a scenic route with good acclimatization. What would you recommend?"
   - GOOD: "I have about a week for Kilimanjaro and I'm reasonably fit. Which route has the best success rate?"
   - GOOD: "I want a guided Kilimanjaro climb that includes hotel stays before and after. What's available?"

3. OPERATOR REASONING is critical - explain WHY this itinerary exists:
   - Why this route? Why this duration? Why these accommodations?
   - This teaches the AI to THINK like an operator

4. SEPARATE user flexibility from operator constraints:
   - User can ask for changes (user_flexibility)
   - Operator decides what's possible (operator_constraints)

5. USER INTENT should be what a typical customer would express BEFORE seeing this itinerary

6. PRICING: Look for $, USD, per person, pp, pax. If not found, set price_displayed: false

Return ONLY valid JSON, no other text.`

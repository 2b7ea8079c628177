package fallback

// Defaults returns the built-in rules, one per stock capability.
func Defaults() []Rule {
	return []Rule{
		{
			Name:       "weather-unavailable",
			Capability: "weather",
			Keywords:   []string{"weather", "forecast", "rain", "temperature", "sunny", "snow"},
			Template:   "Live weather data{{with .Params.location}} for {{.}}{{end}} is temporarily unavailable. Please check a local forecast before heading out.",
			Confidence: 0.6,
			Data:       map[string]string{"condition": "unknown"},
		},
		{
			Name:       "finance-unavailable",
			Capability: "finance",
			Keywords:   []string{"stock", "price", "market", "shares", "invest"},
			Template:   "Market data is temporarily unavailable, so prices may be delayed. Please verify quotes with your broker.",
			Confidence: 0.6,
		},
		{
			Name:       "activities-generic",
			Capability: "activities",
			Keywords:   []string{"activities", "things to do", "suggest", "visit", "indoor"},
			Template:   "A few ideas{{with .Params.location}} in {{.}}{{end}}: visit a museum, find a cozy café or catch a film.",
			Confidence: 0.5,
		},
		{
			Name:       "general-unavailable",
			Capability: "general",
			Template:   "The assistant is temporarily unavailable. Please try again shortly.",
			Confidence: 0.3,
		},
	}
}

// DefaultRuleSet compiles Defaults.
func DefaultRuleSet(opts ...Option) *RuleSet {
	s, err := New(Defaults(), opts...)
	if err != nil {
		panic("fallback: invalid default rules: " + err.Error())
	}
	return s
}

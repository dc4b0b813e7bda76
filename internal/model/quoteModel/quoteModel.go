package quoteModel

// RawChart mirrors the provider's chart endpoint payload. Only the fields the
// engine reads are declared.
type RawChart struct {
	Chart struct {
		Result []RawChartResult `json:"result"`
		Error  *RawChartError   `json:"error"`
	} `json:"chart"`
}

type RawChartResult struct {
	Meta struct {
		Symbol             string  `json:"symbol"`
		Currency           string  `json:"currency"`
		ShortName          string  `json:"shortName"`
		RegularMarketPrice float64 `json:"regularMarketPrice"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close []*float64 `json:"close"`
		} `json:"quote"`
	} `json:"indicators"`
}

type RawChartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

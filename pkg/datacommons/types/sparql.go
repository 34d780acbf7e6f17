package types

type SPARQLRequest struct {
	Query string `json:"query"`
}

type SPARQLResponse struct {
	Header []string    `json:"header"`
	Rows   []SPARQLRow `json:"rows"`
}

type SPARQLRow struct {
	Cells []SPARQLCell `json:"cells"`
}

type SPARQLCell struct {
	Value string `json:"value"`
}

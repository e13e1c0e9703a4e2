package valueobject

// PageMarker locates one page of parsed markdown. StartIndex and EndIndex are
// byte offsets into the full text; the marker line itself is excluded.
type PageMarker struct {
	PageNumber int `json:"page_number"`
	StartIndex int `json:"start_index"`
	EndIndex   int `json:"end_index"`
}

// Len returns the byte length of the page span.
func (m PageMarker) Len() int {
	return m.EndIndex - m.StartIndex
}

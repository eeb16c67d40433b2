package gate

// Identity is a person recognised by the detection service.
type Identity struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

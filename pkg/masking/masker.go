package masking

// Masker redacts content that needs structural parsing rather than a regex.
type Masker interface {
	// Name is the identifier used in pattern groups.
	Name() string

	// AppliesTo is a cheap pre-check; it must not parse.
	AppliesTo(data string) bool

	// Mask returns data with secrets replaced. Unparseable input is
	// returned unchanged.
	Mask(data string) string
}

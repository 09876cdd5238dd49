package domain

// Note is a titled annotation attached to exactly one owner.
// Lower Interest means more important.
type Note struct {
	ID         int64  `json:"id" yaml:"id"`
	Owner      Handle `json:"owner" yaml:"owner"`
	Title      string `json:"title" yaml:"title"`
	Content    string `json:"content" yaml:"content"`
	Interest   int    `json:"interest" yaml:"interest"`
	Source     string `json:"source,omitempty" yaml:"source,omitempty"`
	Confidence int    `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// Common note interest tiers
const (
	InterestCritical = 0
	InterestHigh     = 1
	InterestDetail   = 2
	InterestVerbose  = 3
)

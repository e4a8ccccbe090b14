package models

// Category classifies what kind of knowledge a memory represents.
type Category string

const (
	CategoryPreference  Category = "preference"
	CategoryFact        Category = "fact"
	CategoryDecision    Category = "decision"
	CategoryEntity      Category = "entity"
	CategoryObservation Category = "observation"
	CategoryOther       Category = "other"
)

var validCategories = map[Category]bool{
	CategoryPreference:  true,
	CategoryFact:        true,
	CategoryDecision:    true,
	CategoryEntity:      true,
	CategoryObservation: true,
	CategoryOther:       true,
}

func (c Category) IsValid() bool {
	return validCategories[c]
}

// NormalizeCategory maps unknown category strings to CategoryOther.
func NormalizeCategory(s string) Category {
	c := Category(s)
	if c.IsValid() {
		return c
	}
	return CategoryOther
}

// DefaultTTLDays maps each category to its default time-to-live in days.
// A category with no entry never expires.
var DefaultTTLDays = map[Category]int{
	CategoryObservation: 7,
}

// Source records how a memory entered the store.
type Source string

const (
	SourceAuto    Source = "auto"
	SourceUser    Source = "user"
	SourceAgent   Source = "agent"
	SourceAIFlush Source = "ai_flush"
)

// Memory is a durable fact/preference row scoped to a user.
type Memory struct {
	ID         string   `json:"id"`
	UserID     string   `json:"userId"`
	Text       string   `json:"text"`
	Category   Category `json:"category"`
	Importance float64  `json:"importance"`
	Source     Source   `json:"source"`
	SessionID  string   `json:"sessionId,omitempty"`
	Embedding  []byte   `json:"-"`
	CreatedAt  int64    `json:"createdAt"`
	UpdatedAt  int64    `json:"updatedAt"`
	ExpiresAt  *int64   `json:"expiresAt,omitempty"`
}

// ScoredMemory is a memory with its search score attached.
type ScoredMemory struct {
	Memory     *Memory `json:"memory"`
	Similarity float64 `json:"similarity"`
}

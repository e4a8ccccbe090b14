package memory

import (
	"strings"
	"testing"

	"github.com/driftware/recall/internal/models"
)

func userTurn(content string) models.ChatMessage {
	return models.ChatMessage{Role: "user", Content: content}
}

func TestExtractExplicit(t *testing.T) {
	t.Run("captures remember command from user turn", func(t *testing.T) {
		got := ExtractExplicit([]models.ChatMessage{
			userTurn("Remember that I prefer metric units."),
		})
		if len(got) != 1 {
			t.Fatalf("expected 1 candidate, got %d", len(got))
		}
		if got[0].Text != "I prefer metric units" {
			t.Fatalf("prefix not stripped: %q", got[0].Text)
		}
		if got[0].Category != models.CategoryPreference {
			t.Fatalf("expected preference, got %s", got[0].Category)
		}
		if got[0].Importance != 0.9 {
			t.Fatalf("expected 0.9 importance, got %f", got[0].Importance)
		}
	})

	t.Run("ignores assistant turns", func(t *testing.T) {
		got := ExtractExplicit([]models.ChatMessage{
			{Role: "assistant", Content: "Remember that the meeting is on Friday."},
		})
		if len(got) != 0 {
			t.Fatalf("assistant turn captured: %v", got)
		}
	})

	t.Run("supports multiple locales", func(t *testing.T) {
		cases := []string{
			"Don't forget that my flight leaves at noon on Friday.",
			"Keep in mind that the server lives in Frankfurt.",
			"Merke dir, dass meine Wohnung im dritten Stock ist.",
			"N'oublie pas que je travaille le samedi matin.",
			"Recuerda que mi hermana vive en Sevilla.",
			"Ricorda che il mio gatto si chiama Bruno.",
		}
		for _, c := range cases {
			got := ExtractExplicit([]models.ChatMessage{userTurn(c)})
			if len(got) != 1 {
				t.Fatalf("missed capture for %q: %v", c, got)
			}
		}
	})

	t.Run("drops too-short and too-long candidates", func(t *testing.T) {
		long := "remember that " + strings.Repeat("the hallway is painted green and ", 20)
		got := ExtractExplicit([]models.ChatMessage{
			userTurn("Remember hi."),
			userTurn(long),
		})
		if len(got) != 0 {
			t.Fatalf("invalid candidates captured: %v", got)
		}
	})

	t.Run("rejects anti-pattern text", func(t *testing.T) {
		got := ExtractExplicit([]models.ChatMessage{
			userTurn("Remember that 1234567890 12345"),
			userTurn("Remember memories from our last chat about the garden"),
		})
		if len(got) != 0 {
			t.Fatalf("anti-pattern text captured: %v", got)
		}
	})

	t.Run("caps candidates per turn", func(t *testing.T) {
		got := ExtractExplicit([]models.ChatMessage{
			userTurn("Remember that the front door code is blue. " +
				"Remember that the garage opens at seven. " +
				"Remember that the neighbor waters our plants. " +
				"Remember that trash day moved to Tuesday."),
		})
		if len(got) != 3 {
			t.Fatalf("expected 3 candidates max per turn, got %d", len(got))
		}
	})

	t.Run("keeps email addresses intact", func(t *testing.T) {
		got := ExtractExplicit([]models.ChatMessage{
			userTurn("Remember that my work address is jane.doe@example.com"),
		})
		if len(got) != 1 {
			t.Fatalf("expected 1 candidate, got %d", len(got))
		}
		if got[0].Category != models.CategoryEntity {
			t.Fatalf("expected entity, got %s", got[0].Category)
		}
	})
}

func TestCategorize(t *testing.T) {
	cases := []struct {
		text string
		want models.Category
	}{
		{"I prefer dark roast coffee", models.CategoryPreference},
		{"we decided to ship on Mondays", models.CategoryDecision},
		{"call me at +49 170 1234567", models.CategoryEntity},
		{"the build is broken right now", models.CategoryObservation},
		{"the office is on the fourth floor", models.CategoryFact},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			if got := Categorize(tc.text); got != tc.want {
				t.Fatalf("Categorize(%q) = %s, want %s", tc.text, got, tc.want)
			}
		})
	}
}

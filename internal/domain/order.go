package domain

import (
	"math"
	"time"
)

// Order is the backend's view of a personalised book order.
type Order struct {
	ID               string
	OrderNumber      string
	BookID           string
	BookCode         string
	Status           string
	CustomerEmail    string
	Characters       map[string]Character
	AvatarsGenerated bool
	PreviewGenerated bool
	Progress         Progress
	BookComplete     bool
}

// Character holds the media the backend associates with one role.
type Character struct {
	Role              string
	Name              string
	OriginalPhotoURL  string
	AvatarURL         string
	StylizedAvatarURL string
}

// DisplayAvatar prefers the stylised avatar over the plain one.
func (c Character) DisplayAvatar() string {
	if c.StylizedAvatarURL != "" {
		return c.StylizedAvatarURL
	}
	return c.AvatarURL
}

// Avatars maps role to display avatar for every character that has one.
// The result is never nil.
func (o Order) Avatars() map[string]string {
	out := make(map[string]string, len(o.Characters))
	for role, character := range o.Characters {
		if url := character.DisplayAvatar(); url != "" {
			out[role] = url
		}
	}
	return out
}

// Progress reports how many pages of the full book exist.
type Progress struct {
	PagesGenerated int
	TotalPages     int
}

// Total returns TotalPages, treating a missing or zero total as one page.
func (p Progress) Total() int {
	if p.TotalPages <= 0 {
		return 1
	}
	return p.TotalPages
}

// Percent is round(generated/total*100) clamped to [0, 100].
func (p Progress) Percent() int {
	if p.PagesGenerated <= 0 {
		return 0
	}
	pct := int(math.Round(float64(p.PagesGenerated) / float64(p.Total()) * 100))
	if pct > 100 {
		return 100
	}
	return pct
}

// Complete is true when the backend flags the book complete or every page exists.
// Either signal alone is sufficient.
func (o Order) Complete() bool {
	return o.BookComplete || o.Progress.PagesGenerated >= o.Progress.Total()
}

// OrderPage is one page in the viewer. PageNumber is zero based.
type OrderPage struct {
	PageNumber int
	ImageURL   string
	CreatedAt  *time.Time
	Unlocked   bool
	// Placeholder marks pages synthesised from template art rather than generated.
	Placeholder bool
}

// GeneratedPage is a page as returned by the backend before reconciliation.
// Preview is nil when the backend did not say whether the page is a teaser.
type GeneratedPage struct {
	PageNumber int
	ImageURL   string
	CreatedAt  *time.Time
	Preview    *bool
}

// UploadedPhoto tracks a customer photo for one role within a customisation session.
type UploadedPhoto struct {
	Role        string
	FileName    string
	ContentType string
	Size        int64
	PhotoURL    string
	Uploaded    bool
	UploadedAt  time.Time
}

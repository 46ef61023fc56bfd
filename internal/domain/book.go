package domain

import "strings"

// MaxGalleryImages caps the number of images shown on a book detail page.
const MaxGalleryImages = 5

// Book is a catalogue entry fetched from the backend. It is immutable once fetched.
type Book struct {
	ID              string
	PublicationCode string
	Title           string
	Subtitle        string
	Description     string
	PriceCents      int64
	PreviewImageURL string
	DetailImages    []string
	Template        BookTemplate
	Active          bool
}

// BookTemplate describes the characters and pages a personalised copy is built from.
type BookTemplate struct {
	Characters []TemplateCharacter
	Pages      []TemplatePage
}

// TemplateCharacter is the author-facing description of a personalised role.
type TemplateCharacter struct {
	Name        string
	DisplayName string
	Description string
}

// TemplatePage is a single template page. ImageURL is the placeholder art shown
// until the personalised page has been generated.
type TemplatePage struct {
	PageNumber     int
	CharacterRoles []string
	ImageURL       string
	Text           string
}

// CharacterRoles returns the de-duplicated union of roles referenced by the
// template pages, in first-seen order.
func (b Book) CharacterRoles() []string {
	seen := make(map[string]struct{})
	roles := make([]string, 0)
	for _, page := range b.Template.Pages {
		for _, role := range page.CharacterRoles {
			role = strings.TrimSpace(role)
			if role == "" {
				continue
			}
			if _, ok := seen[role]; ok {
				continue
			}
			seen[role] = struct{}{}
			roles = append(roles, role)
		}
	}
	return roles
}

// HasRole reports whether role is one of the derived character roles.
func (b Book) HasRole(role string) bool {
	for _, candidate := range b.CharacterRoles() {
		if candidate == role {
			return true
		}
	}
	return false
}

// PageCount is the number of logical pages a viewer shows for this book.
func (b Book) PageCount() int {
	return len(b.Template.Pages)
}

// Gallery returns the cover followed by detail images, de-duplicated and capped.
func (b Book) Gallery() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, MaxGalleryImages)
	add := func(url string) {
		url = strings.TrimSpace(url)
		if url == "" || len(out) >= MaxGalleryImages {
			return
		}
		if _, ok := seen[url]; ok {
			return
		}
		seen[url] = struct{}{}
		out = append(out, url)
	}
	add(b.PreviewImageURL)
	for _, img := range b.DetailImages {
		add(img)
	}
	return out
}

// CharacterDescription returns the template description for role, if any.
func (b Book) CharacterDescription(role string) (TemplateCharacter, bool) {
	for _, character := range b.Template.Characters {
		if strings.EqualFold(character.Name, role) {
			return character, true
		}
	}
	return TemplateCharacter{}, false
}

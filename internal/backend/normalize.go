package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/domen-source/storyweaver-consumer/internal/domain"
)

// The backend has shipped several response shapes over time. Everything that
// tolerates those differences lives in this file so the rest of the module
// only ever sees domain types.

// flexString accepts JSON strings and numbers.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*s = flexString(value)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*s = flexString(number.String())
	return nil
}

// flexInt accepts JSON numbers and numeric strings.
type flexInt struct {
	value int
	set   bool
}

func (n *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	raw := strings.Trim(string(data), `"`)
	if raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("expected number, got %s", data)
	}
	n.value = int(f)
	n.set = true
	return nil
}

func firstInt(values ...flexInt) (int, bool) {
	for _, v := range values {
		if v.set {
			return v.value, true
		}
	}
	return 0, false
}

func firstString(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

type rawBook struct {
	ID              flexString  `json:"id"`
	PublicationCode string      `json:"publication_code"`
	Title           string      `json:"title"`
	Subtitle        string      `json:"subtitle"`
	Description     string      `json:"description"`
	PriceCents      flexInt     `json:"price_cents"`
	PreviewImageURL string      `json:"preview_image_url"`
	DetailImages    []string    `json:"detail_images"`
	TemplateData    rawTemplate `json:"template_data"`
	IsActive        *bool       `json:"is_active"`
}

type rawTemplate struct {
	Characters []struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
		Description string `json:"description"`
	} `json:"characters"`
	Pages []rawTemplatePage `json:"pages"`
}

type rawTemplatePage struct {
	PageNumber      flexInt  `json:"page_number"`
	PageNumberCamel flexInt  `json:"pageNumber"`
	CharacterRoles  []string `json:"character_roles"`
	ImageURL        string   `json:"image_url"`
	ImageURLCamel   string   `json:"imageUrl"`
	TemplateImage   string   `json:"template_image_url"`
	Text            string   `json:"text"`
}

func (b rawBook) toDomain() domain.Book {
	book := domain.Book{
		ID:              string(b.ID),
		PublicationCode: b.PublicationCode,
		Title:           b.Title,
		Subtitle:        b.Subtitle,
		Description:     b.Description,
		PriceCents:      int64(b.PriceCents.value),
		PreviewImageURL: b.PreviewImageURL,
		DetailImages:    append([]string(nil), b.DetailImages...),
		Active:          b.IsActive == nil || *b.IsActive,
	}
	for _, c := range b.TemplateData.Characters {
		book.Template.Characters = append(book.Template.Characters, domain.TemplateCharacter{
			Name:        c.Name,
			DisplayName: c.DisplayName,
			Description: c.Description,
		})
	}
	for idx, p := range b.TemplateData.Pages {
		number, ok := firstInt(p.PageNumberCamel, p.PageNumber)
		if !ok {
			number = idx
		}
		book.Template.Pages = append(book.Template.Pages, domain.TemplatePage{
			PageNumber:     number,
			CharacterRoles: append([]string(nil), p.CharacterRoles...),
			ImageURL:       firstString(p.ImageURLCamel, p.ImageURL, p.TemplateImage),
			Text:           p.Text,
		})
	}
	return book
}

// decodeBooks reads {books:[...]} or a bare array.
func decodeBooks(body []byte) ([]domain.Book, error) {
	body = bytes.TrimSpace(body)
	var raws []rawBook
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, fmt.Errorf("%w: books: %v", ErrInvalidResponse, err)
		}
	} else {
		var envelope struct {
			Books []rawBook `json:"books"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("%w: books: %v", ErrInvalidResponse, err)
		}
		raws = envelope.Books
	}
	books := make([]domain.Book, 0, len(raws))
	for _, raw := range raws {
		books = append(books, raw.toDomain())
	}
	return books, nil
}

// decodeBook reads {book:{...}}. A missing book property is an invalid response.
func decodeBook(body []byte) (domain.Book, error) {
	var envelope struct {
		Book *rawBook `json:"book"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return domain.Book{}, fmt.Errorf("%w: book: %v", ErrInvalidResponse, err)
	}
	if envelope.Book == nil {
		return domain.Book{}, fmt.Errorf("%w: missing book property", ErrInvalidResponse)
	}
	return envelope.Book.toDomain(), nil
}

// CreatedOrder is the acknowledgement returned when a draft order is created.
type CreatedOrder struct {
	ID     string
	Status string
}

func decodeCreatedOrder(body []byte) (CreatedOrder, error) {
	var payload struct {
		Success *bool      `json:"success"`
		OrderID flexString `json:"orderId"`
		ID      flexString `json:"id"`
		Status  string     `json:"status"`
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return CreatedOrder{}, fmt.Errorf("%w: empty order response", ErrInvalidResponse)
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return CreatedOrder{}, fmt.Errorf("%w: order: %v", ErrInvalidResponse, err)
	}
	id := firstString(string(payload.OrderID), string(payload.ID))
	if id == "" {
		return CreatedOrder{}, fmt.Errorf("%w: missing orderId", ErrInvalidResponse)
	}
	status := payload.Status
	if status == "" {
		status = "pending"
	}
	return CreatedOrder{ID: id, Status: status}, nil
}

type rawCharacter struct {
	Role              string `json:"role"`
	Name              string `json:"name"`
	StylizedAvatarURL string `json:"stylized_avatar_url"`
	AvatarURL         string `json:"avatar_url"`
	OriginalPhotoURL  string `json:"original_photo_url"`
}

type rawProgress struct {
	PagesGenerated flexInt `json:"pagesGenerated"`
	TotalPages     flexInt `json:"totalPages"`
}

type rawOrder struct {
	ID               flexString              `json:"id"`
	OrderID          flexString              `json:"orderId"`
	OrderNumber      flexString              `json:"order_number"`
	BookID           flexString              `json:"book_id"`
	BookCode         string                  `json:"bookCode"`
	BookCodeSnake    string                  `json:"book_code"`
	Status           string                  `json:"status"`
	CustomerEmail    string                  `json:"customer_email"`
	CharactersData   map[string]rawCharacter `json:"characters_data"`
	Characters       json.RawMessage         `json:"characters"`
	AvatarsGenerated bool                    `json:"avatars_generated"`
	PreviewGenerated bool                    `json:"preview_generated"`
	PagesGenerated   flexInt                 `json:"pages_generated"`
	TotalPages       flexInt                 `json:"total_pages"`
	Progress         *rawProgress            `json:"progress"`
	BookComplete     bool                    `json:"bookComplete"`
	BookCompleteAlt  bool                    `json:"book_complete"`
}

func decodeOrder(body []byte) (domain.Order, error) {
	var raw rawOrder
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.Order{}, fmt.Errorf("%w: order status: %v", ErrInvalidResponse, err)
	}
	order := domain.Order{
		ID:               firstString(string(raw.ID), string(raw.OrderID)),
		OrderNumber:      string(raw.OrderNumber),
		BookID:           string(raw.BookID),
		BookCode:         firstString(raw.BookCode, raw.BookCodeSnake),
		Status:           raw.Status,
		CustomerEmail:    raw.CustomerEmail,
		AvatarsGenerated: raw.AvatarsGenerated,
		PreviewGenerated: raw.PreviewGenerated,
		BookComplete:     raw.BookComplete || raw.BookCompleteAlt,
		Characters:       extractCharacters(raw),
	}

	// Nested progress wins; legacy top-level counters fill the gaps.
	var nestedGenerated, nestedTotal flexInt
	if raw.Progress != nil {
		nestedGenerated, nestedTotal = raw.Progress.PagesGenerated, raw.Progress.TotalPages
	}
	order.Progress.PagesGenerated, _ = firstInt(nestedGenerated, raw.PagesGenerated)
	order.Progress.TotalPages, _ = firstInt(nestedTotal, raw.TotalPages)
	return order, nil
}

// extractCharacters merges the three known character shapes in order: a
// role-keyed map under "characters", the legacy "characters_data" map, then an
// array of records under "characters". Later sources win per field.
func extractCharacters(raw rawOrder) map[string]domain.Character {
	out := make(map[string]domain.Character)
	merge := func(role string, c rawCharacter) {
		role = strings.TrimSpace(firstString(role, c.Role))
		if role == "" {
			return
		}
		existing := out[role]
		existing.Role = role
		existing.Name = firstString(c.Name, existing.Name)
		existing.OriginalPhotoURL = firstString(c.OriginalPhotoURL, existing.OriginalPhotoURL)
		existing.AvatarURL = firstString(c.AvatarURL, existing.AvatarURL)
		existing.StylizedAvatarURL = firstString(c.StylizedAvatarURL, existing.StylizedAvatarURL)
		out[role] = existing
	}

	chars := bytes.TrimSpace(raw.Characters)
	var list []rawCharacter
	switch {
	case len(chars) == 0 || bytes.Equal(chars, []byte("null")):
	case chars[0] == '{':
		var byRole map[string]rawCharacter
		if err := json.Unmarshal(chars, &byRole); err == nil {
			for _, role := range sortedKeys(byRole) {
				merge(role, byRole[role])
			}
		}
	case chars[0] == '[':
		_ = json.Unmarshal(chars, &list)
	}
	for _, role := range sortedKeys(raw.CharactersData) {
		merge(role, raw.CharactersData[role])
	}
	for _, c := range list {
		merge("", c)
	}
	return out
}

func sortedKeys(m map[string]rawCharacter) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type rawPage struct {
	PageNumber      flexInt `json:"pageNumber"`
	PageNumberSnake flexInt `json:"page_number"`
	ImageURL        string  `json:"imageUrl"`
	ImageURLSnake   string  `json:"image_url"`
	CreatedAt       string  `json:"createdAt"`
	CreatedAtSnake  string  `json:"created_at"`
	IsPreview       *bool   `json:"isPreview"`
	IsPreviewSnake  *bool   `json:"is_preview"`
}

// decodePages accepts a bare array, {pages:[...]} or {data:[...]}, with
// camelCase or snake_case fields. A missing page number defaults to the
// array index.
func decodePages(body []byte) ([]domain.GeneratedPage, error) {
	body = bytes.TrimSpace(body)
	var raws []rawPage
	switch {
	case len(body) == 0 || bytes.Equal(body, []byte("null")):
		return []domain.GeneratedPage{}, nil
	case body[0] == '[':
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, fmt.Errorf("%w: pages: %v", ErrInvalidResponse, err)
		}
	default:
		var envelope struct {
			Pages []rawPage `json:"pages"`
			Data  []rawPage `json:"data"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, fmt.Errorf("%w: pages: %v", ErrInvalidResponse, err)
		}
		raws = envelope.Pages
		if raws == nil {
			raws = envelope.Data
		}
	}

	pages := make([]domain.GeneratedPage, 0, len(raws))
	for idx, raw := range raws {
		number, ok := firstInt(raw.PageNumber, raw.PageNumberSnake)
		if !ok {
			number = idx
		}
		page := domain.GeneratedPage{
			PageNumber: number,
			ImageURL:   firstString(raw.ImageURL, raw.ImageURLSnake),
			Preview:    raw.IsPreview,
		}
		if page.Preview == nil {
			page.Preview = raw.IsPreviewSnake
		}
		if created := firstString(raw.CreatedAt, raw.CreatedAtSnake); created != "" {
			if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
				ts = ts.UTC()
				page.CreatedAt = &ts
			}
		}
		pages = append(pages, page)
	}
	return pages, nil
}

// UploadResult is the backend acknowledgement for a photo upload.
type UploadResult struct {
	Message  string
	PhotoURL string
}

func decodeUpload(body []byte) (UploadResult, error) {
	var payload struct {
		Message       string `json:"message"`
		PhotoURL      string `json:"photo_url"`
		PhotoURLCamel string `json:"photoUrl"`
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return UploadResult{}, nil
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return UploadResult{}, fmt.Errorf("%w: upload: %v", ErrInvalidResponse, err)
	}
	return UploadResult{Message: payload.Message, PhotoURL: firstString(payload.PhotoURL, payload.PhotoURLCamel)}, nil
}

func decodeMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Message
}

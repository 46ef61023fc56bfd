package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/domen-source/storyweaver-consumer/internal/domain"
)

const (
	defaultCustomerEmail = "demo@example.com"

	hintMissingBoth   = "Upload all photos and enter all names to continue"
	hintMissingPhotos = "Upload all photos to continue"
	hintMissingNames  = "Enter all names to continue"
)

var roleTitler = cases.Title(language.English)

// BootstrapServiceDeps wires the dependencies required by the bootstrap service.
type BootstrapServiceDeps struct {
	Backend      BackendAPI
	Sessions     *SessionStore
	DefaultEmail string
	Clock        func() time.Time
	Logger       Logger
}

type bootstrapService struct {
	backend      BackendAPI
	sessions     *SessionStore
	defaultEmail string
	now          func() time.Time
	logger       Logger
}

// NewBootstrapService constructs a BootstrapService validating required dependencies.
func NewBootstrapService(deps BootstrapServiceDeps) (BootstrapService, error) {
	if deps.Backend == nil {
		return nil, errors.New("bootstrap service: backend is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("bootstrap service: session store is required")
	}
	email := strings.TrimSpace(deps.DefaultEmail)
	if email == "" {
		email = defaultCustomerEmail
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &bootstrapService{
		backend:      deps.Backend,
		sessions:     deps.Sessions,
		defaultEmail: email,
		now:          func() time.Time { return clock().UTC() },
		logger:       logger,
	}, nil
}

func (s *bootstrapService) ListBooks(ctx context.Context) ([]BookDetail, error) {
	books, err := s.backend.ListBooks(ctx)
	if err != nil {
		return nil, translateBackendError(err)
	}
	out := make([]BookDetail, 0, len(books))
	for _, book := range books {
		out = append(out, describeBook(book))
	}
	return out, nil
}

func (s *bootstrapService) GetBook(ctx context.Context, code string) (BookDetail, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return BookDetail{}, validationError("book code is required")
	}
	book, err := s.backend.GetBook(ctx, code)
	if err != nil {
		return BookDetail{}, translateBackendError(err)
	}
	return describeBook(book), nil
}

// Initialize fetches the book and immediately creates a draft order for it.
func (s *bootstrapService) Initialize(ctx context.Context, cmd InitializeOrderCommand) (OrderBootstrap, error) {
	code := strings.TrimSpace(cmd.BookCode)
	if code == "" {
		return OrderBootstrap{}, validationError("book code is required")
	}

	book, err := s.backend.GetBook(ctx, code)
	if err != nil {
		s.logger(ctx, "bootstrap.book_failed", map[string]any{"bookCode": code, "error": err.Error()})
		return OrderBootstrap{}, translateBackendError(err)
	}

	email := strings.TrimSpace(cmd.CustomerEmail)
	if email == "" {
		email = s.defaultEmail
	}
	created, err := s.backend.CreateOrder(ctx, code, email)
	if err != nil {
		s.logger(ctx, "bootstrap.create_order_failed", map[string]any{"bookCode": code, "error": err.Error()})
		return OrderBootstrap{}, networkError(err)
	}
	if strings.TrimSpace(created.ID) == "" {
		return OrderBootstrap{}, networkError(errors.New("backend returned no order id"))
	}

	session := newOrderSession(created.ID, book, domain.GenerationStateDraft, s.now())
	form := buildForm(session)
	s.sessions.put(session)
	s.logger(ctx, "bootstrap.order_created", map[string]any{
		"orderId":  created.ID,
		"bookCode": code,
		"roles":    len(book.CharacterRoles()),
	})

	return OrderBootstrap{
		OrderID: created.ID,
		Status:  created.Status,
		Book:    describeBook(book),
		Form:    form,
	}, nil
}

// CanGenerateAvatars reports whether every role has a trimmed name and a
// confirmed upload.
func CanGenerateAvatars(form CustomizationForm) bool {
	missingPhotos, missingNames := missingInputs(form)
	return !missingPhotos && !missingNames
}

// MissingInputHint returns the message shown while avatar generation is blocked.
func MissingInputHint(form CustomizationForm) string {
	missingPhotos, missingNames := missingInputs(form)
	switch {
	case missingPhotos && missingNames:
		return hintMissingBoth
	case missingPhotos:
		return hintMissingPhotos
	case missingNames:
		return hintMissingNames
	default:
		return ""
	}
}

func missingInputs(form CustomizationForm) (photos bool, names bool) {
	for _, field := range form.Roles {
		if strings.TrimSpace(form.Names[field.Role]) == "" {
			names = true
		}
		if photo, ok := form.Photos[field.Role]; !ok || !photo.Uploaded {
			photos = true
		}
	}
	return photos, names
}

// RoleDisplayName turns a role key such as "big_sister" into "Big Sister".
func RoleDisplayName(role string) string {
	role = strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(role))
	if role == "" {
		return ""
	}
	return roleTitler.String(role)
}

func describeBook(book domain.Book) BookDetail {
	return BookDetail{
		Book:    book,
		Roles:   roleFields(book),
		Gallery: book.Gallery(),
	}
}

func roleFields(book domain.Book) []RoleField {
	roles := book.CharacterRoles()
	out := make([]RoleField, 0, len(roles))
	for _, role := range roles {
		field := RoleField{Role: role, DisplayName: RoleDisplayName(role)}
		if character, ok := book.CharacterDescription(role); ok {
			if strings.TrimSpace(character.DisplayName) != "" {
				field.DisplayName = character.DisplayName
			}
			field.Description = character.Description
		}
		out = append(out, field)
	}
	return out
}

// buildForm must be called with the session store lock held or on an unshared session.
func buildForm(session *orderSession) CustomizationForm {
	form := CustomizationForm{
		OrderID:  session.orderID,
		BookCode: session.book.PublicationCode,
		State:    session.state,
		Roles:    roleFields(session.book),
		Names:    copyStringMap(session.names),
		Photos:   copyPhotos(session.photos),
		Avatars:  copyStringMap(session.avatars),
	}
	form.CanGenerate = CanGenerateAvatars(form)
	form.Hint = MissingInputHint(form)
	return form
}

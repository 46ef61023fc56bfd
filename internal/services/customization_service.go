package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/domen-source/storyweaver-consumer/internal/backend"
	"github.com/domen-source/storyweaver-consumer/internal/domain"
	"github.com/domen-source/storyweaver-consumer/internal/photos"
)

const maxCharacterNameLength = 60

// CustomizationServiceDeps wires the dependencies required by the customization service.
type CustomizationServiceDeps struct {
	Backend      BackendAPI
	Sessions     *SessionStore
	MaxDimension int
	MaxPixels    int64
	Quality      int
	Clock        func() time.Time
	Logger       Logger
}

type customizationService struct {
	backend  BackendAPI
	sessions *SessionStore
	photoOpt photos.Options
	policy   *bluemonday.Policy
	now      func() time.Time
	logger   Logger
}

// NewCustomizationService constructs a CustomizationService validating required dependencies.
func NewCustomizationService(deps CustomizationServiceDeps) (CustomizationService, error) {
	if deps.Backend == nil {
		return nil, errors.New("customization service: backend is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("customization service: session store is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &customizationService{
		backend:  deps.Backend,
		sessions: deps.Sessions,
		photoOpt: photos.Options{MaxDimension: deps.MaxDimension, MaxPixels: deps.MaxPixels, Quality: deps.Quality},
		policy:   bluemonday.StrictPolicy(),
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// UploadPhoto normalises the photo and forwards it to the backend. The role is
// recorded as pending first and removed again if the upload fails.
func (s *customizationService) UploadPhoto(ctx context.Context, cmd UploadPhotoCommand) (CustomizationForm, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	role := strings.TrimSpace(cmd.Role)
	if err := s.sessions.ensure(ctx, s.backend, orderID); err != nil {
		return CustomizationForm{}, err
	}

	prepared, err := photos.Prepare(cmd.Data, cmd.FileName, s.photoOpt)
	if err != nil {
		if errors.Is(err, photos.ErrEmpty) || errors.Is(err, photos.ErrUnsupportedFormat) || errors.Is(err, photos.ErrTooManyPixels) {
			return CustomizationForm{}, validationError("%v", err)
		}
		return CustomizationForm{}, validationError("photo could not be decoded: %v", err)
	}

	pending := domain.UploadedPhoto{
		Role:        role,
		FileName:    prepared.FileName,
		ContentType: prepared.ContentType,
		Size:        int64(len(prepared.Data)),
	}
	if _, err := s.sessions.with(orderID, func(session *orderSession) error {
		if err := editable(session, role); err != nil {
			return err
		}
		session.photos[role] = pending
		return nil
	}); err != nil {
		return CustomizationForm{}, err
	}

	result, err := s.backend.UploadPhoto(ctx, orderID, role, backend.PhotoUpload{
		FileName:    prepared.FileName,
		ContentType: prepared.ContentType,
		Data:        prepared.Data,
	})
	if err != nil {
		s.logger(ctx, "customization.upload_failed", map[string]any{"orderId": orderID, "role": role, "error": err.Error()})
		_, _ = s.sessions.with(orderID, func(session *orderSession) error {
			delete(session.photos, role)
			return nil
		})
		return CustomizationForm{}, networkError(err)
	}

	var form CustomizationForm
	_, _ = s.sessions.with(orderID, func(session *orderSession) error {
		pending.Uploaded = true
		pending.PhotoURL = result.PhotoURL
		pending.UploadedAt = s.now()
		session.photos[role] = pending
		form = buildForm(session)
		return nil
	})
	s.logger(ctx, "customization.photo_uploaded", map[string]any{
		"orderId": orderID,
		"role":    role,
		"bytes":   pending.Size,
		"width":   prepared.Width,
		"height":  prepared.Height,
	})
	return form, nil
}

// SetName stores the character name for role with any markup stripped.
func (s *customizationService) SetName(ctx context.Context, cmd SetNameCommand) (CustomizationForm, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	role := strings.TrimSpace(cmd.Role)
	if err := s.sessions.ensure(ctx, s.backend, orderID); err != nil {
		return CustomizationForm{}, err
	}
	name := strings.TrimSpace(s.policy.Sanitize(cmd.Name))
	if utf8.RuneCountInString(name) > maxCharacterNameLength {
		return CustomizationForm{}, validationError("name must be at most %d characters", maxCharacterNameLength)
	}

	var form CustomizationForm
	if _, err := s.sessions.with(orderID, func(session *orderSession) error {
		if err := editable(session, role); err != nil {
			return err
		}
		if name == "" {
			delete(session.names, role)
		} else {
			session.names[role] = name
		}
		form = buildForm(session)
		return nil
	}); err != nil {
		return CustomizationForm{}, err
	}
	return form, nil
}

// Form returns the current customisation state of the order.
func (s *customizationService) Form(ctx context.Context, orderID string) (CustomizationForm, error) {
	orderID = strings.TrimSpace(orderID)
	if err := s.sessions.ensure(ctx, s.backend, orderID); err != nil {
		return CustomizationForm{}, err
	}
	var form CustomizationForm
	found, _ := s.sessions.with(orderID, func(session *orderSession) error {
		form = buildForm(session)
		return nil
	})
	if !found {
		return CustomizationForm{}, ErrNotFound
	}
	return form, nil
}

// editable rejects unknown roles and edits once the preview has been requested.
func editable(session *orderSession, role string) error {
	if !session.book.HasRole(role) {
		return validationError("unknown character role %q", role)
	}
	if session.state.AtLeast(domain.GenerationStatePreviewRequested) {
		return validationError("order %s can no longer be customised", session.orderID)
	}
	if session.state == domain.GenerationStateAvatarsRequested {
		return validationError("avatars are being generated for order %s", session.orderID)
	}
	return nil
}

package shortlinks

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/venuedesk/venuedesk/internal/shared"
)

const (
	codeLength   = 6
	codeAlphabet = "abcdefghjkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	maxAttempts  = 5
	qrSize       = 256
)

// Invalidator drops cached views that count links.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// AuditRecorder persists audit trail entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service creates and resolves short links.
type Service struct {
	repo     Repository
	baseURL  string
	inval    Invalidator
	audit    AuditRecorder
	logger   *slog.Logger
	now      func() time.Time
	newCode  func() (string, error)
	validate *validator.Validate
}

// Option customises a Service.
type Option func(*Service)

// WithInvalidator refreshes the dashboard when links change.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Service) { s.inval = inv }
}

// WithAudit records link changes.
func WithAudit(a AuditRecorder) Option {
	return func(s *Service) { s.audit = a }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCodeGenerator overrides random code generation.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.newCode = gen }
}

// NewService builds a Service. baseURL prefixes public link URLs.
func NewService(repo Repository, baseURL string, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:     repo,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger,
		now:      time.Now,
		newCode:  randomCode,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func randomCode() (string, error) {
	b := make([]byte, codeLength)
	alphabetLen := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// CreateInput is the short link form.
type CreateInput struct {
	Destination string `validate:"required,url,max=2048"`
	Name        string `validate:"max=120"`
}

// FormErrors maps form fields to messages.
type FormErrors map[string]string

// ValidationError carries per-field form errors.
type ValidationError struct {
	Fields FormErrors
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("shortlinks: invalid input (%d fields)", len(e.Fields))
}

// Unwrap lets errors.Is match ErrInvalidInput.
func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// Create stores a link to destination under a fresh random code.
func (s *Service) Create(ctx context.Context, actor uuid.UUID, destination, name string) (Link, error) {
	in := CreateInput{Destination: strings.TrimSpace(destination), Name: strings.TrimSpace(name)}
	if err := s.validate.Struct(in); err != nil {
		fields := FormErrors{}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[fe.Field()] = fieldMessage(fe)
			}
		} else {
			fields["general"] = err.Error()
		}
		return Link{}, &ValidationError{Fields: fields}
	}
	if u, err := url.Parse(in.Destination); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Link{}, &ValidationError{Fields: FormErrors{"Destination": "must be an http or https URL"}}
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return Link{}, fmt.Errorf("shortlinks: generate code: %w", err)
		}
		link, err := s.repo.Create(ctx, Link{
			ID:          uuid.New(),
			Code:        code,
			Name:        in.Name,
			Destination: in.Destination,
			CreatedBy:   actor,
			CreatedAt:   s.now(),
		})
		if errors.Is(err, ErrCodeTaken) {
			s.logger.Debug("short link code collision", slog.String("code", code), slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return Link{}, fmt.Errorf("shortlinks: create: %w", err)
		}
		s.record(ctx, actor, "short_links.create", link.ID.String(), map[string]any{"code": link.Code, "destination": link.Destination})
		s.invalidate(ctx)
		return link, nil
	}
	return Link{}, fmt.Errorf("shortlinks: create: %w after %d attempts", ErrCodeTaken, maxAttempts)
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a valid URL"
	case "max":
		return "is too long"
	default:
		return "is invalid"
	}
}

// Resolve returns the destination for code and records the click. A failed
// click write is logged and does not block the redirect.
func (s *Service) Resolve(ctx context.Context, code, referrer, userAgent string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrNotFound
	}
	link, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return "", err
	}
	click := Click{LinkID: link.ID, At: s.now(), Referrer: referrer, UserAgent: userAgent}
	if err := s.repo.RecordClick(ctx, click); err != nil {
		s.logger.Warn("record short link click", slog.String("code", code), slog.Any("error", err))
	}
	return link.Destination, nil
}

// URL is the public address of link.
func (s *Service) URL(link Link) string {
	return s.baseURL + "/l/" + link.Code
}

// QR renders a PNG QR code of the link's public URL.
func (s *Service) QR(ctx context.Context, code string) ([]byte, error) {
	link, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(s.URL(link), qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("shortlinks: encode qr: %w", err)
	}
	return png, nil
}

// List returns one page of links.
func (s *Service) List(ctx context.Context, page, perPage int) ([]Link, shared.Pagination, error) {
	p := shared.NewPagination(page, perPage, 0)
	links, total, err := s.repo.List(ctx, p.PerPage, p.Offset())
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("shortlinks: list: %w", err)
	}
	return links, shared.NewPagination(p.Page, p.PerPage, total), nil
}

// Delete removes the link with code.
func (s *Service) Delete(ctx context.Context, actor uuid.UUID, code string) error {
	link, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, link.ID); err != nil {
		return err
	}
	s.record(ctx, actor, "short_links.delete", link.ID.String(), map[string]any{"code": link.Code})
	s.invalidate(ctx)
	return nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.inval == nil {
		return
	}
	if err := s.inval.Invalidate(ctx); err != nil {
		s.logger.Warn("short links invalidate dashboard", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actor uuid.UUID, action, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actor, Action: action, Entity: "short_link", EntityID: id, Meta: meta, At: s.now()}); err != nil {
		s.logger.Warn("short links audit", slog.String("action", action), slog.Any("error", err))
	}
}

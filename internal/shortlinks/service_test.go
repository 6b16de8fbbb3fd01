package shortlinks

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venuedesk/venuedesk/internal/rbac"
)

type mockRepo struct {
	links    map[string]Link
	clicks   []Click
	clickErr error
	creates  int
}

func newMockRepo() *mockRepo {
	return &mockRepo{links: make(map[string]Link)}
}

func (m *mockRepo) Create(ctx context.Context, link Link) (Link, error) {
	m.creates++
	if _, ok := m.links[link.Code]; ok {
		return Link{}, ErrCodeTaken
	}
	m.links[link.Code] = link
	return link, nil
}

func (m *mockRepo) GetByCode(ctx context.Context, code string) (Link, error) {
	l, ok := m.links[code]
	if !ok {
		return Link{}, ErrNotFound
	}
	return l, nil
}

func (m *mockRepo) List(ctx context.Context, limit, offset int) ([]Link, int, error) {
	out := make([]Link, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, l)
	}
	return out, len(out), nil
}

func (m *mockRepo) RecordClick(ctx context.Context, click Click) error {
	if m.clickErr != nil {
		return m.clickErr
	}
	m.clicks = append(m.clicks, click)
	for code, l := range m.links {
		if l.ID == click.LinkID {
			l.ClickCount++
			at := click.At
			l.LastClickedAt = &at
			m.links[code] = l
		}
	}
	return nil
}

func (m *mockRepo) Delete(ctx context.Context, id uuid.UUID) error {
	for code, l := range m.links {
		if l.ID == id {
			delete(m.links, code)
			return nil
		}
	}
	return ErrNotFound
}

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate(ctx context.Context) error {
	c.calls++
	return nil
}

func sequence(codes ...string) func() (string, error) {
	i := 0
	return func() (string, error) {
		code := codes[i%len(codes)]
		i++
		return code, nil
	}
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestCreateRetriesOnCollision(t *testing.T) {
	repo := newMockRepo()
	repo.links["taken1"] = Link{ID: uuid.New(), Code: "taken1"}
	inv := &countingInvalidator{}
	svc := NewService(repo, "https://vip.example/", nil,
		WithCodeGenerator(sequence("taken1", "fresh2")),
		WithInvalidator(inv),
		WithClock(func() time.Time { return fixedNow }))

	link, err := svc.Create(context.Background(), uuid.New(), " https://example.com/menu ", "Menu")
	require.NoError(t, err)
	assert.Equal(t, "fresh2", link.Code)
	assert.Equal(t, "https://example.com/menu", link.Destination)
	assert.Equal(t, fixedNow, link.CreatedAt)
	assert.Equal(t, 2, repo.creates)
	assert.Equal(t, 1, inv.calls)
	assert.Equal(t, "https://vip.example/l/fresh2", svc.URL(link))
}

func TestCreateGivesUpAfterMaxAttempts(t *testing.T) {
	repo := newMockRepo()
	repo.links["same00"] = Link{ID: uuid.New(), Code: "same00"}
	svc := NewService(repo, "", nil, WithCodeGenerator(sequence("same00")))

	_, err := svc.Create(context.Background(), uuid.New(), "https://example.com", "")
	require.ErrorIs(t, err, ErrCodeTaken)
	assert.Equal(t, maxAttempts, repo.creates)
}

func TestCreateValidatesDestination(t *testing.T) {
	svc := NewService(newMockRepo(), "", nil)
	for _, dest := range []string{"", "not a url", "ftp://files.example.com/a", "javascript:alert(1)"} {
		_, err := svc.Create(context.Background(), uuid.New(), dest, "")
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, dest)
		assert.Contains(t, verr.Fields, "Destination", dest)
		assert.True(t, errors.Is(err, ErrInvalidInput))
	}
}

func TestRandomCodeShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := randomCode()
		require.NoError(t, err)
		require.Len(t, code, codeLength)
		for _, c := range code {
			require.Contains(t, codeAlphabet, string(c))
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 45)
}

func TestResolveRecordsClick(t *testing.T) {
	repo := newMockRepo()
	id := uuid.New()
	repo.links["abc123"] = Link{ID: id, Code: "abc123", Destination: "https://example.com/book"}
	svc := NewService(repo, "", nil, WithClock(func() time.Time { return fixedNow }))

	dest, err := svc.Resolve(context.Background(), "abc123", "https://instagram.com", "UA/1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/book", dest)
	require.Len(t, repo.clicks, 1)
	assert.Equal(t, Click{LinkID: id, At: fixedNow, Referrer: "https://instagram.com", UserAgent: "UA/1"}, repo.clicks[0])
	assert.EqualValues(t, 1, repo.links["abc123"].ClickCount)

	_, err = svc.Resolve(context.Background(), "nope00", "", "")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Resolve(context.Background(), "  ", "", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveIgnoresClickFailure(t *testing.T) {
	repo := newMockRepo()
	repo.links["abc123"] = Link{ID: uuid.New(), Code: "abc123", Destination: "https://example.com"}
	repo.clickErr = errors.New("db down")
	svc := NewService(repo, "", nil)

	dest, err := svc.Resolve(context.Background(), "abc123", "", "")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", dest)
}

func TestQRProducesPNG(t *testing.T) {
	repo := newMockRepo()
	repo.links["abc123"] = Link{ID: uuid.New(), Code: "abc123"}
	svc := NewService(repo, "https://vip.example", nil)

	png, err := svc.QR(context.Background(), "abc123")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")))

	_, err = svc.QR(context.Background(), "nope00")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteInvalidates(t *testing.T) {
	repo := newMockRepo()
	repo.links["abc123"] = Link{ID: uuid.New(), Code: "abc123"}
	inv := &countingInvalidator{}
	svc := NewService(repo, "", nil, WithInvalidator(inv))

	require.NoError(t, svc.Delete(context.Background(), uuid.New(), "abc123"))
	assert.Empty(t, repo.links)
	assert.Equal(t, 1, inv.calls)
	assert.ErrorIs(t, svc.Delete(context.Background(), uuid.New(), "abc123"), ErrNotFound)
}

func TestPublicRedirect(t *testing.T) {
	repo := newMockRepo()
	repo.links["abc123"] = Link{ID: uuid.New(), Code: "abc123", Destination: "https://example.com/events"}
	h := NewHandler(nil, NewService(repo, "", nil), nil, nil, rbac.Middleware{})
	r := chi.NewRouter()
	r.Route("/l", h.MountPublic)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/l/abc123", nil))
	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "https://example.com/events", rr.Header().Get("Location"))
	assert.Len(t, repo.clicks, 1)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/l/zzzzzz", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

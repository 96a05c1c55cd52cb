package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/pablo12222/notes-manager/internal/config"
	"github.com/pablo12222/notes-manager/internal/search"
	"github.com/pablo12222/notes-manager/internal/store"
	"github.com/pablo12222/notes-manager/internal/util"
)

// CardView is the wire shape of a board card. The owner is implicit (the
// caller), and updatedAt is not exposed.
type CardView struct {
	ID        string            `json:"id"`
	Text      string            `json:"text"`
	Color     string            `json:"color"`
	Column    store.BoardColumn `json:"column"`
	Order     int               `json:"order"`
	CreatedAt time.Time         `json:"createdAt"`
}

type ProfileView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type dataStore interface {
	ListCards(context.Context, string) ([]store.BoardCard, error)
	GetCard(context.Context, string) (store.BoardCard, error)
	NextCardOrder(context.Context, string, store.BoardColumn) (int, error)
	InsertCard(context.Context, store.BoardCard) error
	ReplaceCard(context.Context, store.BoardCard) error
	DeleteCard(context.Context, string) error

	InsertNote(context.Context, store.Note) error
	GetNote(context.Context, string) (store.Note, error)
	ListNotes(context.Context, string) ([]store.Note, error)
	ReplaceNote(context.Context, store.Note) (bool, error)
	DeleteNote(context.Context, string, string) (bool, error)

	UpsertUserOnLogin(context.Context, store.User) error
	GetUser(context.Context, string) (store.User, error)

	Ping(ctx context.Context) error
}

type Service struct {
	cfg    config.Config
	store  dataStore
	mgmt   mgmtService
	search *search.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, mgmt mgmtService, searchService *search.Service) *Service {
	return &Service{cfg: cfg, store: dataStore, mgmt: mgmt, search: searchService}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// isOwner is the single ownership predicate applied before any card
// mutation.
func isOwner(ownerSub, callerSub string) bool {
	return ownerSub == callerSub
}

// fetchOwnedCard loads a card and enforces ownership: absent is NotFound,
// foreign is Forbidden. Cards deliberately distinguish the two, unlike
// notes.
func (s *Service) fetchOwnedCard(ctx context.Context, id, callerSub string) (store.BoardCard, error) {
	card, err := s.store.GetCard(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.BoardCard{}, domainError(http.StatusNotFound, "NOT_FOUND", "Card not found", nil)
	}
	if err != nil {
		return store.BoardCard{}, err
	}
	if !isOwner(card.OwnerSub, callerSub) {
		return store.BoardCard{}, domainError(http.StatusForbidden, "FORBIDDEN", "Card belongs to another user", nil)
	}
	return card, nil
}

func (s *Service) ListCards(ctx context.Context, ownerSub string) ([]CardView, error) {
	cards, err := s.store.ListCards(ctx, ownerSub)
	if err != nil {
		return nil, err
	}
	views := make([]CardView, 0, len(cards))
	for _, card := range cards {
		views = append(views, cardView(card))
	}
	return views, nil
}

func (s *Service) AddCard(ctx context.Context, ownerSub, text, color string, column store.BoardColumn) (CardView, error) {
	order, err := s.store.NextCardOrder(ctx, ownerSub, column)
	if err != nil {
		return CardView{}, err
	}
	card := store.BoardCard{
		ID:        util.NewCardID(),
		OwnerSub:  ownerSub,
		Text:      text,
		Color:     color,
		Column:    column,
		Order:     order,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertCard(ctx, card); err != nil {
		return CardView{}, err
	}
	return cardView(card), nil
}

func (s *Service) UpdateCard(ctx context.Context, id, ownerSub, text, color string) (CardView, error) {
	card, err := s.fetchOwnedCard(ctx, id, ownerSub)
	if err != nil {
		return CardView{}, err
	}
	card.Text = text
	card.Color = color
	if err := s.store.ReplaceCard(ctx, card); err != nil {
		return CardView{}, err
	}
	return cardView(card), nil
}

// MoveCard appends the card to the end of the target column. A move into
// the card's current column still recomputes the order; clients observe the
// card jumping to the end, and that behavior is kept.
func (s *Service) MoveCard(ctx context.Context, id, ownerSub string, targetColumn store.BoardColumn) error {
	card, err := s.fetchOwnedCard(ctx, id, ownerSub)
	if err != nil {
		return err
	}
	order, err := s.store.NextCardOrder(ctx, ownerSub, targetColumn)
	if err != nil {
		return err
	}
	card.Column = targetColumn
	card.Order = order
	return s.store.ReplaceCard(ctx, card)
}

// ReorderCards rewrites order values to each card's index in orderedIds.
// Ids that are foreign, unknown, or in a different column are skipped
// without error; cards omitted from orderedIds keep their old order. Writes
// are independent, so a failure partway leaves a partially reordered
// column.
func (s *Service) ReorderCards(ctx context.Context, ownerSub string, column store.BoardColumn, orderedIds []string) error {
	cards, err := s.store.ListCards(ctx, ownerSub)
	if err != nil {
		return err
	}
	inColumn := make(map[string]store.BoardCard, len(cards))
	for _, card := range cards {
		if card.Column == column {
			inColumn[card.ID] = card
		}
	}
	for i, id := range orderedIds {
		card, ok := inColumn[id]
		if !ok {
			continue
		}
		card.Order = i
		if err := s.store.ReplaceCard(ctx, card); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) DeleteCard(ctx context.Context, id, ownerSub string) error {
	if _, err := s.fetchOwnedCard(ctx, id, ownerSub); err != nil {
		return err
	}
	return s.store.DeleteCard(ctx, id)
}

func cardView(card store.BoardCard) CardView {
	return CardView{
		ID:        card.ID,
		Text:      card.Text,
		Color:     card.Color,
		Column:    card.Column,
		Order:     card.Order,
		CreatedAt: card.CreatedAt,
	}
}

// ── Notes ──

func (s *Service) AddNote(ctx context.Context, userSub, title, content string) (store.Note, error) {
	now := time.Now().UTC()
	note := store.Note{
		ID:        util.NewID("note"),
		UserSub:   userSub,
		Title:     title,
		Content:   content,
		Status:    "todo",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertNote(ctx, note); err != nil {
		return store.Note{}, err
	}
	s.indexNote(note)
	return note, nil
}

// GetNote treats a foreign note exactly like a missing one. Notes never
// reveal Forbidden; that asymmetry with cards is load-bearing for clients.
func (s *Service) GetNote(ctx context.Context, id, userSub string) (store.Note, error) {
	note, err := s.store.GetNote(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Note{}, domainError(http.StatusNotFound, "NOT_FOUND", "Note not found", nil)
	}
	if err != nil {
		return store.Note{}, err
	}
	if note.UserSub != userSub {
		return store.Note{}, domainError(http.StatusNotFound, "NOT_FOUND", "Note not found", nil)
	}
	return note, nil
}

func (s *Service) ListNotes(ctx context.Context, userSub string) ([]store.Note, error) {
	return s.store.ListNotes(ctx, userSub)
}

// UpdateNote returns false, not an error, when the note is absent or owned
// by someone else. Status changes only when a non-blank value is supplied.
func (s *Service) UpdateNote(ctx context.Context, id, userSub, title, content, status string) (bool, error) {
	existing, err := s.store.GetNote(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if existing.UserSub != userSub {
		return false, nil
	}

	existing.Title = title
	existing.Content = content
	if strings.TrimSpace(status) != "" {
		existing.Status = status
	}

	ok, err := s.store.ReplaceNote(ctx, existing)
	if err != nil {
		return false, err
	}
	if ok {
		s.indexNote(existing)
	}
	return ok, nil
}

func (s *Service) DeleteNote(ctx context.Context, id, userSub string) (bool, error) {
	ok, err := s.store.DeleteNote(ctx, id, userSub)
	if err != nil {
		return false, err
	}
	if ok && s.search != nil {
		s.search.DeleteNote(id)
	}
	return ok, nil
}

func (s *Service) SearchNotes(ctx context.Context, userSub, q string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q}, nil
	}
	return s.search.Search(ctx, search.Query{
		UserSub: userSub,
		Text:    q,
		Limit:   limit,
		Offset:  offset,
	}), nil
}

func (s *Service) indexNote(note store.Note) {
	if s.search == nil {
		return
	}
	s.search.IndexNote(search.NoteRecord{
		ID:      note.ID,
		UserSub: note.UserSub,
		Title:   note.Title,
		Content: note.Content,
		Status:  note.Status,
	})
}

// ── Profile ──

// Profile touches the user record (create-if-absent, refresh email/name and
// last-seen) and returns the stored view.
func (s *Service) Profile(ctx context.Context, sub, name, email string) (ProfileView, error) {
	if err := s.store.UpsertUserOnLogin(ctx, store.User{ID: sub, Email: email, Name: name}); err != nil {
		return ProfileView{}, err
	}
	user, err := s.store.GetUser(ctx, sub)
	if errors.Is(err, sql.ErrNoRows) {
		return ProfileView{ID: sub, Email: email, Name: name}, nil
	}
	if err != nil {
		return ProfileView{}, err
	}
	return ProfileView{ID: user.ID, Email: user.Email, Name: user.Name}, nil
}

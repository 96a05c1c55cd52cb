package store

import "time"

// BoardColumn is ordinal-encoded on the wire: 0 Backlog, 1 Doing, 2 Done.
type BoardColumn int

const (
	ColumnBacklog BoardColumn = 0
	ColumnDoing   BoardColumn = 1
	ColumnDone    BoardColumn = 2
)

func (c BoardColumn) Valid() bool {
	return c >= ColumnBacklog && c <= ColumnDone
}

// DefaultCardColor is the palette entry used when a card is created without
// an explicit color.
const DefaultCardColor = "#FDF3A7"

type BoardCard struct {
	ID        string
	OwnerSub  string
	Text      string
	Color     string
	Column    BoardColumn
	Order     int
	CreatedAt time.Time
	UpdatedAt *time.Time
}

type Note struct {
	ID        string    `json:"id"`
	UserSub   string    `json:"userSub"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// User mirrors the identity-provider subject locally; touched on every
// profile read.
type User struct {
	ID         string
	Email      string
	Name       string
	CreatedAt  time.Time
	LastSeenAt *time.Time
}

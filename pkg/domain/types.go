package domain

import "time"

// Caller is the authenticated identity behind a request, as reported by the
// identity service.
type Caller struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
}

// Authenticated reports whether the caller carries both an id and a display name.
func (c Caller) Authenticated() bool {
	return c.ID != "" && c.FirstName != ""
}

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Companion is a user-authored AI persona.
type Companion struct {
	ID           string    `json:"id"`
	CategoryID   string    `json:"categoryId"`
	UserID       string    `json:"userId"`
	UserName     string    `json:"userName"`
	Src          string    `json:"src"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Instructions string    `json:"instructions"`
	Seed         string    `json:"seed"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// CompanionFilter narrows companion listings. Empty fields match everything.
type CompanionFilter struct {
	CategoryID string
	Name       string
	UserID     string
}

type MessageRole string

const (
	RoleUser   MessageRole = "user"
	RoleSystem MessageRole = "system"
)

type Message struct {
	ID          string            `json:"id"`
	CompanionID string            `json:"companionId"`
	UserID      string            `json:"userId"`
	Role        MessageRole       `json:"role"`
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// CompanionInput is the editable part of a Companion, as submitted by the form.
type CompanionInput struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Instructions string `json:"instructions"`
	Seed         string `json:"seed"`
	Src          string `json:"src"`
	CategoryID   string `json:"categoryID"`
}

// Input returns the editable fields of c.
func (c Companion) Input() CompanionInput {
	return CompanionInput{
		Name:         c.Name,
		Description:  c.Description,
		Instructions: c.Instructions,
		Seed:         c.Seed,
		Src:          c.Src,
		CategoryID:   c.CategoryID,
	}
}

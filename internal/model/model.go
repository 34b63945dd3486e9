// Package model содержит доменные сущности библиотечной системы.
package model

import "time"

// Role описывает роль участника библиотеки.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid сообщает, является ли роль известной.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// Book описывает книгу каталога и счётчик доступных экземпляров.
type Book struct {
	ID                   int64  `json:"id"`
	Title                string `json:"title"`
	Author               string `json:"author"`
	Publisher            string `json:"publisher,omitempty"`
	Genre                string `json:"genre,omitempty"`
	ISBN                 string `json:"isbn,omitempty"`
	TotalNumOfCopies     int    `json:"totalNumOfCopies"`
	AvailableNumOfCopies int    `json:"availableNumOfCopies"`
}

// Member описывает участника библиотеки.
type Member struct {
	ID        int64   `json:"id"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Email     string  `json:"email"`
	Phone     string  `json:"phone,omitempty"`
	Address   string  `json:"address,omitempty"`
	Wallet    float64 `json:"wallet"`
	Role      Role    `json:"role"`
}

// Transaction описывает заявку участника на выдачу книги.
type Transaction struct {
	ID          int64      `json:"id"`
	MemberID    int64      `json:"memberId"`
	BookID      int64      `json:"bookId"`
	BookStatus  BookStatus `json:"bookStatus"`
	DateOfIssue time.Time  `json:"dateOfIssue"`
}

// DateLayout задаёт формат даты выдачи.
const DateLayout = "2006-01-02"

// Today возвращает календарную дату момента t в UTC.
func Today(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// InventoryReport сравнивает счётчик каталога с активными заявками по книге.
type InventoryReport struct {
	BookID    int64 `json:"bookId"`
	Total     int   `json:"total"`
	Available int   `json:"available"`
	Active    int   `json:"active"`
	// Consistent истинно, если available == total - active и счётчик в пределах [0, total].
	Consistent bool `json:"consistent"`
}

// NewInventoryReport строит отчёт по книге и числу активных заявок.
func NewInventoryReport(b *Book, active int) InventoryReport {
	return InventoryReport{
		BookID:    b.ID,
		Total:     b.TotalNumOfCopies,
		Available: b.AvailableNumOfCopies,
		Active:    active,
		Consistent: b.AvailableNumOfCopies >= 0 &&
			b.AvailableNumOfCopies <= b.TotalNumOfCopies &&
			b.AvailableNumOfCopies == b.TotalNumOfCopies-active,
	}
}

package model

import "fmt"

// BookStatus описывает состояние заявки на выдачу.
type BookStatus string

const (
	BookStatusPending  BookStatus = "pending"
	BookStatusIssued   BookStatus = "issued"
	BookStatusRejected BookStatus = "rejected"
	BookStatusReturned BookStatus = "returned"
)

// Valid сообщает, является ли статус известным.
func (s BookStatus) Valid() bool {
	switch s {
	case BookStatusPending, BookStatusIssued, BookStatusRejected, BookStatusReturned:
		return true
	}
	return false
}

// IsTerminal сообщает, что из статуса нет переходов.
func (s BookStatus) IsTerminal() bool {
	return s == BookStatusRejected || s == BookStatusReturned
}

// HoldsCopy сообщает, что заявка в этом статусе удерживает экземпляр книги.
func (s BookStatus) HoldsCopy() bool {
	return s == BookStatusPending || s == BookStatusIssued
}

// Action описывает действие над заявкой.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionReturn  Action = "return"
)

// ReleasesCopy сообщает, что действие возвращает экземпляр в каталог.
func (a Action) ReleasesCopy() bool {
	return a == ActionReject || a == ActionReturn
}

type transitionKey struct {
	from   BookStatus
	action Action
}

var transitions = map[transitionKey]BookStatus{
	{BookStatusPending, ActionApprove}: BookStatusIssued,
	{BookStatusPending, ActionReject}:  BookStatusRejected,
	{BookStatusIssued, ActionReturn}:   BookStatusReturned,
}

// Transition возвращает статус, в который переводит действие a из статуса from.
// Недопустимая пара возвращает ErrInvalidState.
func Transition(from BookStatus, a Action) (BookStatus, error) {
	to, ok := transitions[transitionKey{from: from, action: a}]
	if !ok {
		return "", fmt.Errorf("%w: cannot %s transaction in status %q", ErrInvalidState, a, from)
	}
	return to, nil
}

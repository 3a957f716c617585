package property

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type BuildingInput struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type BuildingPatch struct {
	Name    *string `json:"name"`
	Address *string `json:"address"`
}

type ApartmentInput struct {
	Number    string `json:"number"`
	Floor     int    `json:"floor"`
	OwnerName string `json:"owner_name"`
	Shares    Shares `json:"shares"`
}

type ApartmentPatch struct {
	Number    *string `json:"number"`
	Floor     *int    `json:"floor"`
	OwnerName *string `json:"owner_name"`
	Shares    *Shares `json:"shares"`
}

type ExpenseInput struct {
	Category    Category  `json:"category"`
	Description string    `json:"description"`
	AmountCents int64     `json:"amount_cents"`
	IncurredOn  time.Time `json:"incurred_on"`
}

type ExpensePatch struct {
	Category    *Category  `json:"category"`
	Description *string    `json:"description"`
	AmountCents *int64     `json:"amount_cents"`
	IncurredOn  *time.Time `json:"incurred_on"`
}

type PaymentInput struct {
	ApartmentID string    `json:"apartment_id"`
	AmountCents int64     `json:"amount_cents"`
	PaidOn      time.Time `json:"paid_on"`
	Reference   string    `json:"reference"`
}

type PaymentPatch struct {
	AmountCents *int64     `json:"amount_cents"`
	PaidOn      *time.Time `json:"paid_on"`
	Reference   *string    `json:"reference"`
}

func (p BuildingPatch) apply(b *Building) {
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.Address != nil {
		b.Address = *p.Address
	}
}

func (p ApartmentPatch) apply(a *Apartment) {
	if p.Number != nil {
		a.Number = *p.Number
	}
	if p.Floor != nil {
		a.Floor = *p.Floor
	}
	if p.OwnerName != nil {
		a.OwnerName = *p.OwnerName
	}
	if p.Shares != nil {
		a.Shares = *p.Shares
	}
}

func (p ExpensePatch) apply(e *Expense) {
	if p.Category != nil {
		e.Category = *p.Category
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.AmountCents != nil {
		e.AmountCents = *p.AmountCents
	}
	if p.IncurredOn != nil {
		e.IncurredOn = *p.IncurredOn
	}
}

func (p PaymentPatch) apply(pm *Payment) {
	if p.AmountCents != nil {
		pm.AmountCents = *p.AmountCents
	}
	if p.PaidOn != nil {
		pm.PaidOn = *p.PaidOn
	}
	if p.Reference != nil {
		pm.Reference = *p.Reference
	}
}

func normalizeBuilding(b *Building) error {
	b.Name = strings.TrimSpace(b.Name)
	b.Address = strings.TrimSpace(b.Address)
	if b.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	return nil
}

func normalizeApartment(a *Apartment) error {
	a.Number = strings.TrimSpace(a.Number)
	a.OwnerName = strings.TrimSpace(a.OwnerName)
	if a.Number == "" {
		return fmt.Errorf("%w: number is required", ErrInvalidInput)
	}
	return a.Shares.Validate()
}

// Validate checks each share against [0,100]. The sum across a building is
// not constrained.
func (s Shares) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"common", s.Common},
		{"elevator", s.Elevator},
		{"heating", s.Heating},
		{"special", s.Special},
		{"owner_borne", s.OwnerBorne},
		{"other", s.Other},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || f.value < 0 || f.value > 100 {
			return fmt.Errorf("%w: share %s must be within [0,100]", ErrInvalidInput, f.name)
		}
	}
	return nil
}

func normalizeExpense(e *Expense) error {
	e.Category = Category(strings.ToLower(strings.TrimSpace(string(e.Category))))
	e.Description = strings.TrimSpace(e.Description)
	if !e.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidInput, e.Category)
	}
	if e.AmountCents <= 0 {
		return fmt.Errorf("%w: amount_cents must be positive", ErrInvalidInput)
	}
	if e.IncurredOn.IsZero() {
		return fmt.Errorf("%w: incurred_on is required", ErrInvalidInput)
	}
	e.IncurredOn = e.IncurredOn.UTC()
	return nil
}

func normalizePayment(p *Payment) error {
	p.ApartmentID = strings.TrimSpace(p.ApartmentID)
	p.Reference = strings.TrimSpace(p.Reference)
	if p.ApartmentID == "" {
		return fmt.Errorf("%w: apartment_id is required", ErrInvalidInput)
	}
	if p.AmountCents <= 0 {
		return fmt.Errorf("%w: amount_cents must be positive", ErrInvalidInput)
	}
	if p.PaidOn.IsZero() {
		return fmt.Errorf("%w: paid_on is required", ErrInvalidInput)
	}
	p.PaidOn = p.PaidOn.UTC()
	return nil
}

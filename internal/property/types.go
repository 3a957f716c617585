package property

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("property: not found")
	ErrConflict     = errors.New("property: conflicting state")
	ErrInvalidInput = errors.New("property: invalid input")
)

// State tags an entity's lifecycle.
type State string

const (
	StateActive  State = "ACTIVE"
	StateDeleted State = "DELETED"
)

// Lifecycle records whether an entity is live. Deleted entities stay in the
// store and remain readable by id.
type Lifecycle struct {
	State     State      `json:"state"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func Active() Lifecycle { return Lifecycle{State: StateActive} }

// DeletedAt marks an entity deleted at t.
func DeletedAt(t time.Time) Lifecycle {
	t = t.UTC()
	return Lifecycle{State: StateDeleted, DeletedAt: &t}
}

func (l Lifecycle) Deleted() bool { return l.State == StateDeleted }

// Building is the tenant boundary.
type Building struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Status    Lifecycle `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Shares are an apartment's percentage participation in each expense
// category. Each value lies in [0,100].
type Shares struct {
	Common     float64 `json:"common"`
	Elevator   float64 `json:"elevator"`
	Heating    float64 `json:"heating"`
	Special    float64 `json:"special"`
	OwnerBorne float64 `json:"owner_borne"`
	Other      float64 `json:"other"`
}

type Apartment struct {
	ID         string    `json:"id"`
	BuildingID string    `json:"building_id"`
	Number     string    `json:"number"`
	Floor      int       `json:"floor"`
	OwnerName  string    `json:"owner_name,omitempty"`
	Shares     Shares    `json:"shares"`
	Status     Lifecycle `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Category is the expense bucket an apartment's share applies to.
type Category string

const (
	CategoryCommon     Category = "common"
	CategoryElevator   Category = "elevator"
	CategoryHeating    Category = "heating"
	CategorySpecial    Category = "special"
	CategoryOwnerBorne Category = "owner_borne"
	CategoryOther      Category = "other"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryCommon, CategoryElevator, CategoryHeating, CategorySpecial, CategoryOwnerBorne, CategoryOther:
		return true
	}
	return false
}

type Expense struct {
	ID          string    `json:"id"`
	BuildingID  string    `json:"building_id"`
	Category    Category  `json:"category"`
	Description string    `json:"description"`
	AmountCents int64     `json:"amount_cents"`
	IncurredOn  time.Time `json:"incurred_on"`
	Status      Lifecycle `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Payment struct {
	ID          string    `json:"id"`
	BuildingID  string    `json:"building_id"`
	ApartmentID string    `json:"apartment_id"`
	AmountCents int64     `json:"amount_cents"`
	PaidOn      time.Time `json:"paid_on"`
	Reference   string    `json:"reference,omitempty"`
	Status      Lifecycle `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Entity kinds as recorded in audit entries.
const (
	KindBuilding  = "building"
	KindApartment = "apartment"
	KindExpense   = "expense"
	KindPayment   = "payment"
)

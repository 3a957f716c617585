package property

import "estatly.org/internal/authz"

const (
	OpBuildingCreate authz.Operation = "building.create"
	OpBuildingGet    authz.Operation = "building.get"
	OpBuildingList   authz.Operation = "building.list"
	OpBuildingUpdate authz.Operation = "building.update"
	OpBuildingDelete authz.Operation = "building.delete"

	OpApartmentCreate authz.Operation = "apartment.create"
	OpApartmentGet    authz.Operation = "apartment.get"
	OpApartmentList   authz.Operation = "apartment.list"
	OpApartmentUpdate authz.Operation = "apartment.update"
	OpApartmentDelete authz.Operation = "apartment.delete"

	OpExpenseCreate authz.Operation = "expense.create"
	OpExpenseGet    authz.Operation = "expense.get"
	OpExpenseList   authz.Operation = "expense.list"
	OpExpenseUpdate authz.Operation = "expense.update"
	OpExpenseDelete authz.Operation = "expense.delete"

	OpPaymentCreate authz.Operation = "payment.create"
	OpPaymentGet    authz.Operation = "payment.get"
	OpPaymentList   authz.Operation = "payment.list"
	OpPaymentUpdate authz.Operation = "payment.update"
	OpPaymentDelete authz.Operation = "payment.delete"
)

var (
	superOnly = []authz.Role{authz.RoleSuperAdmin}
	admins    = []authz.Role{authz.RoleSuperAdmin, authz.RoleBuildingAdmin}
	readers   = []authz.Role{authz.RoleSuperAdmin, authz.RoleBuildingAdmin, authz.RoleReadOnly}
)

// Operations is the role table for every property operation.
var Operations = map[authz.Operation][]authz.Role{
	OpBuildingCreate: superOnly,
	OpBuildingDelete: superOnly,
	OpBuildingUpdate: admins,
	OpBuildingGet:    readers,
	OpBuildingList:   readers,

	OpApartmentCreate: admins,
	OpApartmentUpdate: admins,
	OpApartmentDelete: admins,
	OpApartmentGet:    readers,
	OpApartmentList:   readers,

	OpExpenseCreate: admins,
	OpExpenseUpdate: admins,
	OpExpenseDelete: admins,
	OpExpenseGet:    readers,
	OpExpenseList:   readers,

	OpPaymentCreate: admins,
	OpPaymentUpdate: admins,
	OpPaymentDelete: admins,
	OpPaymentGet:    readers,
	OpPaymentList:   readers,
}

// RegisterOperations declares the property operations on p.
func RegisterOperations(p *authz.Policy) error {
	for op, roles := range Operations {
		if err := p.Register(op, roles...); err != nil {
			return err
		}
	}
	return nil
}

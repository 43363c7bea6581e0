package enums

import "fmt"

// UserRole is the portal a caller authenticates against.
type UserRole string

const (
	UserRoleAdmin       UserRole = "admin"
	UserRoleDistributor UserRole = "distributor"
	UserRoleRetailer    UserRole = "retailer"
	UserRoleCustomer    UserRole = "customer"
)

var validUserRoles = []UserRole{
	UserRoleAdmin,
	UserRoleDistributor,
	UserRoleRetailer,
	UserRoleCustomer,
}

func (r UserRole) String() string {
	return string(r)
}

func (r UserRole) IsValid() bool {
	for _, candidate := range validUserRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// Staff roles may act on orders they do not own.
func (r UserRole) Staff() bool {
	return r == UserRoleAdmin || r == UserRoleDistributor
}

func ParseUserRole(value string) (UserRole, error) {
	for _, candidate := range validUserRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid user role %q", value)
}

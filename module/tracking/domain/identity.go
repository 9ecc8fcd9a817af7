package domain

type Role string

const (
	RoleAnonymous    Role = ""
	RoleDriver       Role = "driver"
	RoleVehicleAgent Role = "vehicle_agent"
	RoleDispatcher   Role = "dispatcher"
	RoleViewer       Role = "viewer"
	RoleAdmin        Role = "admin"
)

// CallerIdentity is the authenticated principal behind a request or a
// connection. The zero value is an anonymous caller.
type CallerIdentity struct {
	UserID    string `json:"userId"`
	CompanyID string `json:"companyId"`
	Role      Role   `json:"role"`
}

func (c CallerIdentity) Anonymous() bool {
	return c.UserID == ""
}

func (c CallerIdentity) CanReport() bool {
	return c.Role == RoleDriver || c.Role == RoleVehicleAgent
}

func (c CallerIdentity) CanManageZones() bool {
	return c.Role == RoleDispatcher || c.Role == RoleAdmin
}

func (c CallerIdentity) IsAdmin() bool {
	return c.Role == RoleAdmin
}

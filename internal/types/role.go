package types

type Role string

const (
	RoleWalker   Role = "WALKER"
	RoleWanderer Role = "WANDERER"
)

func (r Role) Valid() bool {
	return r == RoleWalker || r == RoleWanderer
}

package negotiation

// Role decides which side yields when both peers offer simultaneously.
type Role int

const (
	// Polite peers abandon their own offer when a collision happens.
	Polite Role = iota
	// Impolite peers send the initial offer and ignore colliding ones.
	Impolite
)

func (r Role) String() string {
	if r == Impolite {
		return "impolite"
	}
	return "polite"
}

// RoleBetween derives the local peer's role from the two identity strings.
// Lexicographic order is total and known identically to both sides, so the
// two endpoints of a session always compute complementary roles with no
// extra coordination: the smaller identity is Impolite and initiates.
func RoleBetween(localID, remoteID string) Role {
	if localID < remoteID {
		return Impolite
	}
	return Polite
}

package session

// IncorrectPasswordReason is sent to clients that present a wrong password.
const IncorrectPasswordReason = "Incorrect password."

// Gate decides whether a connection attempt may join the session.
type Gate struct {
	password string
}

// NewGate creates a gate for password. An empty password admits everyone.
func NewGate(password string) *Gate {
	return &Gate{password: password}
}

// Evaluate checks credential against the session password.
//
// Returns nil to accept, or an ErrRejected *Error whose Message is the
// reason to send to the peer.
func (g *Gate) Evaluate(credential string) error {
	if g.password == "" || credential == g.password {
		return nil
	}
	return &Error{Code: ErrRejected, Message: IncorrectPasswordReason}
}

// RequiresPassword reports whether the gate checks credentials at all.
func (g *Gate) RequiresPassword() bool {
	return g.password != ""
}

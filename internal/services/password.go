package services

import "time"

const (
	passwordUpper   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	passwordLower   = "abcdefghijklmnopqrstuvwxyz"
	passwordDigits  = "0123456789"
	passwordSpecial = "!@#$%^&*()_+-=[]{}|;:,.<>?"
	passwordAll     = passwordUpper + passwordLower + passwordDigits + passwordSpecial

	// PasswordLength is the length of generated initial passwords.
	PasswordLength = 12
)

// lcg is a 32-bit linear congruential generator (Numerical Recipes constants).
//
// It is not cryptographically secure. Generated passwords are one-time values: accounts are created
// with mustchangepassword=true.
type lcg struct{ state uint64 }

func (g *lcg) next() int {
	// Wrapping uint64 arithmetic agrees with the exact value modulo 2^32.
	g.state = (1664525*g.state + 1013904223) % (1 << 32)
	return int(g.state)
}

func (g *lcg) pick(set string) byte {
	return set[g.next()%len(set)]
}

// GeneratePassword returns a 12 character password with at least one upper, lower, digit and special
// character, seeded from the wall clock.
func GeneratePassword() string {
	return generatePassword(uint64(time.Now().UnixNano()))
}

func generatePassword(seed uint64) string {
	g := &lcg{state: seed}

	pw := make([]byte, 0, PasswordLength)
	pw = append(pw, g.pick(passwordUpper), g.pick(passwordLower), g.pick(passwordDigits), g.pick(passwordSpecial))
	for len(pw) < PasswordLength {
		pw = append(pw, g.pick(passwordAll))
	}

	for i := range pw {
		j := g.next() % len(pw)
		pw[i], pw[j] = pw[j], pw[i]
	}
	return string(pw)
}

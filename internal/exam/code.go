package exam

import (
	"strings"

	"github.com/google/uuid"
)

const (
	CodeLength   = 6
	codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// studentNamespace scopes student ids so they never collide with ids derived
// elsewhere from the same input.
var studentNamespace = uuid.MustParse("6f1f3c8e-2b8a-4f6e-9a57-0c7d1c3b5e21")

// GenerateCode returns a random 6-character upper-case base-36 code.
func GenerateCode(r Rand) string {
	var b strings.Builder
	b.Grow(CodeLength)
	for range CodeLength {
		b.WriteByte(codeAlphabet[r.IntN(len(codeAlphabet))])
	}
	return b.String()
}

// NormalizeCode trims and upper-cases a user-entered code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether code is exactly 6 base-36 characters after
// normalization.
func ValidCode(code string) bool {
	code = NormalizeCode(code)
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(codeAlphabet, rune(code[i])) {
			return false
		}
	}
	return true
}

// StudentID derives a stable id from the classroom code and the trimmed
// display name, so rejoining with the same name recovers the same record.
// Two students choosing the same name in one classroom share an id.
func StudentID(code, name string) string {
	key := NormalizeCode(code) + "\x00" + strings.TrimSpace(name)
	return uuid.NewSHA1(studentNamespace, []byte(key)).String()
}

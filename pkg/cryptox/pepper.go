package cryptox

import "sync"

var (
	pepperMu sync.RWMutex
	pepper   []byte
)

// SetPepper configures a process-wide pepper mixed into secret hashes.
// Call once at startup before any secrets are hashed or verified.
// Changing the pepper invalidates every previously stored hash.
func SetPepper(value string) {
	pepperMu.Lock()
	defer pepperMu.Unlock()
	pepper = []byte(value)
}

func pepperInput(secret string) []byte {
	pepperMu.RLock()
	defer pepperMu.RUnlock()
	if len(pepper) == 0 {
		return []byte(secret)
	}
	buf := make([]byte, 0, len(secret)+len(pepper))
	buf = append(buf, secret...)
	buf = append(buf, pepper...)
	return buf
}

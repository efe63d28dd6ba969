/*
Package randx provides cryptographically secure identifiers.

Record identifiers are UUIDs (time-ordered v7 where available); connection
identifiers are short Base62 strings meant for logs.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// ConnectionIDLength is the length of a generated connection id.
	ConnectionIDLength = 10
)

// RecordID returns a new UUID string for a stored record. It prefers UUIDv7 so
// ids sort by creation time, and falls back to v4.
func RecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// ConnectionID returns a random Base62 identifier for one websocket connection.
func ConnectionID() (string, error) {
	return base62(ConnectionIDLength)
}

func base62(length int) (string, error) {
	result := make([]byte, length)

	for i := range length {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number for base62 id: %w", err)
		}

		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

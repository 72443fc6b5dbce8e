package localstore

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Identity scopes a stored cache. Caches written under one identity never
// load under another, so a schema bump invalidates older images.
type Identity struct {
	ChainID       uint64
	World         string
	SchemaVersion string
}

func (id Identity) String() string {
	return fmt.Sprintf("%d/%s/%s", id.ChainID, strings.ToLower(id.World), id.SchemaVersion)
}

// Key derives the storage key: a Keccak-256 of the canonical identity string.
func (id Identity) Key() string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(id.String()))
	return hex.EncodeToString(h.Sum(nil))
}

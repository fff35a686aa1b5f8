package badger

import "fmt"

// Database Key Namespace Design
// ==============================
//
// BadgerDB is a key-value store, so records are organized into logical
// namespaces by key prefix:
//
// Data Type        Prefix   Key Format                          Value Type
// ===========================================================================
// File Data        "f:"     f:<fileKey>                         File (JSON)
// ID Index         "i:"     i:<fileID hex>                      fileKey (bytes)
// Children Index   "c:"     c:<parentKey>:<childKey>            empty
// Role Grants      "g:"     g:<fileID hex>:<memberID hex>       RoleSet (1 byte)
// ID Sequence      "seq:"   seq:file                            badger.Sequence
//
// Notes:
//   - Root-level files live under the empty parent: "c::<childKey>"
//   - Grants are keyed file-first so deleting a file is one prefix scan
//   - IDs are hex-encoded with fixed width so prefix scans never overlap
//     (g:00..01: is not a prefix of g:00..10:)

const (
	prefixFile   = "f:"
	prefixID     = "i:"
	prefixChild  = "c:"
	prefixGrant  = "g:"
	keySequence  = "seq:file"
	idHexDigits  = 16
	sequenceSize = 100
)

func hexID(id int64) string {
	return fmt.Sprintf("%0*x", idHexDigits, uint64(id))
}

func keyFile(key string) []byte {
	return []byte(prefixFile + key)
}

func keyID(id int64) []byte {
	return []byte(prefixID + hexID(id))
}

func keyChild(parentKey, childKey string) []byte {
	return []byte(prefixChild + parentKey + ":" + childKey)
}

// keyChildPrefix is the range scan prefix for every child of parentKey.
func keyChildPrefix(parentKey string) []byte {
	return []byte(prefixChild + parentKey + ":")
}

func keyGrant(fileID, memberID int64) []byte {
	return []byte(prefixGrant + hexID(fileID) + ":" + hexID(memberID))
}

// keyGrantPrefix is the range scan prefix for every grant on fileID.
func keyGrantPrefix(fileID int64) []byte {
	return []byte(prefixGrant + hexID(fileID) + ":")
}

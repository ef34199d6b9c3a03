package object

import (
	"crypto/sha1"
	"fmt"
)

// HashObject computes the object id of the envelope "type len\0content",
// mirroring the underlying object model's own content addressing.
func HashObject(objType ObjectType, data []byte) ObjectID {
	header := fmt.Sprintf("%s %d\x00", objType, len(data))
	h := sha1.New()
	h.Write([]byte(header))
	h.Write(data)
	var id ObjectID
	copy(id[:], h.Sum(nil))
	return id
}

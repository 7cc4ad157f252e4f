package pipeline

import (
	"strconv"

	"github.com/google/uuid"
)

// chunkNamespace scopes chunk ids so they never collide with ids minted
// elsewhere.
var chunkNamespace = uuid.MustParse("3f6c1a52-8e0b-4c1e-9d7a-2b5f0e4a9c11")

// ChunkID is stable for a document and chunk index, so re-ingesting a
// document overwrites its chunks instead of duplicating them.
func ChunkID(docID string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(docID+":"+strconv.Itoa(index))).String()
}

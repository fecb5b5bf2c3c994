package record

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	objectIDProcess [5]byte
	objectIDCounter atomic.Uint32
)

func init() {
	if _, err := rand.Read(objectIDProcess[:]); err != nil {
		panic("record: cannot seed object id generator: " + err.Error())
	}
	var seed [4]byte
	_, _ = rand.Read(seed[:])
	objectIDCounter.Store(binary.BigEndian.Uint32(seed[:]))
}

// NewObjectID returns a 24 character hex token laid out like a BSON ObjectID:
// 4 bytes of unix time, 5 random per-process bytes and a 3 byte counter.
func NewObjectID() string {
	var b [12]byte
	binary.BigEndian.PutUint32(b[0:4], uint32(time.Now().Unix()))
	copy(b[4:9], objectIDProcess[:])
	n := objectIDCounter.Add(1)
	b[9] = byte(n >> 16)
	b[10] = byte(n >> 8)
	b[11] = byte(n)
	return hex.EncodeToString(b[:])
}

// UUIDGenerator returns random v4 uuids as 32 hex characters.
func UUIDGenerator() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// ULIDGenerator returns a generator of lexically sortable ULIDs. Ids created
// within the same millisecond stay monotonic.
func ULIDGenerator() func() string {
	var mu sync.Mutex
	entropy := ulid.Monotonic(rand.Reader, 0)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
	}
}

// Package sid allocates session identifiers.
//
// An ID packs {timestamp ms : 41 bits, gateway lease : 10 bits, counter : 12
// bits} into a uint64. IDs are unique across the whole deployment as long as
// every gateway holds a distinct lease, and strictly monotonic within one
// lease. The timestamp is milliseconds since a custom epoch so 41 bits last
// until ~2089.
package sid

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// ID is a session identifier. The zero value is never issued.
type ID uint64

const (
	// Epoch is 2020-01-01T00:00:00Z in unix milliseconds. Timestamps in an
	// ID are relative to it.
	Epoch int64 = 1577836800000

	timestampBits = 41
	leaseBits     = 10
	counterBits   = 12

	// MaxLease is the largest lease id a coordinator may hand out.
	MaxLease = (1 << leaseBits) - 1

	counterMask = (1 << counterBits) - 1
	leaseShift  = counterBits
	tsShift     = counterBits + leaseBits
)

// Timestamp returns the allocation time encoded in the id.
func (id ID) Timestamp() time.Time {
	ms := int64(uint64(id)>>tsShift) + Epoch
	return time.UnixMilli(ms)
}

// Lease returns the gateway lease the id was allocated under.
func (id ID) Lease() uint16 { return uint16(uint64(id) >> leaseShift & MaxLease) }

// Counter returns the intra-millisecond sequence number.
func (id ID) Counter() uint16 { return uint16(uint64(id) & counterMask) }

func (id ID) String() string { return fmt.Sprintf("%016x", uint64(id)) }

// Parse decodes an id previously formatted by String. Scripts and wire
// payloads carry ids as hex strings.
func Parse(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("sid: parse %q: %w", s, err)
	}
	return ID(v), nil
}

// ErrClockDrift is returned when the wall clock has moved backward past the
// allocator's tolerance. The lease must be considered invalid at that point;
// callers treat this as fatal.
var ErrClockDrift = errors.New("sid: clock moved backward beyond drift tolerance")

// Allocator issues IDs for one gateway lease. Safe for concurrent use; the
// accept path of every listener shares one allocator.
type Allocator struct {
	mu       sync.Mutex
	lease    uint16
	lastMs   int64
	counter  uint16
	maxDrift time.Duration

	// now is split out for tests.
	now func() int64
}

// NewAllocator returns an allocator bound to lease. maxDrift is how far the
// clock may be observed to run backward before allocation fails hard instead
// of stalling; zero selects a 5s default.
func NewAllocator(lease uint16, maxDrift time.Duration) *Allocator {
	if maxDrift <= 0 {
		maxDrift = 5 * time.Second
	}
	return &Allocator{
		lease:    lease & MaxLease,
		maxDrift: maxDrift,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// Next allocates the next id. On counter exhaustion within one millisecond it
// spins until the next millisecond. If the clock runs backward it stalls
// until time catches up, or returns ErrClockDrift when the gap exceeds the
// tolerance.
func (a *Allocator) Next() (ID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ms := a.now()
	if ms < a.lastMs {
		if a.lastMs-ms > a.maxDrift.Milliseconds() {
			return 0, ErrClockDrift
		}
		for ms < a.lastMs {
			time.Sleep(time.Millisecond)
			ms = a.now()
		}
	}

	if ms == a.lastMs {
		a.counter++
		if a.counter > counterMask {
			// Counter space for this millisecond is spent. Wait out the
			// remainder rather than reusing a timestamp.
			for ms <= a.lastMs {
				ms = a.now()
			}
			a.counter = 0
		}
	} else {
		a.counter = 0
	}
	a.lastMs = ms

	rel := uint64(ms - Epoch)
	id := ID(rel<<tsShift | uint64(a.lease)<<leaseShift | uint64(a.counter))
	return id, nil
}

// ABOUTME: Worker identity used for announcement and naming
// ABOUTME: Random 32-bit id, ephemeral port, and hex instance names
package identity

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	// MinPort is the lowest announced port
	MinPort = 40000
	// MaxPort is the highest announced port
	MaxPort = 60000
)

// Identity is fixed for the lifetime of a worker
type Identity struct {
	ID   uint32
	Type string
	Port uint16
}

// Option overrides a randomly chosen field
type Option func(*Identity)

// WithID pins the worker id
func WithID(id uint32) Option {
	return func(i *Identity) {
		i.ID = id
	}
}

// WithPort pins the announced port
func WithPort(port uint16) Option {
	return func(i *Identity) {
		i.Port = port
	}
}

// New creates an identity with a random id and a port in [MinPort, MaxPort]
func New(capabilityType string, opts ...Option) Identity {
	ident := Identity{
		ID:   randomID(),
		Type: capabilityType,
		Port: randomPort(),
	}
	for _, opt := range opts {
		opt(&ident)
	}
	return ident
}

// InstanceName is the announced instance name: the id in hex
func (i Identity) InstanceName() string {
	return FormatID(i.ID)
}

func (i Identity) String() string {
	return fmt.Sprintf("%s (type=%s, port=%d)", i.InstanceName(), i.Type, i.Port)
}

// FormatID renders an id the way instance names carry it
func FormatID(id uint32) string {
	return fmt.Sprintf("0x%x", id)
}

// ParseID extracts a peer id from an instance name.
// Only the first DNS label is considered; the low 32 bits of its hex value are kept.
func ParseID(name string) (uint32, error) {
	label := name
	if i := strings.IndexByte(label, '.'); i >= 0 {
		label = label[:i]
	}
	label = strings.TrimSuffix(label, "L")
	label = strings.TrimPrefix(strings.TrimPrefix(label, "0x"), "0X")
	if label == "" {
		return 0, fmt.Errorf("instance name %q carries no id", name)
	}

	v, err := strconv.ParseUint(label, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("instance name %q: %w", name, err)
	}
	return uint32(v), nil
}

// randomID takes 32 bits from a version 4 UUID; the first four bytes are all random
func randomID() uint32 {
	u := uuid.New()
	return binary.BigEndian.Uint32(u[:4])
}

func randomPort() uint16 {
	return uint16(MinPort + rand.IntN(MaxPort-MinPort+1))
}

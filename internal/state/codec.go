package state

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"git.sr.ht/~sircmpwn/go-bare"
)

// DiscriminatorSize is the length of the type tag that prefixes record data.
const DiscriminatorSize = 8

// Encoded sizes, discriminator included. PreAuthorizationSpace is the size of
// the largest variant (Recurring with NumCycles set).
const (
	DelegateSpace         = DiscriminatorSize + 32 + 1
	PreAuthorizationSpace = DiscriminatorSize + 1 + 1 + 32 + 32 + 8 + 1 + (5*8 + 1 + 8 + 1)
)

// Deposit parameters: bytes are charged per year of storage and a record must
// prepay ExemptionYears to be held indefinitely.
const (
	AccountOverhead     = 128
	LamportsPerByteYear = 3480
	ExemptionYears      = 2
)

var (
	// ErrDiscriminatorMismatch is returned when record data carries a
	// different type tag than the one being decoded.
	ErrDiscriminatorMismatch = errors.New("account discriminator mismatch")

	// ErrUnknownVariant is returned for a nil or foreign Variant.
	ErrUnknownVariant = errors.New("unknown pre-authorization variant")
)

var (
	delegateDiscriminator         = discriminator("SmartDelegate")
	preAuthorizationDiscriminator = discriminator("PreAuthorization")
)

func discriminator(name string) [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [DiscriminatorSize]byte
	copy(d[:], sum[:DiscriminatorSize])
	return d
}

// Deposit returns the storage deposit for a record of space bytes.
func Deposit(space int) uint64 {
	return uint64(AccountOverhead+space) * LamportsPerByteYear * ExemptionYears
}

// EncodeDelegate serialises d.
func EncodeDelegate(d Delegate) ([]byte, error) {
	return encode(delegateDiscriminator, &d)
}

// DecodeDelegate parses data produced by EncodeDelegate.
func DecodeDelegate(data []byte) (Delegate, error) {
	var d Delegate
	if err := decode(delegateDiscriminator, data, &d); err != nil {
		return Delegate{}, fmt.Errorf("decode delegate: %w", err)
	}
	return d, nil
}

// EncodePreAuthorization serialises p.
func EncodePreAuthorization(p PreAuthorization) ([]byte, error) {
	if p.Variant == nil {
		return nil, fmt.Errorf("encode pre-authorization: %w", ErrUnknownVariant)
	}
	return encode(preAuthorizationDiscriminator, &p)
}

// DecodePreAuthorization parses data produced by EncodePreAuthorization.
func DecodePreAuthorization(data []byte) (PreAuthorization, error) {
	var p PreAuthorization
	if err := decode(preAuthorizationDiscriminator, data, &p); err != nil {
		return PreAuthorization{}, fmt.Errorf("decode pre-authorization: %w", err)
	}
	// The union decoder allocates members, so the variant comes back as a
	// pointer. Everything else in the module works on values.
	switch v := p.Variant.(type) {
	case *OneTime:
		if v != nil {
			p.Variant = *v
		}
	case *Recurring:
		if v != nil {
			p.Variant = *v
		}
	}
	switch p.Variant.(type) {
	case OneTime, Recurring:
		return p, nil
	default:
		return PreAuthorization{}, fmt.Errorf("decode pre-authorization: %w", ErrUnknownVariant)
	}
}

func encode(disc [DiscriminatorSize]byte, v any) ([]byte, error) {
	body, err := bare.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	out := make([]byte, 0, DiscriminatorSize+len(body))
	out = append(out, disc[:]...)
	return append(out, body...), nil
}

func decode(disc [DiscriminatorSize]byte, data []byte, v any) error {
	if len(data) < DiscriminatorSize || !bytes.Equal(data[:DiscriminatorSize], disc[:]) {
		return ErrDiscriminatorMismatch
	}
	return bare.Unmarshal(data[DiscriminatorSize:], v)
}

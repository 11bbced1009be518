package models

import (
	"encoding/json"
	"fmt"
)

// SignatureSlot names one of the four signature positions on a disclosure.
type SignatureSlot string

const (
	SlotSeller1 SignatureSlot = "seller1"
	SlotSeller2 SignatureSlot = "seller2"
	SlotBuyer1  SignatureSlot = "buyer1"
	SlotBuyer2  SignatureSlot = "buyer2"
)

// AllSignatureSlots lists the slots in column order.
var AllSignatureSlots = []SignatureSlot{SlotSeller1, SlotSeller2, SlotBuyer1, SlotBuyer2}

// ParseSignatureSlot converts a slot name into a SignatureSlot.
func ParseSignatureSlot(name string) (SignatureSlot, error) {
	for _, slot := range AllSignatureSlots {
		if string(slot) == name {
			return slot, nil
		}
	}
	return "", fmt.Errorf("unknown signature slot %q", name)
}

// IsSeller reports whether the slot belongs to the seller side.
func (s SignatureSlot) IsSeller() bool {
	return s == SlotSeller1 || s == SlotSeller2
}

// IsBuyer reports whether the slot belongs to the buyer side.
func (s SignatureSlot) IsBuyer() bool {
	return s == SlotBuyer1 || s == SlotBuyer2
}

// Column returns the database column holding the slot's signature blob.
func (s SignatureSlot) Column() string {
	return string(s) + "_signature"
}

// Signatures holds the opaque signature blobs of a disclosure. A nil blob is an
// unsigned slot.
type Signatures struct {
	Seller1 json.RawMessage `json:"seller1,omitempty"`
	Seller2 json.RawMessage `json:"seller2,omitempty"`
	Buyer1  json.RawMessage `json:"buyer1,omitempty"`
	Buyer2  json.RawMessage `json:"buyer2,omitempty"`
}

// Get returns the blob stored in a slot.
func (s *Signatures) Get(slot SignatureSlot) json.RawMessage {
	switch slot {
	case SlotSeller1:
		return s.Seller1
	case SlotSeller2:
		return s.Seller2
	case SlotBuyer1:
		return s.Buyer1
	case SlotBuyer2:
		return s.Buyer2
	}
	return nil
}

// Set stores a blob in a slot. Unknown slots are ignored.
func (s *Signatures) Set(slot SignatureSlot, blob json.RawMessage) {
	switch slot {
	case SlotSeller1:
		s.Seller1 = blob
	case SlotSeller2:
		s.Seller2 = blob
	case SlotBuyer1:
		s.Buyer1 = blob
	case SlotBuyer2:
		s.Buyer2 = blob
	}
}

// Filled reports whether a slot holds a signature.
func (s *Signatures) Filled(slot SignatureSlot) bool {
	return len(s.Get(slot)) > 0
}

// Clear removes every signature.
func (s *Signatures) Clear() {
	*s = Signatures{}
}

// Clone returns a deep copy of the signatures.
func (s Signatures) Clone() Signatures {
	return Signatures{
		Seller1: cloneRaw(s.Seller1),
		Seller2: cloneRaw(s.Seller2),
		Buyer1:  cloneRaw(s.Buyer1),
		Buyer2:  cloneRaw(s.Buyer2),
	}
}

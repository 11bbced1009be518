package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormType_Valid(t *testing.T) {
	assert.True(t, FormTypeDisclosure.Valid())
	assert.True(t, FormTypeChecklist.Valid())
	assert.False(t, FormType("lease").Valid())
}

func TestStatus_Predicates(t *testing.T) {
	tests := []struct {
		status Status
		empty  bool
		final  bool
	}{
		{StatusDraft, true, false},
		{StatusNotStarted, true, false},
		{StatusInProgress, false, false},
		{StatusCompleted, false, true},
		{StatusSigned, false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.empty, tt.status.IsEmptyState())
			assert.Equal(t, tt.final, tt.status.IsFinal())
		})
	}
}

func TestFormDocument_Sections(t *testing.T) {
	doc := &FormDocument{}
	assert.Nil(t, doc.Section("notes"))

	doc.SetSection("notes", json.RawMessage(`"call agent"`))
	assert.JSONEq(t, `"call agent"`, string(doc.Section("notes")))

	doc.SetSection("notes", nil)
	assert.Nil(t, doc.Section("notes"))
}

func TestFormDocument_Ownership(t *testing.T) {
	buyer := "buyer-1"
	now := time.Now()
	doc := &FormDocument{SellerID: "seller-1", SharedWith: &buyer}

	assert.True(t, doc.IsOwnedBy("seller-1"))
	assert.False(t, doc.IsOwnedBy(""))
	assert.False(t, doc.IsOwnedBy("seller-2"))

	assert.False(t, doc.IsSharedWith(buyer), "sharing needs a shared timestamp")
	doc.SharedAt = &now
	assert.True(t, doc.IsSharedWith(buyer))
	assert.False(t, doc.IsSharedWith("buyer-2"))
}

func TestFormDocument_CloneIsDeep(t *testing.T) {
	property := "prop-1"
	saved := time.Now()
	doc := &FormDocument{
		ID:             "doc-1",
		PropertyID:     &property,
		Sections:       map[string]json.RawMessage{"alpha": json.RawMessage(`{"a":1}`)},
		Signatures:     Signatures{Seller1: json.RawMessage(`"sig"`)},
		LastAutoSaveAt: &saved,
	}

	c := doc.Clone()
	require.NotNil(t, c)
	c.Sections["alpha"][2] = 'b'
	c.Sections["beta"] = json.RawMessage(`true`)
	*c.PropertyID = "prop-2"
	c.Signatures.Seller1[1] = 'x'
	*c.LastAutoSaveAt = saved.Add(time.Hour)

	assert.JSONEq(t, `{"a":1}`, string(doc.Sections["alpha"]))
	assert.NotContains(t, doc.Sections, "beta")
	assert.Equal(t, "prop-1", *doc.PropertyID)
	assert.Equal(t, `"sig"`, string(doc.Signatures.Seller1))
	assert.Equal(t, saved, *doc.LastAutoSaveAt)

	var nilDoc *FormDocument
	assert.Nil(t, nilDoc.Clone())
}

func TestSignatureSlots(t *testing.T) {
	slot, err := ParseSignatureSlot("buyer2")
	require.NoError(t, err)
	assert.Equal(t, SlotBuyer2, slot)
	assert.True(t, slot.IsBuyer())
	assert.False(t, slot.IsSeller())
	assert.Equal(t, "buyer2_signature", slot.Column())

	_, err = ParseSignatureSlot("witness")
	assert.Error(t, err)

	var sigs Signatures
	assert.False(t, sigs.Filled(SlotSeller1))
	sigs.Set(SlotSeller1, json.RawMessage(`{"name":"Pat"}`))
	assert.True(t, sigs.Filled(SlotSeller1))
	assert.Nil(t, sigs.Get(SignatureSlot("witness")))

	sigs.Clear()
	for _, s := range AllSignatureSlots {
		assert.False(t, sigs.Filled(s))
	}
}

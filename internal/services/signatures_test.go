package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/moveit/internal/analytics"
	"github.com/stwalsh4118/moveit/internal/auth"
	"github.com/stwalsh4118/moveit/internal/models"
)

func TestAttachSignature_SellerSignsCompletedDisclosure(t *testing.T) {
	svc, sink := setupTestService(t)
	ctx := context.Background()
	doc := completedDisclosure(t, svc)

	signed, err := svc.AttachSignature(ctx, models.FormTypeDisclosure, doc.ID, "seller1", raw(` {"name":"Pat Seller","at":"2026-05-04"} `), seller)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSigned, signed.Status)
	assert.JSONEq(t, `{"name":"Pat Seller","at":"2026-05-04"}`, string(signed.Signatures.Get(models.SlotSeller1)))

	// The optional second seller slot can still be filled.
	signed, err = svc.AttachSignature(ctx, models.FormTypeDisclosure, doc.ID, "seller2", raw(`"P. Seller"`), seller)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSigned, signed.Status)
	assert.True(t, signed.Signatures.Filled(models.SlotSeller2))

	last := sink.events[len(sink.events)-1]
	assert.Equal(t, analytics.EventSignedSeller, last.Type)
	assert.Equal(t, "seller2", last.Slot)
}

func TestAttachSignature_SecondSellerAloneDoesNotSign(t *testing.T) {
	svc, _ := setupTestService(t)
	doc := completedDisclosure(t, svc)

	result, err := svc.AttachSignature(context.Background(), models.FormTypeDisclosure, doc.ID, "seller2", raw(`"co-owner"`), seller)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, result.Status)
}

func TestAttachSignature_BeforeCompletion(t *testing.T) {
	svc, _ := setupTestService(t)
	doc := newDisclosure(t, svc)

	_, err := svc.AttachSignature(context.Background(), models.FormTypeDisclosure, doc.ID, "seller1", raw(`"Pat"`), seller)
	var incomplete *IncompleteFormError
	require.ErrorAs(t, err, &incomplete)
	assert.Len(t, incomplete.MissingSections, 7)
}

func TestAttachSignature_Rejections(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()
	doc := completedDisclosure(t, svc)

	checklist, err := svc.GetOrCreate(ctx, models.FormTypeChecklist, strPtr("prop-1"), seller.ID, seller)
	require.NoError(t, err)

	tests := []struct {
		name     string
		formType models.FormType
		id       string
		slot     string
		blob     string
		actor    auth.Actor
		wantErr  error
	}{
		{"unknown slot", models.FormTypeDisclosure, doc.ID, "notary", `"x"`, seller, ErrInvalidSlot},
		{"checklist has no slots", models.FormTypeChecklist, checklist.ID, "seller1", `"x"`, seller, ErrInvalidSlot},
		{"empty blob", models.FormTypeDisclosure, doc.ID, "seller1", ``, seller, ErrInvalidInput},
		{"null blob", models.FormTypeDisclosure, doc.ID, "seller1", `null`, seller, ErrInvalidInput},
		{"invalid json", models.FormTypeDisclosure, doc.ID, "seller1", `{"name":`, seller, ErrInvalidInput},
		{"other seller", models.FormTypeDisclosure, doc.ID, "seller1", `"x"`, other, ErrNotAuthorized},
		{"buyer on seller slot", models.FormTypeDisclosure, doc.ID, "seller1", `"x"`, buyer, ErrNotAuthorized},
		{"seller on buyer slot", models.FormTypeDisclosure, doc.ID, "buyer1", `"x"`, seller, ErrNotAuthorized},
		{"buyer before sharing", models.FormTypeDisclosure, doc.ID, "buyer1", `"x"`, buyer, ErrNotAuthorized},
		{"unknown document", models.FormTypeDisclosure, "0b7c2d8e-7f43-4a55-9d0a-3c1e2f4b5a6d", "seller1", `"x"`, seller, ErrDocumentNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AttachSignature(ctx, tt.formType, tt.id, tt.slot, raw(tt.blob), tt.actor)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBuyerSigningFlow(t *testing.T) {
	svc, sink := setupTestService(t)
	ctx := context.Background()
	doc := completedDisclosure(t, svc)

	_, err := svc.AttachSignature(ctx, models.FormTypeDisclosure, doc.ID, "seller1", raw(`"Pat"`), seller)
	require.NoError(t, err)

	_, err = svc.ShareDocument(ctx, models.FormTypeDisclosure, doc.ID, buyer.ID, seller)
	require.NoError(t, err)

	shared, err := svc.GetDocument(ctx, models.FormTypeDisclosure, doc.ID, buyer)
	require.NoError(t, err)
	require.NotNil(t, shared.SharedAt)
	assert.Nil(t, shared.AcknowledgedAt)

	// Shared but not yet acknowledged.
	_, err = svc.AttachSignature(ctx, models.FormTypeDisclosure, doc.ID, "buyer1", raw(`"Bo Buyer"`), buyer)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	stranger := auth.Actor{ID: "buyer-2", Role: auth.RoleBuyer}
	_, err = svc.AcknowledgeDocument(ctx, models.FormTypeDisclosure, doc.ID, stranger)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	acked, err := svc.AcknowledgeDocument(ctx, models.FormTypeDisclosure, doc.ID, buyer)
	require.NoError(t, err)
	require.NotNil(t, acked.AcknowledgedAt)

	again, err := svc.AcknowledgeDocument(ctx, models.FormTypeDisclosure, doc.ID, buyer)
	require.NoError(t, err)
	assert.Equal(t, acked.Version, again.Version)

	signed, err := svc.AttachSignature(ctx, models.FormTypeDisclosure, doc.ID, "buyer1", raw(`"Bo Buyer"`), buyer)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSigned, signed.Status)
	assert.True(t, signed.Signatures.Filled(models.SlotBuyer1))
	assert.True(t, signed.Signatures.Filled(models.SlotSeller1))

	_, err = svc.AttachSignature(ctx, models.FormTypeDisclosure, doc.ID, "buyer1", raw(`"Bo"`), stranger)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	types := sink.types()
	assert.Contains(t, types, analytics.EventShared)
	assert.Contains(t, types, analytics.EventAcknowledged)
	assert.Equal(t, analytics.EventSignedBuyer, types[len(types)-1])
}

func TestShareDocument(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()
	draft := newDisclosure(t, svc)

	_, err := svc.ShareDocument(ctx, models.FormTypeDisclosure, draft.ID, buyer.ID, seller)
	assert.ErrorIs(t, err, ErrIncompleteForm)

	checklist, err := svc.GetOrCreate(ctx, models.FormTypeChecklist, nil, seller.ID, seller)
	require.NoError(t, err)
	_, err = svc.ShareDocument(ctx, models.FormTypeChecklist, checklist.ID, buyer.ID, seller)
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestShareDocument_ChangingBuyerClearsBuyerState(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()
	doc := completedDisclosure(t, svc)

	_, err := svc.ShareDocument(ctx, models.FormTypeDisclosure, doc.ID, "  ", seller)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.ShareDocument(ctx, models.FormTypeDisclosure, doc.ID, seller.ID, seller)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.ShareDocument(ctx, models.FormTypeDisclosure, doc.ID, buyer.ID, other)
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = svc.ShareDocument(ctx, models.FormTypeDisclosure, doc.ID, buyer.ID, seller)
	require.NoError(t, err)
	_, err = svc.AcknowledgeDocument(ctx, models.FormTypeDisclosure, doc.ID, buyer)
	require.NoError(t, err)
	_, err = svc.AttachSignature(ctx, models.FormTypeDisclosure, doc.ID, "buyer1", raw(`"Bo"`), buyer)
	require.NoError(t, err)

	next := auth.Actor{ID: "buyer-2", Role: auth.RoleBuyer}
	reshared, err := svc.ShareDocument(ctx, models.FormTypeDisclosure, doc.ID, next.ID, seller)
	require.NoError(t, err)
	require.NotNil(t, reshared.SharedWith)
	assert.Equal(t, next.ID, *reshared.SharedWith)
	assert.Nil(t, reshared.AcknowledgedAt)
	assert.False(t, reshared.Signatures.Filled(models.SlotBuyer1))

	_, err = svc.GetDocument(ctx, models.FormTypeDisclosure, doc.ID, buyer)
	assert.ErrorIs(t, err, ErrNotAuthorized)
	_, err = svc.GetDocument(ctx, models.FormTypeDisclosure, doc.ID, next)
	assert.NoError(t, err)
}

func TestAcknowledgeDocument_ChecklistUnsupported(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	checklist, err := svc.GetOrCreate(ctx, models.FormTypeChecklist, nil, seller.ID, seller)
	require.NoError(t, err)

	_, err = svc.AcknowledgeDocument(ctx, models.FormTypeChecklist, checklist.ID, buyer)
	assert.ErrorIs(t, err, ErrUnsupported)
}

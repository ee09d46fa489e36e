package services

import (
	"context"
	"time"

	"github.com/stwalsh4118/verrify/internal/logger"
	"github.com/stwalsh4118/verrify/internal/models"
	"github.com/stwalsh4118/verrify/internal/notify"
	"github.com/stwalsh4118/verrify/internal/repository"
)

// eventSink turns committed state changes into notifications.
type eventSink struct {
	users      repository.UserRepository
	parcels    repository.ParcelRepository
	dispatcher *notify.Dispatcher
	log        *logger.Logger
}

func newEventSink(store repository.Store, dispatcher *notify.Dispatcher, log *logger.Logger) eventSink {
	return eventSink{users: store.Users(), parcels: store.Parcels(), dispatcher: dispatcher, log: log}
}

// parcelName looks up the committed name of a parcel for a notification.
// A failed lookup leaves the name empty rather than dropping the event.
func (e eventSink) parcelName(ctx context.Context, parcelID string) string {
	p, err := e.parcels.Get(ctx, parcelID)
	if err != nil {
		e.log.Warn("Failed to load parcel for notification", map[string]interface{}{
			"parcel_id": parcelID,
			"error":     err.Error(),
		})
		return ""
	}
	if p == nil {
		return ""
	}
	return p.Name
}

// recipient resolves a user's contact details. A missing contact still
// yields a recipient so the mailer can decide what to do with it.
func (e eventSink) recipient(ctx context.Context, userID string) notify.Recipient {
	r := notify.Recipient{UserID: userID}
	u, err := e.users.Get(ctx, userID)
	if err != nil {
		e.log.Warn("Failed to load notification recipient", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		return r
	}
	if u != nil {
		r.Email = u.Email
		r.Name = u.FirstName
	}
	return r
}

// stageChanged announces that v moved to its current stage.
func (e eventSink) stageChanged(ctx context.Context, v *models.VerificationRequest, parcelName, comments string, attachments []string) {
	ev := notify.Event{
		Type:           notify.VerificationPipelineUpdate,
		Recipient:      e.recipient(ctx, v.UserID),
		VerificationID: v.ID,
		ParcelName:     parcelName,
		Stage:          string(v.Stage),
		Comments:       comments,
		Attachments:    attachments,
		OccurredAt:     time.Now().UTC(),
	}
	if v.CaseID != nil {
		ev.CaseID = *v.CaseID
	}
	e.dispatcher.Dispatch(ev)
}

// paymentReceived sends the receipt for a settled transaction.
func (e eventSink) paymentReceived(ctx context.Context, txn models.Transaction, order models.Order, caseID string) {
	e.dispatcher.Dispatch(notify.Event{
		Type:           notify.PaymentReceipt,
		Recipient:      e.recipient(ctx, order.UserID),
		VerificationID: order.VerificationID,
		CaseID:         caseID,
		Reference:      txn.Reference,
		Amount:         txn.Amount.StringFixed(2),
		Currency:       order.Currency,
		OccurredAt:     time.Now().UTC(),
	})
}

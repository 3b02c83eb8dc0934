package amqp

import (
	"context"
	"log/slog"

	"stockadmin/internal/core"
	"stockadmin/internal/store"
)

// Publisher is the publishing half of Client.
type Publisher interface {
	PublishUserChange(ctx context.Context, msg *UserChangeMessage) error
}

// ChangeRecorder counts change events by direction.
type ChangeRecorder interface {
	ChangeEvent(direction string, err error)
}

// PublishingUpdater announces every committed user update on the broker.
// A failed publish is logged and counted; the update itself still succeeds.
type PublishingUpdater struct {
	next     store.Updater
	pub      Publisher
	source   string
	recorder ChangeRecorder
}

var _ store.Updater = (*PublishingUpdater)(nil)

func NewPublishingUpdater(next store.Updater, pub Publisher, source string, recorder ChangeRecorder) *PublishingUpdater {
	return &PublishingUpdater{next: next, pub: pub, source: source, recorder: recorder}
}

func (u *PublishingUpdater) Update(ctx context.Context, collection, id string, patch core.Patch) error {
	if err := u.next.Update(ctx, collection, id, patch); err != nil {
		return err
	}
	if collection != core.CollectionUsers {
		return nil
	}

	msg := NewUserChangeMessage(id, patch.Fields(), u.source)
	err := u.pub.PublishUserChange(ctx, msg)
	if u.recorder != nil {
		u.recorder.ChangeEvent("out", err)
	}
	if err != nil {
		slog.WarnContext(ctx, "Failed to publish user change",
			"error", err,
			"user_id", id,
			"fields", msg.Fields)
	}
	return nil
}

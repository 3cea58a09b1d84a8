package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/documentrouting/internal/models"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// EventsCollection is the per-organization subcollection status updates are written to.
const EventsCollection = "documentEvents"

// Notifier is satisfied by *Hub and *FirestoreNotifier.
type Notifier interface {
	NotifyOrganization(ctx context.Context, organizationID string, update models.StatusUpdate) error
}

// FirestoreNotifier records updates under
// {organizations}/{organizationId}/documentEvents, where the realtime hub
// and any Firestore listener in the web client pick them up.
type FirestoreNotifier struct {
	client        *firestore.Client
	organizations string
}

// NewFirestoreNotifier writes below the given organizations collection.
func NewFirestoreNotifier(client *firestore.Client, organizations string) *FirestoreNotifier {
	return &FirestoreNotifier{client: client, organizations: organizations}
}

func (n *FirestoreNotifier) NotifyOrganization(ctx context.Context, organizationID string, update models.StatusUpdate) error {
	if organizationID == "" {
		return fmt.Errorf("%w: cannot notify an empty organization", models.ErrMissingOrganization)
	}
	_, _, err := n.client.Collection(n.organizations).Doc(organizationID).Collection(EventsCollection).Add(ctx, update)
	if err != nil {
		return fmt.Errorf("failed to record status update for organization %s: %w", organizationID, err)
	}
	return nil
}

// RelayEvents forwards status updates recorded after it starts to target
// until ctx is cancelled. Undecodable events are logged and skipped.
func RelayEvents(ctx context.Context, client *firestore.Client, target Notifier) error {
	start := time.Now()
	logCtx := slog.With("collectionGroup", EventsCollection)
	logCtx.Info("Relaying document events.", "since", start)

	it := client.CollectionGroup(EventsCollection).Where("createdAt", ">", start).Snapshots(ctx)
	defer it.Stop()

	for {
		snap, err := it.Next()
		if err != nil {
			if ctx.Err() != nil || status.Code(err) == codes.Canceled || errors.Is(err, context.Canceled) {
				logCtx.Info("Event relay stopped.")
				return nil
			}
			return fmt.Errorf("document event listener failed: %w", err)
		}
		for _, change := range snap.Changes {
			if change.Kind != firestore.DocumentAdded {
				continue
			}
			var update models.StatusUpdate
			if err := change.Doc.DataTo(&update); err != nil {
				logCtx.Warn("Skipping undecodable document event.", "eventId", change.Doc.Ref.ID, "error", err)
				continue
			}
			if err := target.NotifyOrganization(ctx, update.OrganizationID, update); err != nil {
				logCtx.Warn("Failed to relay document event.", "eventId", change.Doc.Ref.ID, "error", err)
			}
		}
	}
}

package admin

import (
	"context"
	"fmt"

	"github.com/iliyamo/event-seat-bot/internal/chat"
	"github.com/iliyamo/event-seat-bot/internal/inventory"
)

// Alerter posts inventory alerts to the staff chat.
type Alerter struct {
	staff  string
	sender chat.Sender
}

func NewAlerter(staffSession string, sender chat.Sender) *Alerter {
	return &Alerter{staff: staffSession, sender: sender}
}

// Alert implements inventory.Alerter.  Delivery errors are dropped; the
// same alert also goes to the alert queue.
func (a *Alerter) Alert(ctx context.Context, al inventory.Alert) {
	_, _ = a.sender.Send(ctx, chat.Outbound{SessionID: a.staff, Text: AlertText(al)})
}

// AlertText renders an alert for staff.
func AlertText(al inventory.Alert) string {
	c := al.Counters
	switch al.Kind {
	case inventory.AlertDrift:
		return fmt.Sprintf("⚠️ The sheet for schedule %d is behind the database (%s).\n"+
			"Database now: child %d free / %d pending, adult %d free / %d pending.\n"+
			"It will be repaired automatically; error: %s",
			al.ScheduleID, al.Delta, c.ChildFree, c.ChildPending, c.AdultFree, c.AdultPending, al.Error)
	case inventory.AlertStoreFailure:
		return fmt.Sprintf("⛔ Seat change for schedule %d (%s) could not be saved: %s\nPlease check the counters by hand.",
			al.ScheduleID, al.Delta, al.Error)
	}
	return fmt.Sprintf("Inventory alert %s for schedule %d: %s", al.Kind, al.ScheduleID, al.Error)
}

package alerts

import (
	"context"
	"strings"

	"github.com/mr-karan/safetyvision/internal/config"
	"github.com/mr-karan/safetyvision/pkg/models"
)

// AlertNotification is one (alert, recipient, channel) dispatch handed to a sender.
type AlertNotification struct {
	Alert       *models.Alert
	RecipientID string
	Channel     models.ChannelType
	Contact     Contact
}

// AlertSender abstracts the delivery mechanism for one channel type.
// Send must honour ctx and return an error on failure; it is never retried.
type AlertSender interface {
	Channel() models.ChannelType
	Send(ctx context.Context, notification AlertNotification) error
}

// Contact holds the addresses a recipient can be reached on.
type Contact struct {
	Email string
	Phone string
}

// Directory resolves recipient ids to contacts.
type Directory map[string]Contact

// NewDirectory builds a directory from the configured recipients.
func NewDirectory(recipients map[string]config.RecipientConfig) Directory {
	dir := make(Directory, len(recipients))
	for id, r := range recipients {
		dir[id] = Contact{
			Email: strings.TrimSpace(r.Email),
			Phone: strings.TrimSpace(r.Phone),
		}
	}
	return dir
}

// Lookup returns the contact for id. Unknown ids yield an empty contact.
func (d Directory) Lookup(id string) Contact {
	if d == nil {
		return Contact{}
	}
	return d[id]
}

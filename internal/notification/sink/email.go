package sink

import (
	"context"
	"strings"

	"github.com/smallbiznis/stockopname/internal/notification/domain"
	"github.com/smallbiznis/stockopname/internal/providers/email"
	staffdomain "github.com/smallbiznis/stockopname/internal/staff/domain"
)

var emailTemplates = map[domain.EventType]string{
	domain.EventSessionCompleted: "session_completed",
	domain.EventSessionReminder:  "session_reminder",
	domain.EventScheduleReminder: "schedule_reminder",
}

// Email sends one message addressed to every recipient with an address.
type Email struct {
	provider email.Provider
	staff    staffdomain.Directory
	appURL   string
}

func NewEmail(provider email.Provider, staff staffdomain.Directory, appURL string) *Email {
	return &Email{provider: provider, staff: staff, appURL: strings.TrimRight(appURL, "/")}
}

func (s *Email) Name() string { return "email" }

func (s *Email) Deliver(ctx context.Context, event domain.Event) error {
	name, ok := emailTemplates[event.Type]
	if !ok {
		return nil
	}
	members, err := s.staff.FindMany(ctx, event.Recipients)
	if err != nil {
		return err
	}
	to := make([]string, 0, len(members))
	for _, m := range members {
		if m.IsActive && strings.TrimSpace(m.Email) != "" {
			to = append(to, m.Email)
		}
	}
	if len(to) == 0 {
		return nil
	}

	data := make(map[string]any, len(event.Data)+4)
	for k, v := range event.Data {
		data[k] = v
	}
	data["subject"] = event.Title
	data["title"] = event.Title
	data["body"] = event.Body
	if event.Link != "" {
		data["link"] = s.appURL + event.Link
	}
	return s.provider.SendTemplate(ctx, to, name, data)
}

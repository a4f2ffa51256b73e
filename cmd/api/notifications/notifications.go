package notifications

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/library-service/cmd/api/library"
)

const (
	topicLoanCreated  = "/Loan_created"
	topicLoanReturned = "/Loan_returned"
)

// Ntfy publishes loan events to ntfy topics under baseURL.
type Ntfy struct {
	baseURL string
	enabled bool
	client  *http.Client
}

var _ library.Notifier = (*Ntfy)(nil)

func NewNtfy(enableNotifications bool, notificationsBaseURL string, client *http.Client) *Ntfy {
	if client == nil {
		client = &http.Client{}
	}
	return &Ntfy{
		baseURL: strings.TrimRight(notificationsBaseURL, "/"),
		enabled: enableNotifications,
		client:  client,
	}
}

func (ntf *Ntfy) LoanCreated(ctx context.Context, l library.Loan, b library.Book) error {
	message := fmt.Sprintf("Loan created:\nUser: %d\nBook: %s\nDue: %s\nCopies left: %d",
		l.UserID, b.Title, l.DueAt.Format(time.DateOnly), b.AvailableCount)
	return ntf.publish(ctx, topicLoanCreated, message)
}

func (ntf *Ntfy) LoanReturned(ctx context.Context, l library.Loan, b library.Book) error {
	message := fmt.Sprintf("Loan returned:\nUser: %d\nBook: %s\nCopies left: %d",
		l.UserID, b.Title, b.AvailableCount)
	return ntf.publish(ctx, topicLoanReturned, message)
}

/* Posts message to the topic. A disabled notifier accepts and drops everything. */
func (ntf *Ntfy) publish(ctx context.Context, topic, message string) error {
	if !ntf.enabled {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ntf.baseURL+topic, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("delivering message to topic (%s%s): %w", ntf.baseURL, topic, err)
	}

	resp, err := ntf.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivering message to topic (%s%s): %w", ntf.baseURL, topic, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("delivering message to topic (%s%s): unexpected status %s", ntf.baseURL, topic, resp.Status)
	}
	return nil
}

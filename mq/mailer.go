package mq

import "log"

// Mailer delivers one message to one recipient. SMTP wiring lives outside
// this repository; the queue consumer only depends on this contract.
type Mailer interface {
	Send(recipient, subject, body string) error
}

// LogMailer is the default Mailer: it logs instead of sending. Deployments
// plug a real implementation into the dispatcher at startup.
type LogMailer struct{}

// Send logs the outbound message.
func (LogMailer) Send(recipient, subject, body string) error {
	log.Printf("mail to %s: %s", recipient, subject)
	return nil
}

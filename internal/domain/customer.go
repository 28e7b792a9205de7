package domain

// CustomerRouting is the channel-routing view of a customer, resolved at
// attempt time so plan or domain-verification changes made after submission
// are honored.
type CustomerRouting struct {
	CustomerID            string
	Plan                  string
	SendingDomainVerified bool
	MailAPIKey            *string
	RateLimitPerSec       int
}
